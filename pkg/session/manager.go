package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/harun/freeagent/internal/observability"
	"github.com/harun/freeagent/internal/tracing"
	"github.com/harun/freeagent/pkg/provider"
)

const fileExt = ".jsonl"

// Entry is one persisted line of a session file.
type Entry struct {
	SessionKey string           `json:"sessionKey"`
	Message    provider.Message `json:"message"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Info describes a stored session.
type Info struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionManager manages conversation persistence using JSONL format
type SessionManager struct {
	sessionsDir string
	writeLocks  map[string]*sync.Mutex
	locksMu     sync.Mutex
}

// New creates a new SessionManager
func New(sessionsDir string) (*SessionManager, error) {
	observability.EnsureRegistered()

	if sessionsDir == "" {
		return nil, errors.New("sessions directory is required")
	}
	if err := os.MkdirAll(sessionsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	sm := &SessionManager{
		sessionsDir: sessionsDir,
		writeLocks:  make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", sessionsDir).Msg("Session manager initialized")
	return sm, nil
}

// validateSessionKey validates the session key for security
func validateSessionKey(sessionKey string) error {
	if sessionKey == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(sessionKey, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(sessionKey, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.Contains(sessionKey, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

func (sm *SessionManager) sessionPath(sessionKey string) string {
	return filepath.Join(sm.sessionsDir, sessionKey+fileExt)
}

func (sm *SessionManager) writeLock(sessionKey string) *sync.Mutex {
	sm.locksMu.Lock()
	defer sm.locksMu.Unlock()

	if lock, exists := sm.writeLocks[sessionKey]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	sm.writeLocks[sessionKey] = lock
	return lock
}

func (sm *SessionManager) startSpan(ctx context.Context, op, sessionKey string) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, sessionKey)
	return tracing.StartSpan(ctx, "freeagent.session", "session."+op, attribute.String("session_key", sessionKey))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Append writes one message to the end of a session, creating it if needed.
func (sm *SessionManager) Append(ctx context.Context, sessionKey string, message provider.Message) error {
	ctx, span := sm.startSpan(ctx, "append", sessionKey)
	defer span.End()
	span.SetAttributes(attribute.String("role", string(message.Role)))

	start := time.Now()
	defer func() { observability.RecordSessionSave(time.Since(start)) }()

	if err := validateSessionKey(sessionKey); err != nil {
		return fail(span, err)
	}
	if message.Role == "" {
		return fail(span, fmt.Errorf("message role cannot be empty"))
	}
	if message.Content == "" && len(message.ToolCalls) == 0 {
		return fail(span, fmt.Errorf("message content cannot be empty"))
	}

	data, err := json.Marshal(Entry{SessionKey: sessionKey, Message: message, Timestamp: time.Now()})
	if err != nil {
		return fail(span, fmt.Errorf("failed to marshal message: %w", err))
	}

	lock := sm.writeLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(sm.sessionPath(sessionKey), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fail(span, fmt.Errorf("failed to open session file: %w", err))
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fail(span, fmt.Errorf("failed to write message: %w", err))
	}
	if err := file.Sync(); err != nil {
		return fail(span, fmt.Errorf("failed to sync file: %w", err))
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("role", string(message.Role)).
		Msg("Message appended")

	return nil
}

// Load returns the last limit messages of a session (all when limit <= 0).
// The window is advanced past leading non-user messages.
func (sm *SessionManager) Load(ctx context.Context, sessionKey string, limit int) ([]provider.Message, error) {
	ctx, span := sm.startSpan(ctx, "load", sessionKey)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	start := time.Now()
	defer func() { observability.RecordSessionLoad(time.Since(start)) }()

	if err := validateSessionKey(sessionKey); err != nil {
		return nil, fail(span, err)
	}

	file, err := os.Open(sm.sessionPath(sessionKey))
	if os.IsNotExist(err) {
		return []provider.Message{}, nil
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("failed to open session file: %w", err))
	}
	defer file.Close()

	messages := []provider.Message{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse line, skipping")
			continue
		}
		if entry.Message.Role == "" {
			logger.Warn().Int("line", lineNum).Msg("Invalid entry, skipping")
			continue
		}
		messages = append(messages, entry.Message)
	}

	if err := scanner.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("failed to read session file: %w", err))
	}

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	for len(messages) > 0 && messages[0].Role != provider.RoleUser {
		messages = messages[1:]
	}

	span.SetAttributes(attribute.Int("messages", len(messages)))
	logger.Debug().Int("messages", len(messages)).Msg("Session loaded")

	return messages, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (sm *SessionManager) Delete(ctx context.Context, sessionKey string) error {
	ctx, span := sm.startSpan(ctx, "delete", sessionKey)
	defer span.End()

	if err := validateSessionKey(sessionKey); err != nil {
		return fail(span, err)
	}

	lock := sm.writeLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(sm.sessionPath(sessionKey)); err != nil && !os.IsNotExist(err) {
		return fail(span, fmt.Errorf("failed to delete session file: %w", err))
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Info().Msg("Session deleted")
	return nil
}

// List returns stored sessions, most recently updated first.
func (sm *SessionManager) List() ([]Info, error) {
	entries, err := os.ReadDir(sm.sessionsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	sessions := []Info{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		sessions = append(sessions, Info{
			Key:       strings.TrimSuffix(entry.Name(), fileExt),
			Size:      info.Size(),
			UpdatedAt: info.ModTime(),
		})
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt) })
	return sessions, nil
}

// Prune deletes sessions not written to within olderThan and returns the
// removed keys.
func (sm *SessionManager) Prune(ctx context.Context, olderThan time.Duration) ([]string, error) {
	sessions, err := sm.List()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-olderThan)
	removed := []string{}
	for _, s := range sessions {
		if s.UpdatedAt.After(cutoff) {
			continue
		}
		if err := sm.Delete(ctx, s.Key); err != nil {
			log.Warn().Err(err).Str("session_key", s.Key).Msg("Failed to prune session")
			continue
		}
		removed = append(removed, s.Key)
	}

	if len(removed) > 0 {
		log.Info().Int("count", len(removed)).Dur("older_than", olderThan).Msg("Pruned idle sessions")
	}
	return removed, nil
}
