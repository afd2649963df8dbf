package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/harun/freeagent/internal/config"
	"github.com/harun/freeagent/internal/logger"
	"github.com/harun/freeagent/internal/observability"
	"github.com/harun/freeagent/internal/telegram"
	"github.com/harun/freeagent/internal/tracing"
	"github.com/harun/freeagent/pkg/agent"
	"github.com/harun/freeagent/pkg/commandqueue"
	"github.com/harun/freeagent/pkg/provider"
	"github.com/harun/freeagent/pkg/session"
	"github.com/harun/freeagent/pkg/skills"
	"github.com/harun/freeagent/pkg/store"
	"github.com/harun/freeagent/pkg/toolexecutor"
	"github.com/harun/freeagent/pkg/tools"
)

// Version is reported to the tracer provider. It is set by the CLI.
var Version = "dev"

const shutdownTimeout = 5 * time.Second

// Daemon represents the FreeAgent daemon service
type Daemon struct {
	config *config.Config
	logger zerolog.Logger

	// Core modules
	store        *store.Store
	sessionMgr   *session.SessionManager
	skillLib     *skills.Library
	skillWatcher *skills.Watcher
	toolExecutor *toolexecutor.ToolExecutor
	pool         *provider.Pool
	agentRunner  *agent.Runner
	queue        *commandqueue.CommandQueue

	// Telegram
	telegramBot     *telegram.Bot
	telegramHandler *telegram.Handler

	// Services
	scheduler     *cron.Cron
	metricsServer *http.Server

	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status describes a running daemon.
type Status struct {
	Running   bool          `json:"running"`
	StartTime time.Time     `json:"start_time,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Providers []string      `json:"providers"`
	Tools     int           `json:"tools"`
	Lanes     int           `json:"lanes"`
}

var newTelegramBot = func(cfg *config.TelegramConfig, log zerolog.Logger) (*telegram.Bot, error) {
	return telegram.New(cfg, log)
}

var newAdapter = func(cfg provider.Config, client *http.Client) (provider.Adapter, error) {
	return provider.New(cfg, client)
}

// New creates a new daemon instance. Nothing is started until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config: cfg,
		logger: log.GetZerolog().With().Str("component", "daemon").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}

	observability.EnsureRegistered()
	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry("freeagent", Version, cfg.Tracing.SampleRatio); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
		} else {
			d.tracingEnabled = true
			d.logger.Info().Float64("sample_ratio", cfg.Tracing.SampleRatio).Msg("Tracing initialized")
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		d.closeCore()
		cancel()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeTelegram(log); err != nil {
		d.closeCore()
		cancel()
		return nil, fmt.Errorf("failed to initialize telegram: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

// initializeCoreModules builds storage, tools, the provider pool and the
// agent runner in dependency order.
func (d *Daemon) initializeCoreModules() error {
	cfg := d.config

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "freeagent.db"))
	if err != nil {
		return err
	}
	d.store = st
	d.logger.Info().Str("path", st.Path()).Msg("Store opened")

	sessionMgr, err := session.New(filepath.Join(cfg.DataDir, "sessions"))
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	d.sessionMgr = sessionMgr
	d.logger.Info().Msg("Session manager initialized")

	d.skillLib = skills.NewLibrary(cfg.Agent.SkillsDir)
	if err := d.skillLib.Load(); err != nil {
		d.logger.Warn().Err(err).Str("dir", cfg.Agent.SkillsDir).Msg("Failed to load skills")
	} else {
		d.logger.Info().Int("skills", len(d.skillLib.Skills())).Msg("Skills loaded")
	}

	if err := d.initializeTools(); err != nil {
		return err
	}

	pool, err := d.buildPool()
	if err != nil {
		return err
	}
	d.pool = pool

	runnerLogger := d.logger.With().Str("component", "agent").Logger()
	runner, err := agent.NewRunner(agent.Config{
		Pool:         pool,
		Tools:        d.toolExecutor,
		History:      sessionMgr,
		Prompt:       agent.NewPromptBuilder(cfg.Agent.SystemPrompt, d.skillLib.Content, st),
		MaxTurns:     cfg.Agent.MaxTurns,
		HistoryLimit: cfg.Agent.HistoryLimit,
		WorkingDir:   cfg.Tools.System.WorkingDir,
		ToolTimeout:  seconds(cfg.Agent.ToolTimeout),
		Logger:       &runnerLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent runner: %w", err)
	}
	d.agentRunner = runner
	d.logger.Info().Int("max_turns", runner.MaxTurns()).Msg("Agent runner initialized")

	d.queue = commandqueue.New(commandqueue.Options{MaxPending: cfg.Agent.MaxPending})
	d.logger.Info().Int("max_pending", cfg.Agent.MaxPending).Msg("Command queue initialized")

	return nil
}

func (d *Daemon) initializeTools() error {
	cfg := d.config

	var features []string
	if cfg.Tools.System.Enabled {
		features = append(features, tools.FeatureSystem)
	}

	d.toolExecutor = toolexecutor.New(toolexecutor.Options{
		EnabledFeatures: features,
		DefaultTimeout:  seconds(cfg.Agent.ToolTimeout),
		MaxOutput:       cfg.Tools.MaxOutput,
	})

	err := tools.Register(d.toolExecutor, tools.Options{
		Store: d.store,
		Web: tools.WebOptions{
			SearchURL:  cfg.Tools.Web.SearchURL,
			UserAgent:  cfg.Tools.Web.UserAgent,
			FetchLimit: cfg.Tools.Web.FetchLimit,
		},
		System: tools.SystemOptions{
			WorkingDir:  cfg.Tools.System.WorkingDir,
			BashTimeout: seconds(cfg.Tools.System.BashTimeout),
		},
		Timezone: cfg.Agent.Timezone,
	})
	if err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	d.toolExecutor.Seal()

	if cfg.Tools.System.Enabled {
		d.logger.Warn().Str("working_dir", cfg.Tools.System.WorkingDir).Msg("System tools enabled, the bot can run shell commands")
	}
	return nil
}

// buildPool creates one adapter per configured provider, in priority order.
func (d *Daemon) buildPool() (*provider.Pool, error) {
	cfg := d.config
	client := &http.Client{}

	entries := make([]provider.Entry, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		adapter, err := newAdapter(provider.Config{
			Name:      pc.Name,
			Keys:      pc.Keys,
			Model:     pc.Model,
			BaseURL:   pc.BaseURL,
			MaxTokens: pc.MaxTokens,
		}, client)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider %s: %w", pc.Name, err)
		}
		entries = append(entries, provider.Entry{Adapter: adapter, Keys: pc.Keys})
		d.logger.Info().
			Str("provider", adapter.Name()).
			Str("model", adapter.Model()).
			Int("keys", len(pc.Keys)).
			Msg("Provider configured")
	}

	pool, err := provider.NewPool(entries, provider.PoolOptions{
		Default:          cfg.Pool.Default,
		CallTimeout:      seconds(cfg.Pool.CallTimeout),
		TransientRetries: cfg.Pool.TransientRetries,
		TransientBackoff: time.Duration(cfg.Pool.TransientBackoffMs) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider pool: %w", err)
	}
	return pool, nil
}

func (d *Daemon) initializeTelegram(log *logger.Logger) error {
	bot, err := newTelegramBot(&d.config.Telegram, log.GetZerolog())
	if err != nil {
		return err
	}

	handlerLogger := d.logger.With().Str("component", "telegram").Logger()
	handler, err := telegram.NewHandler(telegram.Options{
		Messenger:        bot,
		Runner:           d.agentRunner,
		Queue:            d.queue,
		Providers:        d.pool,
		Tools:            d.toolExecutor,
		Store:            d.store,
		Sessions:         d.sessionMgr,
		AllowedUsers:     d.config.Telegram.AllowedUsers,
		ProgressInterval: time.Duration(d.config.Telegram.ProgressInterval) * time.Millisecond,
		TypingInterval:   time.Duration(d.config.Telegram.TypingInterval) * time.Millisecond,
		Logger:           &handlerLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to create telegram handler: %w", err)
	}
	bot.SetHandler(handler)

	d.telegramBot = bot
	d.telegramHandler = handler

	if len(d.config.Telegram.AllowedUsers) == 0 {
		d.logger.Warn().Msg("No allowed users configured, the bot answers everyone")
	}
	return nil
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.With().Str("trace_id", traceID).Logger()
	logger.Info().Strs("providers", d.pool.Names()).Msg("Starting FreeAgent daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	d.startSkillWatcher(logger)

	if err := d.startMaintenance(); err != nil {
		return fmt.Errorf("failed to start maintenance: %w", err)
	}

	if d.config.Metrics.Enabled {
		d.startMetricsServer()
		logger.Info().Str("addr", d.config.Metrics.Addr).Msg("Metrics endpoint started")
	}

	if err := d.telegramBot.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start telegram bot: %w", err)
	}
	if err := d.telegramBot.SetCommands(d.telegramHandler.BotCommands()); err != nil {
		logger.Warn().Err(err).Msg("Failed to set bot commands")
	}

	logger.Info().
		Int("tools", d.toolExecutor.GetToolCount()).
		Str("bot", d.telegramBot.Username()).
		Msg("Daemon started successfully")

	return nil
}

func (d *Daemon) startSkillWatcher(logger zerolog.Logger) {
	if info, err := os.Stat(d.skillLib.Dir()); err != nil || !info.IsDir() {
		logger.Debug().Str("dir", d.skillLib.Dir()).Msg("Skills directory missing, hot reload disabled")
		return
	}

	watcher, err := skills.NewWatcher(d.skillLib, skills.WatcherConfig{
		OnReload: func() {
			d.logger.Info().Int("skills", len(d.skillLib.Skills())).Msg("Skills reloaded")
		},
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to watch skills directory")
		return
	}
	d.skillWatcher = watcher

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		watcher.Run(d.ctx)
	}()
	logger.Info().Str("dir", d.skillLib.Dir()).Msg("Skills watcher started")
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping FreeAgent daemon")

	if err := d.telegramBot.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop telegram bot")
	}

	d.queue.WaitForActive(shutdownTimeout)
	if err := d.queue.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close command queue")
	}
	logger.Info().Msg("Command queue stopped")

	d.stopMaintenance()

	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop metrics endpoint")
		}
		cancel()
	}

	if d.skillWatcher != nil {
		d.skillWatcher.Stop()
	}

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("All goroutines stopped")
	case <-time.After(shutdownTimeout):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.closeCore()

	logger.Info().Msg("Daemon stopped successfully")
	return nil
}

// closeCore releases storage and tracing. It is safe on a partially built daemon.
func (d *Daemon) closeCore() {
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close store")
		}
		d.store = nil
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:   d.running,
		Providers: d.pool.Names(),
		Tools:     d.toolExecutor.GetToolCount(),
		Lanes:     len(d.queue.GetStats()),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetQueue returns the command queue
func (d *Daemon) GetQueue() *commandqueue.CommandQueue {
	return d.queue
}

// GetAgentRunner returns the agent runner
func (d *Daemon) GetAgentRunner() *agent.Runner {
	return d.agentRunner
}

// GetToolExecutor returns the tool registry
func (d *Daemon) GetToolExecutor() *toolexecutor.ToolExecutor {
	return d.toolExecutor
}

// GetPool returns the provider pool
func (d *Daemon) GetPool() *provider.Pool {
	return d.pool
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
