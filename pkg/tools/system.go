package tools

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/harun/freeagent/pkg/toolexecutor"
)

const (
	defaultBashTimeout = 120 * time.Second
	maxStdout          = 8000
	maxStderr          = 2000
	maxGlobResults     = 50
	maxGrepMatches     = 100
	maxGrepOutput      = 8000
	maxGrepFileSize    = 1 << 20
	defaultReadLines   = 2000
	maxLineLength      = 2000
)

var blockedCommands = []string{
	"rm -rf /",
	"rm -rf /*",
	"mkfs",
	"dd if=",
	":(){:|:&};:",
	"shutdown",
	"reboot",
	"init 0",
	"init 6",
	"halt",
	"poweroff",
	"> /dev/sda",
	"chmod -r 777 /",
}

var skipDirs = map[string]bool{".git": true, "node_modules": true, "vendor": true, "target": true}

// SystemOptions configures shell and file system tools.
type SystemOptions struct {
	WorkingDir  string
	BashTimeout time.Duration
}

type systemTools struct {
	root        string
	bashTimeout time.Duration
}

func newSystemTools(opts SystemOptions) (*systemTools, error) {
	dir := opts.WorkingDir
	if dir == "" {
		dir = "."
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working dir: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("working dir unavailable: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("working dir %s is not a directory", root)
	}

	timeout := opts.BashTimeout
	if timeout <= 0 {
		timeout = defaultBashTimeout
	}
	return &systemTools{root: root, bashTimeout: timeout}, nil
}

// IsDangerousCommand reports whether a shell command matches the blocklist.
func IsDangerousCommand(command string) bool {
	lower := strings.ToLower(command)
	for _, pattern := range blockedCommands {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// resolve maps a user path into the working dir and rejects escapes.
func (s *systemTools) resolve(p string) (string, error) {
	if p == "" {
		p = "."
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	p = filepath.Clean(p)

	check := p
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		check = resolved
	}
	rel, err := filepath.Rel(s.root, check)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the working directory", p)
	}
	return p, nil
}

func (s *systemTools) display(p string) string {
	if rel, err := filepath.Rel(s.root, p); err == nil {
		return rel
	}
	return p
}

func (s *systemTools) definitions() []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "bash",
			Description: "Execute a shell command in the working directory. Returns stdout, stderr and the exit code.",
			Category:    toolexecutor.CategoryShell,
			Feature:     FeatureSystem,
			Timeout:     s.bashTimeout + 5*time.Second,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "command", Type: "string", Description: "The command to run with bash -c", Required: true},
			},
			Handler: s.bash,
		},
		{
			Name:        "read_file",
			Description: "Read a text file with line numbers. Supports an optional line offset and limit.",
			Category:    toolexecutor.CategoryRead,
			Feature:     FeatureSystem,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "path", Type: "string", Description: "File path relative to the working directory", Required: true},
				{Name: "offset", Type: "integer", Description: "First line to read (0-based)"},
				{Name: "limit", Type: "integer", Description: "Maximum number of lines"},
			},
			Handler: s.readFile,
		},
		{
			Name:        "write_file",
			Description: "Create or overwrite a file with the given content.",
			Category:    toolexecutor.CategoryWrite,
			Feature:     FeatureSystem,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "path", Type: "string", Description: "File path relative to the working directory", Required: true},
				{Name: "content", Type: "string", Description: "The full file content", Required: true},
			},
			Handler: s.writeFile,
		},
		{
			Name:        "glob",
			Description: "Find files whose name matches a pattern such as *.go.",
			Category:    toolexecutor.CategoryRead,
			Feature:     FeatureSystem,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "pattern", Type: "string", Description: "File name pattern", Required: true},
				{Name: "path", Type: "string", Description: "Directory to search in"},
			},
			Handler: s.glob,
		},
		{
			Name:        "grep",
			Description: "Search file contents with a regular expression.",
			Category:    toolexecutor.CategoryRead,
			Feature:     FeatureSystem,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "pattern", Type: "string", Description: "Regular expression", Required: true},
				{Name: "path", Type: "string", Description: "File or directory to search"},
				{Name: "glob", Type: "string", Description: "Only search files whose name matches this pattern"},
				{Name: "case_insensitive", Type: "boolean", Description: "Ignore case"},
			},
			Handler: s.grep,
		},
	}
}

func (s *systemTools) bash(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	command, err := requireString(params, "command")
	if err != nil {
		return nil, err
	}
	if IsDangerousCommand(command) {
		return nil, errors.New("this command is blocked for safety. Dangerous operations like rm -rf /, format, or shutdown are not allowed")
	}

	runCtx, cancel := context.WithTimeout(ctx, s.bashTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", "-c", command)
	cmd.Dir = s.root
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("command timed out after %s", s.bashTimeout)
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("failed to execute: %w", runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	var sb strings.Builder
	if stdout.Len() > 0 {
		sb.WriteString(capOutput(stdout.String(), maxStdout))
	}
	if stderr.Len() > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("[stderr]\n")
		sb.WriteString(capOutput(stderr.String(), maxStderr))
	}
	if exitCode != 0 {
		fmt.Fprintf(&sb, "\n[exit code: %d]", exitCode)
	}
	if sb.Len() == 0 {
		return "(no output)", nil
	}
	return sb.String(), nil
}

func capOutput(s string, max int) string {
	if cut, truncated := truncate(s, max); truncated {
		return fmt.Sprintf("%s\n\n[... output truncated, %d chars total]", cut, len(s))
	}
	return s
}

func (s *systemTools) readFile(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	raw, err := requireString(params, "path")
	if err != nil {
		return nil, err
	}
	path, err := s.resolve(raw)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", raw)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, not a file", raw)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(data) == 0 {
		return "(empty file)", nil
	}

	start := intArg(params, "offset", 0)
	count := intArg(params, "limit", defaultReadLines)
	if start < 0 {
		start = 0
	}
	if count <= 0 {
		count = defaultReadLines
	}
	if start >= len(lines) {
		return nil, fmt.Errorf("offset %d exceeds file length (%d lines)", start, len(lines))
	}
	end := start + count
	if end > len(lines) {
		end = len(lines)
	}

	var sb strings.Builder
	for i, line := range lines[start:end] {
		if cut, truncated := truncate(line, maxLineLength); truncated {
			line = cut + "..."
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%6d\t%s", start+i+1, line)
	}
	if end < len(lines) {
		fmt.Fprintf(&sb, "\n\n[... %d more lines]", len(lines)-end)
	}
	return sb.String(), nil
}

func (s *systemTools) writeFile(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	raw, err := requireString(params, "path")
	if err != nil {
		return nil, err
	}
	path, err := s.resolve(raw)
	if err != nil {
		return nil, err
	}
	content := stringArg(params, "content")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("error creating directories: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("error writing file: %w", err)
	}

	lines := strings.Count(content, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		lines++
	}
	return fmt.Sprintf("Written %d bytes (%d lines) to %s", len(content), lines, s.display(path)), nil
}

// walk visits regular files under dir, skipping vendored and VCS directories.
func (s *systemTools) walk(ctx context.Context, dir string, visit func(path string, d fs.DirEntry) bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != dir && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !visit(path, d) {
			return filepath.SkipAll
		}
		return nil
	})
}

func (s *systemTools) glob(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	pattern, err := requireString(params, "pattern")
	if err != nil {
		return nil, err
	}
	dir, err := s.resolve(stringArg(params, "path"))
	if err != nil {
		return nil, err
	}

	namePattern := filepath.Base(pattern)
	if _, err := filepath.Match(namePattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	var files []string
	err = s.walk(ctx, dir, func(path string, d fs.DirEntry) bool {
		if ok, _ := filepath.Match(namePattern, d.Name()); ok {
			files = append(files, s.display(path))
		}
		return len(files) < maxGlobResults
	})
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		return fmt.Sprintf("No files matching '%s' in %s", pattern, s.display(dir)), nil
	}
	sort.Strings(files)
	result := strings.Join(files, "\n")
	if len(files) >= maxGlobResults {
		return fmt.Sprintf("%s\n\n[showing first %d results, there may be more]", result, maxGlobResults), nil
	}
	return fmt.Sprintf("%s\n\n[%d files found]", result, len(files)), nil
}

func (s *systemTools) grep(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	pattern, err := requireString(params, "pattern")
	if err != nil {
		return nil, err
	}
	if boolArg(params, "case_insensitive") {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	dir, err := s.resolve(stringArg(params, "path"))
	if err != nil {
		return nil, err
	}
	fileGlob := stringArg(params, "glob")

	var matches []string
	err = s.walk(ctx, dir, func(path string, d fs.DirEntry) bool {
		if fileGlob != "" {
			if ok, _ := filepath.Match(fileGlob, d.Name()); !ok {
				return true
			}
		}
		if info, err := d.Info(); err != nil || info.Size() > maxGrepFileSize {
			return true
		}
		matches = append(matches, grepFile(path, s.display(path), re, maxGrepMatches-len(matches))...)
		return len(matches) < maxGrepMatches
	})
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return fmt.Sprintf("No matches for '%s' in %s", stringArg(params, "pattern"), s.display(dir)), nil
	}
	return capOutput(strings.Join(matches, "\n"), maxGrepOutput), nil
}

func grepFile(path, name string, re *regexp.Regexp, limit int) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxGrepFileSize)
	lineNum := 0
	for scanner.Scan() && len(out) < limit {
		lineNum++
		line := scanner.Bytes()
		if bytes.IndexByte(line, 0) >= 0 {
			return nil
		}
		if re.Match(line) {
			out = append(out, fmt.Sprintf("%s:%d:%s", name, lineNum, line))
		}
	}
	return out
}
