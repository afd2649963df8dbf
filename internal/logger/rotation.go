package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxSizeMB  = 100
	DefaultMaxAgeDays = 7

	rotationStamp = "20060102T150405"
)

// RotationOptions mirrors the max_size, max_age and compress keys of the
// logging config. Zero values take the defaults; a negative MaxAgeDays keeps
// rotated files forever.
type RotationOptions struct {
	MaxSizeMB  int
	MaxAgeDays int
	Compress   bool
}

func (o RotationOptions) withDefaults() RotationOptions {
	if o.MaxSizeMB <= 0 {
		o.MaxSizeMB = DefaultMaxSizeMB
	}
	if o.MaxAgeDays == 0 {
		o.MaxAgeDays = DefaultMaxAgeDays
	}
	return o
}

// RotatingWriter appends to a log file and moves it aside as
// <name>-<stamp><ext> once it would exceed the size limit. Rotated files
// older than MaxAgeDays are removed after every rotation.
type RotatingWriter struct {
	mu       sync.Mutex
	filename string
	maxSize  int64
	maxAge   time.Duration
	compress bool
	now      func() time.Time

	file *os.File
	size int64
}

// NewRotatingWriter opens filename for appending, creating its directory.
func NewRotatingWriter(filename string, opts RotationOptions) (*RotatingWriter, error) {
	opts = opts.withDefaults()

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		filename: filename,
		maxSize:  int64(opts.MaxSizeMB) * 1024 * 1024,
		compress: opts.Compress,
		now:      time.Now,
	}
	if opts.MaxAgeDays > 0 {
		w.maxAge = time.Duration(opts.MaxAgeDays) * 24 * time.Hour
	}
	if err := w.open(); err != nil {
		return nil, err
	}

	go w.cleanup(time.Now())

	return w, nil
}

func (w *RotatingWriter) open() error {
	file, err := os.OpenFile(w.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would push the file over the limit.
// A single entry is never split across files.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current log file
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingWriter) rotate() error {
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return err
	}

	now := w.now()
	rotated := w.rotatedName(now)
	if err := os.Rename(w.filename, rotated); err != nil {
		if oerr := w.open(); oerr != nil {
			return fmt.Errorf("%w (reopen: %v)", err, oerr)
		}
		return err
	}
	if err := w.open(); err != nil {
		return err
	}

	go func() {
		if w.compress {
			if err := compressFile(rotated); err != nil {
				fmt.Fprintf(os.Stderr, "freeagent: failed to compress %s: %v\n", rotated, err)
			}
		}
		w.cleanup(now)
	}()
	return nil
}

// rotatedName returns a free name for a file rotated at t. Rotations within
// the same second get a counter.
func (w *RotatingWriter) rotatedName(t time.Time) string {
	ext := filepath.Ext(w.filename)
	base := strings.TrimSuffix(w.filename, ext) + "-" + t.Format(rotationStamp)

	name := base + ext
	for i := 1; exists(name) || exists(name+".gz"); i++ {
		name = fmt.Sprintf("%s.%d%s", base, i, ext)
	}
	return name
}

// isRotated reports whether name is a rotated copy of the log file.
func (w *RotatingWriter) isRotated(name string) bool {
	ext := filepath.Ext(w.filename)
	prefix := strings.TrimSuffix(filepath.Base(w.filename), ext) + "-"
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok || len(rest) < len(rotationStamp) {
		return false
	}
	_, err := time.Parse(rotationStamp, rest[:len(rotationStamp)])
	return err == nil
}

// cleanup removes rotated files older than maxAge at now.
func (w *RotatingWriter) cleanup(now time.Time) {
	if w.maxAge <= 0 {
		return
	}

	dir := filepath.Dir(w.filename)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	cutoff := now.Add(-w.maxAge)
	for _, entry := range entries {
		if entry.IsDir() || !w.isRotated(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		_ = os.Remove(filepath.Join(dir, entry.Name()))
	}
}

func compressFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		gzw.Close()
		dst.Close()
		return err
	}
	if err := gzw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(filename)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
