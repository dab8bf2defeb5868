// Package archive stores captioned frames and an append-only Q/A history.
package archive

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-caption/internal/log"
)

const separator = "------------------------------"

// Entry is one question/answer record.
type Entry struct {
	Time    time.Time
	Prompt  string
	Caption string
	// Image is the saved frame file name, empty when saving failed.
	Image string
}

// Archive writes frames under an images directory and appends entries to a
// history file. It is safe for concurrent use.
type Archive struct {
	imagesDir   string
	historyPath string
	logger      *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// New creates both directories if missing.
func New(imagesDir, historyPath string) (*Archive, error) {
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create images dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(historyPath), 0o755); err != nil {
		return nil, fmt.Errorf("archive: create history dir: %w", err)
	}
	a := &Archive{
		imagesDir:   imagesDir,
		historyPath: historyPath,
		logger:      log.Component("archive"),
		now:         time.Now,
	}
	a.logger.Info("archive ready", "images", imagesDir, "history", historyPath)
	return a, nil
}

// FrameName returns the file name used for a frame captured at t,
// e.g. frame_20250101_120000_123.jpg.
func FrameName(t time.Time) string {
	return "frame_" + strings.Replace(t.Format("20060102_150405.000"), ".", "_", 1) + ".jpg"
}

// SaveFrame writes JPEG bytes and returns the file name.
func (a *Archive) SaveFrame(data []byte) (string, error) {
	name := FrameName(a.now())
	path := filepath.Join(a.imagesDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("archive: save frame: %w", err)
	}
	a.logger.Debug("saved frame", "path", path, "bytes", len(data))
	return name, nil
}

// Append adds e to the history file. A zero e.Time uses the current time.
func (a *Archive) Append(e Entry) error {
	if e.Time.IsZero() {
		e.Time = a.now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Timestamp: %s\n", e.Time.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Q: %s\n", e.Prompt)
	fmt.Fprintf(&b, "A: %s\n", e.Caption)
	if e.Image != "" {
		fmt.Fprintf(&b, "Image: %s\n", e.Image)
	}
	b.WriteString(separator + "\n\n")

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("archive: open history: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return fmt.Errorf("archive: write history: %w", err)
	}
	return f.Close()
}

// HistoryPath returns the history file location.
func (a *Archive) HistoryPath() string {
	return a.historyPath
}

// ImagesDir returns the frame directory.
func (a *Archive) ImagesDir() string {
	return a.imagesDir
}
