package records

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	fileMaxSizeMB  = 10
	fileMaxBackups = 10
)

// fileEntry is one line of the records file.
type fileEntry struct {
	Kind     string    `json:"kind"`
	Recorded time.Time `json:"recorded_at"`
	Record   any       `json:"record"`
}

// FileStore appends records as JSON lines to a size-rotated file.
type FileStore struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewFileStore opens path for appending, creating parent directories.
func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("records file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create records directory: %w", err)
	}
	return &FileStore{w: &lumberjack.Logger{
		Filename:   path,
		MaxSize:    fileMaxSizeMB,
		MaxBackups: fileMaxBackups,
	}}, nil
}

func (s *FileStore) InsertNotification(_ context.Context, n Notification) error {
	return s.append("notification", n)
}

func (s *FileStore) InsertSyncHistory(_ context.Context, h SyncHistory) error {
	return s.append("sync_history", h)
}

// Close closes the underlying file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}

func (s *FileStore) append(kind string, record any) error {
	line, err := json.Marshal(fileEntry{Kind: kind, Recorded: time.Now().UTC(), Record: record})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", kind, err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
