// Package records writes the notification and sync-history rows produced
// after a successful repository sync.
package records

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"jukeboxd/pkg/config"

	"github.com/google/uuid"
)

// Notification is a dashboard notification row.
type Notification struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"created_at"`
}

// SyncHistory is one row per completed sync.
type SyncHistory struct {
	ID            string    `json:"id"`
	CommitSHA     string    `json:"commit_sha"`
	CommitURL     string    `json:"commit_url"`
	CommitMessage string    `json:"commit_message"`
	Branch        string    `json:"branch"`
	FilesSynced   int       `json:"files_synced"`
	FilesSkipped  int       `json:"files_skipped"`
	SyncedPaths   []string  `json:"synced_files"`
	SkippedPaths  []string  `json:"skipped_files"`
	SyncType      string    `json:"sync_type"`
	DurationMS    int64     `json:"duration_ms"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store persists records. Implementations must be safe for concurrent use.
type Store interface {
	InsertNotification(ctx context.Context, n Notification) error
	InsertSyncHistory(ctx context.Context, h SyncHistory) error
}

// NewID returns a random record id.
func NewID() string {
	return uuid.NewString()
}

// New builds the store selected by cfg.
func New(cfg config.RecordsConfig, httpClient *http.Client) (Store, error) {
	switch strings.TrimSpace(cfg.Kind) {
	case config.RecordsNone, "":
		return Nop{}, nil
	case config.RecordsFile:
		return NewFileStore(cfg.FilePath)
	case config.RecordsSupabase:
		return NewSupabaseStore(SupabaseOptions{
			URL:               cfg.SupabaseURL,
			Key:               cfg.SupabaseKey,
			NotificationTable: cfg.NotificationTable,
			HistoryTable:      cfg.HistoryTable,
			HTTPClient:        httpClient,
		})
	default:
		return nil, fmt.Errorf("unsupported records kind: %s", cfg.Kind)
	}
}

// Nop discards every record.
type Nop struct{}

func (Nop) InsertNotification(context.Context, Notification) error { return nil }
func (Nop) InsertSyncHistory(context.Context, SyncHistory) error   { return nil }

var _ Store = Nop{}
