package records

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const supabaseDefaultTimeout = 10 * time.Second

// SupabaseOptions configures a SupabaseStore.
type SupabaseOptions struct {
	URL               string
	Key               string
	NotificationTable string
	HistoryTable      string
	HTTPClient        *http.Client
}

// SupabaseStore inserts rows through the PostgREST endpoint of a Supabase project.
type SupabaseStore struct {
	baseURL           string
	key               string
	notificationTable string
	historyTable      string
	httpClient        *http.Client
}

// NewSupabaseStore creates a store. URL and key are required.
func NewSupabaseStore(opts SupabaseOptions) (*SupabaseStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.URL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("supabase url is required")
	}
	key := strings.TrimSpace(opts.Key)
	if key == "" {
		return nil, fmt.Errorf("supabase key is required")
	}

	notifications := opts.NotificationTable
	if notifications == "" {
		notifications = "notifications"
	}
	history := opts.HistoryTable
	if history == "" {
		history = "sync_history"
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: supabaseDefaultTimeout}
	}

	return &SupabaseStore{
		baseURL:           baseURL,
		key:               key,
		notificationTable: notifications,
		historyTable:      history,
		httpClient:        httpClient,
	}, nil
}

func (s *SupabaseStore) InsertNotification(ctx context.Context, n Notification) error {
	return s.insert(ctx, s.notificationTable, n)
}

func (s *SupabaseStore) InsertSyncHistory(ctx context.Context, h SyncHistory) error {
	return s.insert(ctx, s.historyTable, h)
}

func (s *SupabaseStore) insert(ctx context.Context, table string, row any) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("supabase: marshal %s row: %w", table, err)
	}

	endpoint := s.baseURL + "/rest/v1/" + url.PathEscape(table)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("supabase: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Prefer", "return=minimal")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("supabase: insert into %s: %w", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("supabase: insert into %s: status %d: %s", table, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

var _ Store = (*SupabaseStore)(nil)
