package gitsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"jukeboxd/pkg/config"
	"jukeboxd/pkg/githost"
	"jukeboxd/pkg/records"
)

var fixedNow = time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)

// recordingHost wraps a host, counting calls and injecting failures.
type recordingHost struct {
	githost.Host

	mu          sync.Mutex
	calls       map[string]int
	failBlobAt  int
	blobCalls   int
	getFileErr  error
	beforeRefFn func()
}

func newRecordingHost(h githost.Host) *recordingHost {
	return &recordingHost{Host: h, calls: map[string]int{}}
}

func (r *recordingHost) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

func (r *recordingHost) inc(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[op]++
	return r.calls[op]
}

func (r *recordingHost) GetFile(ctx context.Context, branch, path string) (githost.File, error) {
	r.inc("GetFile")
	if r.getFileErr != nil {
		return githost.File{}, r.getFileErr
	}
	return r.Host.GetFile(ctx, branch, path)
}

func (r *recordingHost) CreateBlob(ctx context.Context, content []byte) (string, error) {
	if n := r.inc("CreateBlob"); r.failBlobAt > 0 && n == r.failBlobAt {
		return "", errors.New("blob storage unavailable")
	}
	return r.Host.CreateBlob(ctx, content)
}

func (r *recordingHost) CreateTree(ctx context.Context, base string, entries []githost.TreeEntry) (string, error) {
	r.inc("CreateTree")
	return r.Host.CreateTree(ctx, base, entries)
}

func (r *recordingHost) CreateCommit(ctx context.Context, spec githost.CommitSpec) (githost.Commit, error) {
	r.inc("CreateCommit")
	return r.Host.CreateCommit(ctx, spec)
}

func (r *recordingHost) UpdateRef(ctx context.Context, branch, sha string) error {
	r.inc("UpdateRef")
	if r.beforeRefFn != nil {
		r.beforeRefFn()
	}
	return r.Host.UpdateRef(ctx, branch, sha)
}

type memoryStore struct {
	mu            sync.Mutex
	notifications []records.Notification
	history       []records.SyncHistory
	err           error
}

func (m *memoryStore) InsertNotification(_ context.Context, n records.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *memoryStore) InsertSyncHistory(_ context.Context, h records.SyncHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.history = append(m.history, h)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	local *githost.Local
	host  *recordingHost
	store *memoryStore
	sync  *Synchronizer
}

func newFixture(t *testing.T, mode string, files map[string]string) *fixture {
	t.Helper()
	local, err := githost.NewMemory()
	if err != nil {
		t.Fatalf("NewMemory() error: %v", err)
	}
	if _, err := local.CreateBranch(context.Background(), "main", files, githost.Signature{Name: "seed", Email: "seed@example.com"}); err != nil {
		t.Fatalf("CreateBranch() error: %v", err)
	}
	host := newRecordingHost(local)
	store := &memoryStore{}
	s := New(host, Options{
		ChangeDetection: mode,
		BlobConcurrency: 3,
		Records:         store,
		Logger:          quietLogger(),
		Now:             func() time.Time { return fixedNow },
	})
	return &fixture{local: local, host: host, store: store, sync: s}
}

func (f *fixture) commits(t *testing.T) int {
	t.Helper()
	n, err := f.local.CommitCount("main")
	if err != nil {
		t.Fatalf("CommitCount() error: %v", err)
	}
	return n
}

func (f *fixture) content(t *testing.T, path string) string {
	t.Helper()
	file, err := f.local.GetFile(context.Background(), "main", path)
	if err != nil {
		t.Fatalf("GetFile(%s) error: %v", path, err)
	}
	return string(file.Content)
}

func TestLegacyHash(t *testing.T) {
	tests := map[string]int32{
		"":      0,
		"a":     97,
		"ab":    97*31 + 98,
		"hello": 99162322,
	}
	for in, want := range tests {
		if got := LegacyHash(in); got != want {
			t.Errorf("LegacyHash(%q) = %d, want %d", in, got, want)
		}
	}
	if LegacyHash("ab") == LegacyHash("ba") {
		t.Error("expected hash to depend on order")
	}
	// Known collision: "Aa" and "BB" share a hash.
	if LegacyHash("Aa") != LegacyHash("BB") {
		t.Error("expected Aa and BB to collide")
	}
	// Overflow wraps instead of panicking.
	_ = LegacyHash(strings.Repeat("overflow", 1000))
}

func TestSync_Idempotent(t *testing.T) {
	f := newFixture(t, config.ChangeDetectionBlob, map[string]string{"README.md": "readme"})
	req := Request{Files: []FileToSync{
		{Path: "settings/theme.json", Content: `{"dark":true}`},
		{Path: "playlists/rock.json", Content: `["a","b"]`},
	}}

	first, err := f.sync.Sync(context.Background(), req)
	if err != nil {
		t.Fatalf("first Sync() error: %v", err)
	}
	if first.Commit == nil || first.Commit.FilesChanged != 2 {
		t.Fatalf("expected a 2-file commit, got %+v", first)
	}
	if f.commits(t) != 2 {
		t.Fatalf("expected seed + 1 commit, got %d", f.commits(t))
	}

	second, err := f.sync.Sync(context.Background(), req)
	if err != nil {
		t.Fatalf("second Sync() error: %v", err)
	}
	if !second.Success || second.Message != "No changes detected" || second.Commit != nil {
		t.Fatalf("expected no-change result, got %+v", second)
	}
	if len(second.SyncedFiles) != 0 || second.SyncedFiles == nil {
		t.Fatalf("expected empty non-nil syncedFiles, got %#v", second.SyncedFiles)
	}
	if !reflect.DeepEqual(second.SkippedFiles, []string{"settings/theme.json", "playlists/rock.json"}) {
		t.Fatalf("unexpected skippedFiles %v", second.SkippedFiles)
	}
	if f.commits(t) != 2 {
		t.Fatalf("second sync must not commit, got %d commits", f.commits(t))
	}
	if f.host.count("CreateBlob") != 2 || f.host.count("UpdateRef") != 1 {
		t.Fatalf("second sync must not write, calls=%v", f.host.calls)
	}
}

func TestSync_BlobFailureIsAtomic(t *testing.T) {
	f := newFixture(t, config.ChangeDetectionBlob, map[string]string{"a.txt": "1"})
	f.host.failBlobAt = 3
	tipBefore, _ := f.local.GetRef(context.Background(), "main")

	var files []FileToSync
	for _, p := range []string{"f1", "f2", "f3", "f4", "f5"} {
		files = append(files, FileToSync{Path: p + ".txt", Content: "content " + p})
	}

	_, err := f.sync.Sync(context.Background(), Request{Files: files})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "blob storage unavailable") {
		t.Fatalf("expected upstream error text, got %q", err.Error())
	}
	for _, op := range []string{"CreateTree", "CreateCommit", "UpdateRef"} {
		if n := f.host.count(op); n != 0 {
			t.Fatalf("expected no %s after blob failure, got %d", op, n)
		}
	}
	if tip, _ := f.local.GetRef(context.Background(), "main"); tip != tipBefore {
		t.Fatalf("branch moved from %s to %s", tipBefore, tip)
	}
	if len(f.store.history) != 0 {
		t.Fatal("no history should be recorded for a failed sync")
	}
}

func TestSync_ChangeDetection(t *testing.T) {
	for _, mode := range []string{config.ChangeDetectionBlob, config.ChangeDetectionLegacy} {
		t.Run(mode, func(t *testing.T) {
			f := newFixture(t, mode, map[string]string{
				"same.txt": "hello world",
				"diff.txt": "hello world",
			})

			result, err := f.sync.Sync(context.Background(), Request{Files: []FileToSync{
				{Path: "same.txt", Content: "hello world"},
				{Path: "diff.txt", Content: "hello worle"},
				{Path: "new.txt", Content: "brand new"},
			}})
			if err != nil {
				t.Fatalf("Sync() error: %v", err)
			}
			if !reflect.DeepEqual(result.SkippedFiles, []string{"same.txt"}) {
				t.Fatalf("skippedFiles = %v", result.SkippedFiles)
			}
			if !reflect.DeepEqual(result.SyncedFiles, []string{"diff.txt", "new.txt"}) {
				t.Fatalf("syncedFiles = %v", result.SyncedFiles)
			}
			if got := f.content(t, "diff.txt"); got != "hello worle" {
				t.Fatalf("diff.txt = %q", got)
			}
		})
	}
}

func TestSync_LegacyModeCollisionIsSkipped(t *testing.T) {
	f := newFixture(t, config.ChangeDetectionLegacy, map[string]string{"c.txt": "Aa"})
	result, err := f.sync.Sync(context.Background(), Request{Files: []FileToSync{{Path: "c.txt", Content: "BB"}}})
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if result.Message != "No changes detected" {
		t.Fatalf("expected legacy hash collision to skip, got %+v", result)
	}

	f = newFixture(t, config.ChangeDetectionBlob, map[string]string{"c.txt": "Aa"})
	result, err = f.sync.Sync(context.Background(), Request{Files: []FileToSync{{Path: "c.txt", Content: "BB"}}})
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if result.Commit == nil {
		t.Fatalf("expected blob mode to detect the change, got %+v", result)
	}
}

func TestSync_SkipUnchangedFalse(t *testing.T) {
	f := newFixture(t, config.ChangeDetectionBlob, map[string]string{"a.txt": "same"})
	skip := false
	result, err := f.sync.Sync(context.Background(), Request{
		Files:         []FileToSync{{Path: "a.txt", Content: "same"}},
		SkipUnchanged: &skip,
	})
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if result.Commit == nil || result.Commit.FilesChanged != 1 {
		t.Fatalf("expected forced commit, got %+v", result)
	}
	if f.host.count("GetFile") != 0 {
		t.Fatal("expected change detection to be skipped")
	}
}

func TestSync_CommitDetails(t *testing.T) {
	f := newFixture(t, config.ChangeDetectionBlob, map[string]string{"keep.txt": "keep"})
	result, err := f.sync.Sync(context.Background(), Request{
		Files:    []FileToSync{{Path: "a.txt", Content: "hello"}},
		SyncType: "scheduled",
	})
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if result.Commit.Message != "chore(sync): update 1 file(s) [scheduled]" {
		t.Fatalf("unexpected default message %q", result.Commit.Message)
	}
	if got := f.content(t, "keep.txt"); got != "keep" {
		t.Fatalf("untouched file changed: %q", got)
	}

	tip, _ := f.local.GetRef(context.Background(), "main")
	if tip != result.Commit.SHA {
		t.Fatalf("branch at %s, want %s", tip, result.Commit.SHA)
	}

	if len(f.store.notifications) != 1 || len(f.store.history) != 1 {
		t.Fatalf("expected one notification and one history row, got %d/%d", len(f.store.notifications), len(f.store.history))
	}
	h := f.store.history[0]
	if h.CommitSHA != result.Commit.SHA || h.Branch != "main" || h.SyncType != "scheduled" || h.Status != "success" {
		t.Fatalf("unexpected history %+v", h)
	}
	if h.FilesSynced != 1 || h.FilesSkipped != 0 || !reflect.DeepEqual(h.SyncedPaths, []string{"a.txt"}) {
		t.Fatalf("unexpected history counts %+v", h)
	}
	if f.store.notifications[0].Metadata["commit_sha"] != result.Commit.SHA {
		t.Fatalf("unexpected notification metadata %v", f.store.notifications[0].Metadata)
	}
}

func TestSync_RecordFailuresDoNotFailSync(t *testing.T) {
	f := newFixture(t, config.ChangeDetectionBlob, nil)
	f.store.err = errors.New("database down")

	result, err := f.sync.Sync(context.Background(), Request{Files: []FileToSync{{Path: "a.txt", Content: "x"}}})
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if !result.Success || result.Commit == nil {
		t.Fatalf("expected success despite record failure, got %+v", result)
	}
}

func TestSync_ChangeDetectionErrorAborts(t *testing.T) {
	f := newFixture(t, config.ChangeDetectionBlob, map[string]string{"a.txt": "1"})
	f.host.getFileErr = errors.New("github: get file: status 500: boom")

	_, err := f.sync.Sync(context.Background(), Request{Files: []FileToSync{{Path: "a.txt", Content: "2"}}})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected read error, got %v", err)
	}
	if f.host.count("CreateBlob") != 0 {
		t.Fatal("expected no writes after a read failure")
	}
}

func TestSync_RefConflict(t *testing.T) {
	f := newFixture(t, config.ChangeDetectionBlob, map[string]string{"a.txt": "1"})
	f.host.beforeRefFn = func() {
		if _, err := f.local.CreateBranch(context.Background(), "main", map[string]string{"other.txt": "racing writer"}, githost.Signature{Name: "other"}); err != nil {
			t.Errorf("racing writer: %v", err)
		}
	}

	_, err := f.sync.Sync(context.Background(), Request{Files: []FileToSync{{Path: "a.txt", Content: "2"}}})
	if !errors.Is(err, githost.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if got := f.content(t, "a.txt"); got != "1" {
		t.Fatalf("conflicting sync must not overwrite, a.txt = %q", got)
	}
	if got := f.content(t, "other.txt"); got != "racing writer" {
		t.Fatalf("racing writer lost, other.txt = %q", got)
	}
}

func TestSync_Validation(t *testing.T) {
	f := newFixture(t, config.ChangeDetectionBlob, nil)
	tests := []struct {
		name  string
		files []FileToSync
	}{
		{"nil files", nil},
		{"empty files", []FileToSync{}},
		{"empty path", []FileToSync{{Path: " ", Content: "x"}}},
		{"parent path", []FileToSync{{Path: "../x", Content: "x"}}},
		{"unclean path", []FileToSync{{Path: "a//b", Content: "x"}}},
		{"duplicate", []FileToSync{{Path: "a", Content: "1"}, {Path: "a", Content: "2"}}},
		{"file then nested file", []FileToSync{{Path: "a", Content: "file a"}, {Path: "a/b.txt", Content: "nested"}}},
		{"nested file then file", []FileToSync{{Path: "x/y/z.txt", Content: "deep"}, {Path: "x/y", Content: "file"}}},
		{"surrounding whitespace", []FileToSync{{Path: " notes.txt ", Content: "x"}}},
		{"trailing newline", []FileToSync{{Path: "notes.txt\n", Content: "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.sync.Sync(context.Background(), Request{Files: tt.files})
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestSync_SiblingPathsShareDirectory(t *testing.T) {
	f := newFixture(t, config.ChangeDetectionBlob, nil)
	result, err := f.sync.Sync(context.Background(), Request{Files: []FileToSync{
		{Path: "ab", Content: "file"},
		{Path: "a/b.txt", Content: "nested"},
		{Path: "a/c.txt", Content: "sibling"},
	}})
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if len(result.SyncedFiles) != 3 {
		t.Fatalf("SyncedFiles = %v, want 3 paths", result.SyncedFiles)
	}
	for _, p := range result.SyncedFiles {
		if _, err := f.local.GetFile(context.Background(), "main", p); err != nil {
			t.Errorf("GetFile(%s) error: %v", p, err)
		}
	}
}

func TestNewFromConfig_MissingToken(t *testing.T) {
	cfg := config.Default()
	cfg.Sync.Owner = "acme"
	cfg.Sync.Repo = "jukebox"

	s := NewFromConfig(cfg, nil, quietLogger())
	_, err := s.Sync(context.Background(), Request{Files: []FileToSync{{Path: "a.txt", Content: "x"}}})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if !strings.Contains(err.Error(), "GITHUB_TOKEN") {
		t.Fatalf("expected token name in error, got %q", err.Error())
	}
}

func TestNewFromConfig_LocalBackendMissingRepo(t *testing.T) {
	cfg := config.Default()
	cfg.Sync.Backend = config.SyncBackendLocal
	cfg.Sync.LocalPath = t.TempDir()

	s := NewFromConfig(cfg, nil, quietLogger())
	_, err := s.Sync(context.Background(), Request{Files: []FileToSync{{Path: "a.txt", Content: "x"}}})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func post(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/full-repo-sync", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var decoded map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return w, decoded
}

func TestHandler_EndToEnd(t *testing.T) {
	f := newFixture(t, config.ChangeDetectionBlob, map[string]string{"README.md": "readme"})
	h := NewHandler(f.sync)

	w, body := post(t, h, `{"files":[{"path":"a.txt","content":"hello"}],"branch":"main"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if body["success"] != true {
		t.Fatalf("expected success, got %v", body)
	}
	commit, _ := body["commit"].(map[string]any)
	if commit["filesChanged"] != float64(1) {
		t.Fatalf("expected filesChanged 1, got %v", commit)
	}
	if sha, _ := commit["sha"].(string); len(sha) != 40 {
		t.Fatalf("expected commit sha, got %v", commit["sha"])
	}
	if !reflect.DeepEqual(body["syncedFiles"], []any{"a.txt"}) {
		t.Fatalf("unexpected syncedFiles %v", body["syncedFiles"])
	}
	if !reflect.DeepEqual(body["skippedFiles"], []any{}) {
		t.Fatalf("unexpected skippedFiles %v", body["skippedFiles"])
	}

	w, body = post(t, h, `{"files":[{"path":"a.txt","content":"hello"}]}`)
	if w.Code != http.StatusOK || body["message"] != "No changes detected" {
		t.Fatalf("expected no-change 200, got %d %v", w.Code, body)
	}
	if !reflect.DeepEqual(body["syncedFiles"], []any{}) {
		t.Fatalf("expected empty syncedFiles, got %v", body["syncedFiles"])
	}
}

func TestHandler_Errors(t *testing.T) {
	f := newFixture(t, config.ChangeDetectionBlob, nil)
	h := NewHandler(f.sync)

	for _, body := range []string{`{"files":[]}`, `{}`, `{"files":`} {
		w, decoded := post(t, h, body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, w.Code)
		}
		if decoded["success"] != false {
			t.Fatalf("%s: expected success=false", body)
		}
	}

	cfg := config.Default()
	unconfigured := NewHandler(NewFromConfig(cfg, nil, quietLogger()))
	w, decoded := post(t, unconfigured, `{"files":[{"path":"a.txt","content":"x"}]}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for missing token, got %d", w.Code)
	}
	if msg, _ := decoded["error"].(string); !strings.Contains(msg, "configuration error") {
		t.Fatalf("expected configuration error, got %v", decoded)
	}

	f.host.failBlobAt = 1
	w, decoded = post(t, h, `{"files":[{"path":"a.txt","content":"x"}]}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for upstream failure, got %d", w.Code)
	}
	if msg, _ := decoded["error"].(string); !strings.Contains(msg, "blob storage unavailable") {
		t.Fatalf("expected upstream message, got %v", decoded)
	}
}

func TestHandler_Preflight(t *testing.T) {
	f := newFixture(t, config.ChangeDetectionBlob, nil)
	req := httptest.NewRequest(http.MethodOptions, "/full-repo-sync", nil)
	w := httptest.NewRecorder()
	NewHandler(f.sync).ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}
