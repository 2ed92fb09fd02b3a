// Package gitsync lands a batch of files on a Git branch as a single
// commit, skipping files whose content already matches the branch.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"jukeboxd/pkg/config"
	"jukeboxd/pkg/githost"
	"jukeboxd/pkg/records"

	"golang.org/x/sync/errgroup"
)

const (
	modeBlob   = config.ChangeDetectionBlob
	modeLegacy = config.ChangeDetectionLegacy

	defaultBranch      = "main"
	defaultSyncType    = "manual"
	defaultConcurrency = 8
	recordTimeout      = 10 * time.Second

	noChangesMessage = "No changes detected"
)

var (
	// ErrInvalidRequest marks a malformed sync request.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrConfiguration marks a synchronizer that cannot reach its repository.
	ErrConfiguration = errors.New("configuration error")
)

// FileToSync is one file destined for the branch.
type FileToSync struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Request is the body accepted by the sync endpoint.
type Request struct {
	Files         []FileToSync `json:"files"`
	CommitMessage string       `json:"commitMessage,omitempty"`
	Branch        string       `json:"branch,omitempty"`
	SkipUnchanged *bool        `json:"skipUnchanged,omitempty"`
	SyncType      string       `json:"syncType,omitempty"`
}

// CommitInfo describes the commit a sync created.
type CommitInfo struct {
	SHA          string `json:"sha"`
	URL          string `json:"url"`
	Message      string `json:"message"`
	FilesChanged int    `json:"filesChanged"`
}

// Result is the outcome of a sync.
type Result struct {
	Success      bool        `json:"success"`
	Message      string      `json:"message,omitempty"`
	Commit       *CommitInfo `json:"commit,omitempty"`
	SkippedFiles []string    `json:"skippedFiles"`
	SyncedFiles  []string    `json:"syncedFiles"`
}

// Options tune a Synchronizer.
type Options struct {
	DefaultBranch   string
	ChangeDetection string
	BlobConcurrency int
	AuthorName      string
	AuthorEmail     string
	Records         records.Store
	Logger          *slog.Logger
	Now             func() time.Time
}

// Synchronizer commits file batches to one repository.
type Synchronizer struct {
	host        githost.Host
	configErr   error
	branch      string
	mode        string
	concurrency int
	author      githost.Signature
	records     records.Store
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a synchronizer over host.
func New(host githost.Host, opts Options) *Synchronizer {
	s := &Synchronizer{
		host:        host,
		branch:      opts.DefaultBranch,
		mode:        opts.ChangeDetection,
		concurrency: opts.BlobConcurrency,
		author:      githost.Signature{Name: opts.AuthorName, Email: opts.AuthorEmail},
		records:     opts.Records,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if s.branch == "" {
		s.branch = defaultBranch
	}
	if s.mode != modeLegacy {
		s.mode = modeBlob
	}
	if s.concurrency <= 0 {
		s.concurrency = defaultConcurrency
	}
	if s.author.Name == "" {
		s.author.Name = "jukebox-sync[bot]"
	}
	if s.author.Email == "" {
		s.author.Email = "jukebox-sync@users.noreply.github.com"
	}
	if s.records == nil {
		s.records = records.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if host == nil {
		s.configErr = fmt.Errorf("%w: no repository host", ErrConfiguration)
	}
	return s
}

// NewFromConfig builds the repository host named by cfg.Sync. A missing
// credential does not fail construction; every sync reports it instead.
func NewFromConfig(cfg config.Config, store records.Store, logger *slog.Logger) *Synchronizer {
	opts := Options{
		DefaultBranch:   cfg.Sync.DefaultBranch,
		ChangeDetection: cfg.Sync.ChangeDetection,
		BlobConcurrency: cfg.Sync.BlobConcurrency,
		AuthorName:      cfg.Sync.AuthorName,
		AuthorEmail:     cfg.Sync.AuthorEmail,
		Records:         store,
		Logger:          logger,
	}

	host, err := newHost(cfg, logger)
	s := New(host, opts)
	if err != nil {
		s.configErr = err
		s.logger.Warn("sync_host_unconfigured", "backend", cfg.Sync.Backend, "error", err)
	}
	return s
}

func newHost(cfg config.Config, logger *slog.Logger) (githost.Host, error) {
	sc := cfg.Sync
	switch sc.Backend {
	case config.SyncBackendLocal:
		local, err := githost.OpenLocal(sc.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		return local, nil
	case config.SyncBackendGitHub, "":
		if strings.TrimSpace(sc.Token) == "" {
			return nil, fmt.Errorf("%w: %s is not set", ErrConfiguration, config.EnvGitHubToken)
		}
		timeout := time.Duration(sc.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		gh, err := githost.NewGitHub(githost.GitHubOptions{
			Owner:      sc.Owner,
			Repo:       sc.Repo,
			Token:      sc.Token,
			APIURL:     sc.APIURL,
			HTTPClient: &http.Client{Timeout: timeout},
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		return gh, nil
	default:
		return nil, fmt.Errorf("%w: unsupported sync backend %q", ErrConfiguration, sc.Backend)
	}
}

// Sync diffs req.Files against the branch and commits the changed ones
// as a single commit. Nothing is written when every file is unchanged.
func (s *Synchronizer) Sync(ctx context.Context, req Request) (Result, error) {
	if s.configErr != nil {
		return Result{}, s.configErr
	}
	files, err := validate(req.Files)
	if err != nil {
		return Result{}, err
	}

	start := s.now()
	branch := strings.TrimSpace(req.Branch)
	if branch == "" {
		branch = s.branch
	}
	syncType := strings.TrimSpace(req.SyncType)
	if syncType == "" {
		syncType = defaultSyncType
	}
	skipUnchanged := req.SkipUnchanged == nil || *req.SkipUnchanged

	toSync := files
	skipped := make([]string, 0)
	if skipUnchanged {
		toSync, skipped, err = s.detectChanges(ctx, branch, files)
		if err != nil {
			return Result{}, err
		}
	}

	if len(toSync) == 0 {
		s.logger.Info("sync_no_changes", "branch", branch, "skipped", len(skipped))
		return Result{
			Success:      true,
			Message:      noChangesMessage,
			SkippedFiles: skipped,
			SyncedFiles:  []string{},
		}, nil
	}

	message := strings.TrimSpace(req.CommitMessage)
	if message == "" {
		message = defaultCommitMessage(len(toSync), syncType)
	}

	commit, err := s.commit(ctx, branch, message, toSync)
	if err != nil {
		s.logger.Error("sync_failed", "branch", branch, "files", len(toSync), "error", err)
		return Result{}, err
	}

	synced := paths(toSync)
	info := &CommitInfo{SHA: commit.SHA, URL: commit.URL, Message: message, FilesChanged: len(toSync)}
	s.logger.Info("sync_commit_created",
		"branch", branch,
		"sha", commit.SHA,
		"synced", len(synced),
		"skipped", len(skipped),
		"sync_type", syncType,
	)

	s.record(ctx, branch, syncType, info, synced, skipped, s.now().Sub(start))

	return Result{
		Success:      true,
		Commit:       info,
		SkippedFiles: skipped,
		SyncedFiles:  synced,
	}, nil
}

func validate(files []FileToSync) ([]FileToSync, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: files array is required", ErrInvalidRequest)
	}
	seen := make(map[string]bool, len(files))
	dirs := make(map[string]bool)
	out := make([]FileToSync, 0, len(files))
	for i, f := range files {
		if strings.TrimSpace(f.Path) == "" {
			return nil, fmt.Errorf("%w: files[%d].path is required", ErrInvalidRequest, i)
		}
		if f.Path != strings.TrimSpace(f.Path) {
			return nil, fmt.Errorf("%w: files[%d].path %q has surrounding whitespace", ErrInvalidRequest, i, f.Path)
		}
		p := strings.TrimPrefix(f.Path, "/")
		if p != path.Clean(p) || strings.HasPrefix(p, "../") || p == ".." {
			return nil, fmt.Errorf("%w: files[%d].path %q is not a clean relative path", ErrInvalidRequest, i, f.Path)
		}
		if seen[p] {
			return nil, fmt.Errorf("%w: duplicate path %q", ErrInvalidRequest, p)
		}
		// A path cannot be both a file and a directory in one tree.
		if dirs[p] {
			return nil, fmt.Errorf("%w: path %q is also a directory of another file", ErrInvalidRequest, p)
		}
		for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
			if seen[dir] {
				return nil, fmt.Errorf("%w: path %q is nested under file %q", ErrInvalidRequest, p, dir)
			}
			dirs[dir] = true
		}
		seen[p] = true
		out = append(out, FileToSync{Path: p, Content: f.Content})
	}
	return out, nil
}

// detectChanges fetches every file concurrently and splits the batch into
// changed and unchanged files, keeping request order. A file missing from
// the branch is changed. Any other read error aborts the sync.
func (s *Synchronizer) detectChanges(ctx context.Context, branch string, files []FileToSync) ([]FileToSync, []string, error) {
	isChanged := make([]bool, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, f := range files {
		g.Go(func() error {
			remote, err := s.host.GetFile(gctx, branch, f.Path)
			if err != nil {
				if errors.Is(err, githost.ErrNotFound) {
					isChanged[i] = true
					return nil
				}
				return fmt.Errorf("check %s: %w", f.Path, err)
			}
			isChanged[i] = changed(s.mode, remote, f.Content)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	toSync := make([]FileToSync, 0, len(files))
	skipped := make([]string, 0)
	for i, f := range files {
		if isChanged[i] {
			toSync = append(toSync, f)
		} else {
			skipped = append(skipped, f.Path)
		}
	}
	return toSync, skipped, nil
}

// commit runs ref, base tree, blobs, tree, commit and ref update strictly
// in that order. Blobs are the only concurrent step.
func (s *Synchronizer) commit(ctx context.Context, branch, message string, files []FileToSync) (githost.Commit, error) {
	tip, err := s.host.GetRef(ctx, branch)
	if err != nil {
		return githost.Commit{}, fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	baseTree, err := s.host.GetCommitTree(ctx, tip)
	if err != nil {
		return githost.Commit{}, fmt.Errorf("read commit %s: %w", tip, err)
	}

	blobs := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, f := range files {
		g.Go(func() error {
			sha, err := s.host.CreateBlob(gctx, []byte(f.Content))
			if err != nil {
				return fmt.Errorf("create blob for %s: %w", f.Path, err)
			}
			blobs[i] = sha
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return githost.Commit{}, err
	}

	entries := make([]githost.TreeEntry, len(files))
	for i, f := range files {
		entries[i] = githost.TreeEntry{Path: f.Path, Mode: githost.ModeFile, Type: githost.TypeBlob, SHA: blobs[i]}
	}
	tree, err := s.host.CreateTree(ctx, baseTree, entries)
	if err != nil {
		return githost.Commit{}, fmt.Errorf("create tree: %w", err)
	}

	author := s.author
	author.When = s.now()
	commit, err := s.host.CreateCommit(ctx, githost.CommitSpec{
		Message: message,
		Tree:    tree,
		Parents: []string{tip},
		Author:  author,
	})
	if err != nil {
		return githost.Commit{}, fmt.Errorf("create commit: %w", err)
	}

	if err := s.host.UpdateRef(ctx, branch, commit.SHA); err != nil {
		return githost.Commit{}, fmt.Errorf("update branch %s: %w", branch, err)
	}
	return commit, nil
}

// record writes the notification and history rows. Failures are logged
// and never change the sync result.
func (s *Synchronizer) record(ctx context.Context, branch, syncType string, info *CommitInfo, synced, skipped []string, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	now := s.now().UTC()
	notification := records.Notification{
		ID:      records.NewID(),
		Type:    "sync",
		Title:   "Repository synced",
		Message: fmt.Sprintf("%d file(s) committed to %s", info.FilesChanged, branch),
		Metadata: map[string]any{
			"commit_sha": info.SHA,
			"commit_url": info.URL,
			"sync_type":  syncType,
		},
		CreatedAt: now,
	}
	if err := s.records.InsertNotification(ctx, notification); err != nil {
		s.logger.Warn("sync_notification_failed", "sha", info.SHA, "error", err)
	}

	history := records.SyncHistory{
		ID:            records.NewID(),
		CommitSHA:     info.SHA,
		CommitURL:     info.URL,
		CommitMessage: info.Message,
		Branch:        branch,
		FilesSynced:   len(synced),
		FilesSkipped:  len(skipped),
		SyncedPaths:   synced,
		SkippedPaths:  skipped,
		SyncType:      syncType,
		DurationMS:    elapsed.Milliseconds(),
		Status:        "success",
		CreatedAt:     now,
	}
	if err := s.records.InsertSyncHistory(ctx, history); err != nil {
		s.logger.Warn("sync_history_failed", "sha", info.SHA, "error", err)
	}
}

func defaultCommitMessage(n int, syncType string) string {
	return fmt.Sprintf("chore(sync): update %d file(s) [%s]", n, syncType)
}

func paths(files []FileToSync) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}
