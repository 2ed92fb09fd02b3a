package githost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	githubDefaultAPIURL  = "https://api.github.com"
	githubAPIVersion     = "2022-11-28"
	githubDefaultTimeout = 30 * time.Second
)

// APIError is a non-success response from the GitHub API.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// GitHubOptions configures a GitHub host.
type GitHubOptions struct {
	Owner      string
	Repo       string
	Token      string
	APIURL     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// GitHub implements Host over the GitHub REST Git database API.
type GitHub struct {
	owner      string
	repo       string
	token      string
	apiURL     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGitHub creates a GitHub host. Owner, repo and token are required.
func NewGitHub(opts GitHubOptions) (*GitHub, error) {
	owner := strings.TrimSpace(opts.Owner)
	repo := strings.TrimSpace(opts.Repo)
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("github owner and repo are required")
	}
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}

	apiURL := strings.TrimRight(strings.TrimSpace(opts.APIURL), "/")
	if apiURL == "" {
		apiURL = githubDefaultAPIURL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: githubDefaultTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &GitHub{
		owner:      owner,
		repo:       repo,
		token:      token,
		apiURL:     apiURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type githubContent struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type githubRef struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA  string `json:"sha"`
		Type string `json:"type"`
	} `json:"object"`
}

type githubCommit struct {
	SHA     string `json:"sha"`
	HTMLURL string `json:"html_url"`
	Tree    struct {
		SHA string `json:"sha"`
	} `json:"tree"`
}

type githubSHA struct {
	SHA string `json:"sha"`
}

type githubBlobRequest struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type githubTreeRequest struct {
	BaseTree string      `json:"base_tree,omitempty"`
	Tree     []TreeEntry `json:"tree"`
}

type githubSignature struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Date  string `json:"date,omitempty"`
}

type githubCommitRequest struct {
	Message string           `json:"message"`
	Tree    string           `json:"tree"`
	Parents []string         `json:"parents"`
	Author  *githubSignature `json:"author,omitempty"`
}

type githubRefUpdate struct {
	SHA   string `json:"sha"`
	Force bool   `json:"force"`
}

type githubErrorResponse struct {
	Message string `json:"message"`
}

// GetFile reads path at branch through the contents API.
func (g *GitHub) GetFile(ctx context.Context, branch, path string) (File, error) {
	endpoint := g.repoPath("contents", escapePath(path)) + "?ref=" + url.QueryEscape(branch)

	var content githubContent
	if err := g.do(ctx, "get file", http.MethodGet, endpoint, nil, &content); err != nil {
		return File{}, err
	}
	if content.Type != "" && content.Type != "file" {
		return File{}, fmt.Errorf("github: %s is a %s, not a file", path, content.Type)
	}

	var data []byte
	switch content.Encoding {
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
		if err != nil {
			return File{}, fmt.Errorf("github: decode %s: %w", path, err)
		}
		data = decoded
	default:
		data = []byte(content.Content)
	}

	return File{Path: path, Content: data, SHA: content.SHA}, nil
}

// GetRef returns the commit sha at the tip of branch.
func (g *GitHub) GetRef(ctx context.Context, branch string) (string, error) {
	var ref githubRef
	if err := g.do(ctx, "get ref", http.MethodGet, g.repoPath("git", "ref", "heads", escapePath(branch)), nil, &ref); err != nil {
		return "", err
	}
	return ref.Object.SHA, nil
}

// GetCommitTree returns the root tree sha of a commit.
func (g *GitHub) GetCommitTree(ctx context.Context, commitSHA string) (string, error) {
	var commit githubCommit
	if err := g.do(ctx, "get commit", http.MethodGet, g.repoPath("git", "commits", commitSHA), nil, &commit); err != nil {
		return "", err
	}
	return commit.Tree.SHA, nil
}

// CreateBlob uploads content. Valid UTF-8 is sent as-is, anything else base64 encoded.
func (g *GitHub) CreateBlob(ctx context.Context, content []byte) (string, error) {
	req := githubBlobRequest{Content: string(content), Encoding: "utf-8"}
	if !utf8.Valid(content) {
		req = githubBlobRequest{Content: base64.StdEncoding.EncodeToString(content), Encoding: "base64"}
	}

	var out githubSHA
	if err := g.do(ctx, "create blob", http.MethodPost, g.repoPath("git", "blobs"), req, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

// CreateTree creates a tree from baseTree with entries overlaid.
func (g *GitHub) CreateTree(ctx context.Context, baseTree string, entries []TreeEntry) (string, error) {
	var out githubSHA
	req := githubTreeRequest{BaseTree: baseTree, Tree: entries}
	if err := g.do(ctx, "create tree", http.MethodPost, g.repoPath("git", "trees"), req, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

// CreateCommit creates a commit object. It does not move any ref.
func (g *GitHub) CreateCommit(ctx context.Context, spec CommitSpec) (Commit, error) {
	req := githubCommitRequest{
		Message: spec.Message,
		Tree:    spec.Tree,
		Parents: spec.Parents,
	}
	if req.Parents == nil {
		req.Parents = []string{}
	}
	if spec.Author.Name != "" {
		sig := &githubSignature{Name: spec.Author.Name, Email: spec.Author.Email}
		if !spec.Author.When.IsZero() {
			sig.Date = spec.Author.When.UTC().Format(time.RFC3339)
		}
		req.Author = sig
	}

	var out githubCommit
	if err := g.do(ctx, "create commit", http.MethodPost, g.repoPath("git", "commits"), req, &out); err != nil {
		return Commit{}, err
	}

	commitURL := out.HTMLURL
	if commitURL == "" {
		commitURL = fmt.Sprintf("https://github.com/%s/%s/commit/%s", g.owner, g.repo, out.SHA)
	}
	return Commit{SHA: out.SHA, URL: commitURL}, nil
}

// UpdateRef moves branch to sha with force disabled. GitHub rejects
// non-fast-forward updates with 422, which is reported as ErrConflict.
func (g *GitHub) UpdateRef(ctx context.Context, branch, sha string) error {
	req := githubRefUpdate{SHA: sha, Force: false}
	err := g.do(ctx, "update ref", http.MethodPatch, g.repoPath("git", "refs", "heads", escapePath(branch)), req, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusUnprocessableEntity || apiErr.StatusCode == http.StatusConflict {
			return fmt.Errorf("%w: %s", ErrConflict, apiErr.Message)
		}
	}
	return err
}

func (g *GitHub) repoPath(parts ...string) string {
	return "/repos/" + url.PathEscape(g.owner) + "/" + url.PathEscape(g.repo) + "/" + strings.Join(parts, "/")
}

func (g *GitHub) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("github: %s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.apiURL+path, reader)
	if err != nil {
		return fmt.Errorf("github: %s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	req.Header.Set("User-Agent", "jukeboxd")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github: %s: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("github: %s: read response: %w", op, err)
	}
	g.logger.Debug("github_request",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("github: %s: %w", op, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: githubErrorMessage(respBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("github: %s: parse response: %w", op, err)
	}
	return nil
}

func githubErrorMessage(body []byte) string {
	var errResp githubErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		return errResp.Message
	}
	return strings.TrimSpace(string(body))
}

func escapePath(p string) string {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

var _ Host = (*GitHub)(nil)
