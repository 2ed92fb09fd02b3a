// Package githost exposes the low-level Git object operations needed to
// build a commit without a working tree: read a file, resolve a branch,
// create blobs, trees and commits, and move a branch ref.
package githost

import (
	"context"
	"errors"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
)

const (
	// ModeFile is a regular, non-executable file.
	ModeFile = "100644"
	// TypeBlob is the only tree entry type callers create.
	TypeBlob = "blob"
)

var (
	// ErrNotFound is returned when a file, ref or object does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a ref update is not a fast-forward.
	ErrConflict = errors.New("reference update conflict")
)

// File is a file read from a branch.
type File struct {
	Path    string
	Content []byte
	SHA     string
}

// TreeEntry overrides one path in a base tree.
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// Signature identifies a commit author.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// CommitSpec describes a commit to create.
type CommitSpec struct {
	Message string
	Tree    string
	Parents []string
	Author  Signature
}

// Commit is a created commit.
type Commit struct {
	SHA string
	URL string
}

// Host is a remote or local Git object store.
type Host interface {
	GetFile(ctx context.Context, branch, path string) (File, error)
	GetRef(ctx context.Context, branch string) (string, error)
	GetCommitTree(ctx context.Context, commitSHA string) (string, error)
	CreateBlob(ctx context.Context, content []byte) (string, error)
	CreateTree(ctx context.Context, baseTree string, entries []TreeEntry) (string, error)
	CreateCommit(ctx context.Context, spec CommitSpec) (Commit, error)
	// UpdateRef moves branch to sha without forcing. It fails with
	// ErrConflict when sha does not descend from the current tip.
	UpdateRef(ctx context.Context, branch, sha string) error
}

// BlobSHA returns the Git object id content would have as a blob.
func BlobSHA(content []byte) string {
	return plumbing.ComputeHash(plumbing.BlobObject, content).String()
}
