package githost

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/memory"
)

// Local implements Host directly on a go-git object store, either a
// repository on disk or an in-memory one.
type Local struct {
	mu      sync.Mutex
	storer  storage.Storer
	baseURL string
}

// NewLocal wraps an open repository. Commit URLs are baseURL + "/commit/" + sha.
func NewLocal(repo *git.Repository, baseURL string) *Local {
	return &Local{storer: repo.Storer, baseURL: strings.TrimRight(baseURL, "/")}
}

// OpenLocal opens the repository at dir, bare or with a worktree.
func OpenLocal(dir string) (*Local, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", dir, err)
	}
	return NewLocal(repo, "file://"+dir), nil
}

// NewMemory returns an empty in-memory repository with no branches.
func NewMemory() (*Local, error) {
	repo, err := git.Init(memory.NewStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("init memory repository: %w", err)
	}
	return NewLocal(repo, "memory://jukeboxd"), nil
}

// GetFile reads path from the tip of branch.
func (l *Local) GetFile(_ context.Context, branch, filePath string) (File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tip, err := l.branchHash(branch)
	if err != nil {
		return File{}, err
	}
	commit, err := object.GetCommit(l.storer, tip)
	if err != nil {
		return File{}, l.objectErr("commit", tip, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return File{}, l.objectErr("tree", commit.TreeHash, err)
	}

	f, err := tree.File(strings.Trim(filePath, "/"))
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) || errors.Is(err, object.ErrDirectoryNotFound) || errors.Is(err, object.ErrEntryNotFound) {
			return File{}, fmt.Errorf("file %s on %s: %w", filePath, branch, ErrNotFound)
		}
		return File{}, fmt.Errorf("read %s: %w", filePath, err)
	}
	contents, err := f.Contents()
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", filePath, err)
	}
	return File{Path: filePath, Content: []byte(contents), SHA: f.Hash.String()}, nil
}

// GetRef returns the commit sha at the tip of branch.
func (l *Local) GetRef(_ context.Context, branch string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, err := l.branchHash(branch)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

// GetCommitTree returns the root tree sha of a commit.
func (l *Local) GetCommitTree(_ context.Context, commitSHA string) (string, error) {
	h, err := parseHash(commitSHA)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	commit, err := object.GetCommit(l.storer, h)
	if err != nil {
		return "", l.objectErr("commit", h, err)
	}
	return commit.TreeHash.String(), nil
}

// CreateBlob stores content as a blob object.
func (l *Local) CreateBlob(_ context.Context, content []byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, err := l.writeBlob(content)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

// CreateTree writes a new root tree: baseTree with each entry's path
// replaced, creating intermediate directories as needed.
func (l *Local) CreateTree(_ context.Context, baseTree string, entries []TreeEntry) (string, error) {
	overrides := make(map[string]object.TreeEntry, len(entries))
	for _, e := range entries {
		if e.Type != "" && e.Type != TypeBlob {
			return "", fmt.Errorf("tree entry %s: unsupported type %q", e.Path, e.Type)
		}
		clean, err := cleanPath(e.Path)
		if err != nil {
			return "", err
		}
		mode, err := filemode.New(e.Mode)
		if err != nil {
			return "", fmt.Errorf("tree entry %s: %w", e.Path, err)
		}
		if mode == filemode.Dir || mode == filemode.Submodule {
			return "", fmt.Errorf("tree entry %s: mode %s is not a file mode", e.Path, e.Mode)
		}
		h, err := parseHash(e.SHA)
		if err != nil {
			return "", fmt.Errorf("tree entry %s: %w", e.Path, err)
		}
		overrides[clean] = object.TreeEntry{Name: path.Base(clean), Mode: mode, Hash: h}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for p, e := range overrides {
		if err := l.storer.HasEncodedObject(e.Hash); err != nil {
			return "", fmt.Errorf("tree entry %s: blob %s: %w", p, e.Hash, ErrNotFound)
		}
	}

	var base *object.Tree
	if strings.TrimSpace(baseTree) != "" {
		h, err := parseHash(baseTree)
		if err != nil {
			return "", err
		}
		base, err = object.GetTree(l.storer, h)
		if err != nil {
			return "", l.objectErr("tree", h, err)
		}
	}

	h, err := l.overlayTree(base, overrides)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

// CreateCommit stores a commit object. The committer matches the author.
func (l *Local) CreateCommit(_ context.Context, spec CommitSpec) (Commit, error) {
	treeHash, err := parseHash(spec.Tree)
	if err != nil {
		return Commit{}, err
	}
	parents := make([]plumbing.Hash, 0, len(spec.Parents))
	for _, p := range spec.Parents {
		h, err := parseHash(p)
		if err != nil {
			return Commit{}, err
		}
		parents = append(parents, h)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := object.GetTree(l.storer, treeHash); err != nil {
		return Commit{}, l.objectErr("tree", treeHash, err)
	}
	for _, p := range parents {
		if _, err := object.GetCommit(l.storer, p); err != nil {
			return Commit{}, l.objectErr("parent commit", p, err)
		}
	}

	h, err := l.writeCommit(spec, treeHash, parents)
	if err != nil {
		return Commit{}, err
	}
	return Commit{SHA: h.String(), URL: l.commitURL(h)}, nil
}

// UpdateRef fast-forwards branch to sha. Moving to a commit that does not
// descend from the current tip, or losing a race with another writer,
// returns ErrConflict.
func (l *Local) UpdateRef(_ context.Context, branch, sha string) error {
	target, err := parseHash(sha)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	name := plumbing.NewBranchReferenceName(branch)
	current, err := l.storer.Reference(name)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return fmt.Errorf("branch %s: %w", branch, ErrNotFound)
		}
		return fmt.Errorf("read ref %s: %w", name, err)
	}
	if current.Hash() == target {
		return nil
	}

	tipCommit, err := object.GetCommit(l.storer, current.Hash())
	if err != nil {
		return l.objectErr("commit", current.Hash(), err)
	}
	targetCommit, err := object.GetCommit(l.storer, target)
	if err != nil {
		return l.objectErr("commit", target, err)
	}
	ok, err := tipCommit.IsAncestor(targetCommit)
	if err != nil {
		return fmt.Errorf("check ancestry: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: update is not a fast forward", ErrConflict)
	}

	next := plumbing.NewHashReference(name, target)
	if err := l.storer.CheckAndSetReference(next, current); err != nil {
		if errors.Is(err, storage.ErrReferenceHasChanged) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return fmt.Errorf("update ref %s: %w", name, err)
	}
	return nil
}

// CreateBranch commits files onto branch, starting from its current tip
// when it exists or as a root commit otherwise, and moves the branch
// unconditionally. It returns the new commit sha.
func (l *Local) CreateBranch(_ context.Context, branch string, files map[string]string, author Signature) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	overrides := make(map[string]object.TreeEntry, len(files))
	for p, content := range files {
		clean, err := cleanPath(p)
		if err != nil {
			return "", err
		}
		h, err := l.writeBlob([]byte(content))
		if err != nil {
			return "", err
		}
		overrides[clean] = object.TreeEntry{Name: path.Base(clean), Mode: filemode.Regular, Hash: h}
	}

	var base *object.Tree
	var parents []plumbing.Hash
	if tip, err := l.branchHash(branch); err == nil {
		commit, err := object.GetCommit(l.storer, tip)
		if err != nil {
			return "", l.objectErr("commit", tip, err)
		}
		if base, err = commit.Tree(); err != nil {
			return "", l.objectErr("tree", commit.TreeHash, err)
		}
		parents = append(parents, tip)
	}

	treeHash, err := l.overlayTree(base, overrides)
	if err != nil {
		return "", err
	}
	if author.When.IsZero() {
		author.When = time.Now()
	}
	h, err := l.writeCommit(CommitSpec{Message: "seed " + branch, Author: author}, treeHash, parents)
	if err != nil {
		return "", err
	}
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), h)
	if err := l.storer.SetReference(ref); err != nil {
		return "", fmt.Errorf("set ref %s: %w", ref.Name(), err)
	}
	return h.String(), nil
}

// CommitCount returns the number of commits reachable from branch.
func (l *Local) CommitCount(branch string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tip, err := l.branchHash(branch)
	if err != nil {
		return 0, err
	}
	commit, err := object.GetCommit(l.storer, tip)
	if err != nil {
		return 0, l.objectErr("commit", tip, err)
	}

	count := 0
	iter := object.NewCommitPreorderIter(commit, nil, nil)
	defer iter.Close()
	err = iter.ForEach(func(*object.Commit) error {
		count++
		return nil
	})
	return count, err
}

func (l *Local) branchHash(branch string) (plumbing.Hash, error) {
	ref, err := l.storer.Reference(plumbing.NewBranchReferenceName(branch))
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return plumbing.ZeroHash, fmt.Errorf("branch %s: %w", branch, ErrNotFound)
		}
		return plumbing.ZeroHash, fmt.Errorf("read branch %s: %w", branch, err)
	}
	return ref.Hash(), nil
}

func (l *Local) writeBlob(content []byte) (plumbing.Hash, error) {
	obj := l.storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(content)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open blob writer: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return plumbing.ZeroHash, fmt.Errorf("write blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("close blob: %w", err)
	}
	return l.storer.SetEncodedObject(obj)
}

func (l *Local) writeCommit(spec CommitSpec, tree plumbing.Hash, parents []plumbing.Hash) (plumbing.Hash, error) {
	sig := object.Signature{Name: spec.Author.Name, Email: spec.Author.Email, When: spec.Author.When}
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      spec.Message,
		TreeHash:     tree,
		ParentHashes: parents,
	}
	obj := l.storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode commit: %w", err)
	}
	return l.storer.SetEncodedObject(obj)
}

// overlayTree writes base with overrides applied. Override keys are clean
// slash-separated paths relative to base.
func (l *Local) overlayTree(base *object.Tree, overrides map[string]object.TreeEntry) (plumbing.Hash, error) {
	entries := make(map[string]object.TreeEntry)
	if base != nil {
		for _, e := range base.Entries {
			entries[e.Name] = e
		}
	}

	nested := make(map[string]map[string]object.TreeEntry)
	for p, e := range overrides {
		dir, rest, ok := strings.Cut(p, "/")
		if !ok {
			entries[p] = e
			continue
		}
		if nested[dir] == nil {
			nested[dir] = make(map[string]object.TreeEntry)
		}
		nested[dir][rest] = e
	}

	for dir, sub := range nested {
		var subBase *object.Tree
		if existing, ok := entries[dir]; ok && existing.Mode == filemode.Dir {
			t, err := object.GetTree(l.storer, existing.Hash)
			if err != nil {
				return plumbing.ZeroHash, l.objectErr("tree", existing.Hash, err)
			}
			subBase = t
		}
		h, err := l.overlayTree(subBase, sub)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries[dir] = object.TreeEntry{Name: dir, Mode: filemode.Dir, Hash: h}
	}

	sorted := make([]object.TreeEntry, 0, len(entries))
	for _, e := range entries {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return treeSortKey(sorted[i]) < treeSortKey(sorted[j])
	})

	tree := &object.Tree{Entries: sorted}
	obj := l.storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode tree: %w", err)
	}
	return l.storer.SetEncodedObject(obj)
}

// treeSortKey orders entries the way git does: directories sort as if
// their name ended in "/".
func treeSortKey(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

func (l *Local) commitURL(h plumbing.Hash) string {
	if l.baseURL == "" {
		return ""
	}
	return l.baseURL + "/commit/" + h.String()
}

func (l *Local) objectErr(kind string, h plumbing.Hash, err error) error {
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return fmt.Errorf("%s %s: %w", kind, h, ErrNotFound)
	}
	return fmt.Errorf("read %s %s: %w", kind, h, err)
}

func parseHash(s string) (plumbing.Hash, error) {
	s = strings.TrimSpace(s)
	if len(s) != 40 {
		return plumbing.ZeroHash, fmt.Errorf("invalid object id %q", s)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("invalid object id %q", s)
	}
	return plumbing.NewHash(s), nil
}

func cleanPath(p string) (string, error) {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.HasPrefix(trimmed, "/") {
		return "", fmt.Errorf("path %q must be relative", p)
	}
	for _, seg := range strings.Split(trimmed, "/") {
		if seg == "" || seg == "." || seg == ".." || seg == ".git" {
			return "", fmt.Errorf("invalid path %q", p)
		}
	}
	return trimmed, nil
}

var _ Host = (*Local)(nil)
