// Package history records the TM directories in a git repository using
// go-git, one commit per finished import.
package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Author identifies who made a change.
type Author struct {
	Name  string
	Email string
}

// Commit is one entry of the history.
type Commit struct {
	Hash        string    `json:"hash"`
	Message     string    `json:"message"`
	Body        string    `json:"body,omitempty"`
	Author      string    `json:"author"`
	AuthorEmail string    `json:"authorEmail"`
	When        time.Time `json:"when"`
}

// MaxLog caps the number of commits Log returns.
const MaxLog = 1000

// Repo is a git repository rooted at a directory holding TMs.
type Repo struct {
	dir      string
	defaults Author
	repo     *gogit.Repository
	mu       sync.Mutex
}

// Open opens the repository in dir, initializing it when needed.
func Open(dir string, defaults Author) (*Repo, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}
	repo, err := gogit.PlainOpen(dir)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		repo, err = gogit.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = defaults.Name
		cfg.User.Email = defaults.Email
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open git repo: %w", err)
	}
	return &Repo{dir: dir, defaults: defaults, repo: repo}, nil
}

// Dir returns the working directory.
func (r *Repo) Dir() string { return r.dir }

// Commit stages every change of the working tree, deletions included, and
// commits them. It returns an empty hash when there was nothing to commit.
func (r *Repo) Commit(_ context.Context, author Author, msg string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := w.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to stage files: %w", err)
	}
	status, err := w.Status()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree status: %w", err)
	}
	if status.IsClean() {
		return "", nil
	}
	if author.Name == "" {
		author.Name = r.defaults.Name
	}
	if author.Email == "" {
		author.Email = r.defaults.Email
	}
	now := time.Now()
	h, err := w.Commit(msg, &gogit.CommitOptions{
		Author:    &object.Signature{Name: author.Name, Email: author.Email, When: now},
		Committer: &object.Signature{Name: r.defaults.Name, Email: r.defaults.Email, When: now},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return h.String(), nil
}

// Log returns up to n commits touching the files under dir, a path relative
// to the repository root, most recent first. An empty dir selects every
// commit. n <= 0 or above MaxLog means MaxLog.
func (r *Repo) Log(_ context.Context, dir string, n int) ([]*Commit, error) {
	if n <= 0 || n > MaxLog {
		n = MaxLog
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	opts := &gogit.LogOptions{}
	if dir = strings.Trim(dir, "/"); dir != "" && dir != "." {
		prefix := dir + "/"
		opts.PathFilter = func(p string) bool { return strings.HasPrefix(p, prefix) }
	}
	iter, err := r.repo.Log(opts)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		// No commit yet.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read git log: %w", err)
	}
	defer iter.Close()
	var out []*Commit
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		subject, body, _ := strings.Cut(c.Message, "\n")
		out = append(out, &Commit{
			Hash:        c.Hash.String(),
			Message:     subject,
			Body:        strings.TrimSpace(body),
			Author:      c.Author.Name,
			AuthorEmail: c.Author.Email,
			When:        c.Author.When,
		})
	}
	return out, nil
}
