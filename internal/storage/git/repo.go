// Package git versions the data directory with go-git so catalog edits have
// a recovery story despite the whole-file-rewrite storage model.
package git

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Author identifies who made a change for commits.
type Author struct {
	Name  string
	Email string
}

// Commit is one entry of the data directory's history.
type Commit struct {
	Hash        string    `json:"hash"`
	Message     string    `json:"message"`
	Author      string    `json:"author"`
	AuthorEmail string    `json:"author_email"`
	Date        time.Time `json:"date"`
}

// Repo versions a data directory as a git repository using go-git, so no git
// binary is needed. A single process-wide lock serializes commits; mutations
// are rare enough that this does not matter.
type Repo struct {
	dir          string
	defaultName  string
	defaultEmail string

	mu   sync.Mutex
	repo *gogit.Repository
}

// Open opens the repository at dir, initializing it on first use.
func Open(dir, defaultName, defaultEmail string) (*Repo, error) {
	if defaultName == "" {
		defaultName = "shelfdb"
	}
	if defaultEmail == "" {
		defaultEmail = "shelfdb@localhost"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}

	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		// Not a repo yet. Initialize and record the committer identity.
		repo, err = gogit.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = defaultName
		cfg.User.Email = defaultEmail
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	}

	return &Repo{
		dir:          dir,
		defaultName:  defaultName,
		defaultEmail: defaultEmail,
		repo:         repo,
	}, nil
}

// CommitAll stages everything in the data directory and commits it. A clean
// worktree is a no-op. The commit outlives the HTTP request that triggered
// it, so the request context's cancellation is detached.
func (r *Repo) CommitAll(ctx context.Context, author Author, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	_ = ctx // go-git worktree operations don't take a context.

	w, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := w.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return fmt.Errorf("failed to stage changes: %w", err)
	}
	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	if status.IsClean() {
		return nil
	}

	name := author.Name
	email := author.Email
	if name == "" {
		name = r.defaultName
	}
	if email == "" {
		email = r.defaultEmail
	}

	now := time.Now()
	_, err = w.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{Name: name, Email: email, When: now},
		Committer: &object.Signature{
			Name:  r.defaultName,
			Email: r.defaultEmail,
			When:  now,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// History returns up to n commits, newest first. n is capped at 1000.
func (r *Repo) History(_ context.Context, n int) ([]*Commit, error) {
	if n <= 0 || n > 1000 {
		n = 1000
	}

	iter, err := r.repo.Log(&gogit.LogOptions{})
	if err != nil {
		return nil, nil // no commits yet is not an error
	}
	defer iter.Close()

	var commits []*Commit
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, &Commit{
			Hash:        c.Hash.String(),
			Message:     subject,
			Author:      c.Author.Name,
			AuthorEmail: c.Author.Email,
			Date:        c.Author.When,
		})
	}
	return commits, nil
}
