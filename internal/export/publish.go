package export

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNothingToPublish is returned when the bundle matches the last commit.
var ErrNothingToPublish = errors.New("bundle unchanged since last publish")

// Commit describes a publish commit.
type Commit struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}

// Publisher commits bundles into a git working tree for static deployment.
type Publisher struct {
	dir    string
	author string
	email  string
	mu     sync.Mutex
}

func NewPublisher(dir, author, email string) *Publisher {
	if author == "" {
		author = "Strata Export"
	}
	if email == "" {
		email = "export@strata.local"
	}
	return &Publisher{dir: dir, author: author, email: email}
}

// Publish writes the bundle into the repository and commits it on main.
func (p *Publisher) Publish(bundle Bundle, message string) (Commit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	repo, err := p.openOrInit()
	if err != nil {
		return Commit{}, err
	}
	if err := WriteBundle(p.dir, bundle); err != nil {
		return Commit{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, fmt.Errorf("open worktree: %w", err)
	}
	for _, name := range bundle.Names() {
		if _, err := worktree.Add(name); err != nil {
			return Commit{}, fmt.Errorf("git add %s: %w", name, err)
		}
	}

	status, err := worktree.Status()
	if err != nil {
		return Commit{}, fmt.Errorf("worktree status: %w", err)
	}
	changed := false
	for _, name := range bundle.Names() {
		if fs, ok := status[name]; ok && fs.Staging != git.Unmodified {
			changed = true
			break
		}
	}
	if !changed {
		return Commit{}, ErrNothingToPublish
	}

	if message == "" {
		message = "Publish static bundle"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  p.author,
			Email: p.email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return Commit{}, fmt.Errorf("commit bundle: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	slog.Info("bundle published", "hash", hash.String(), "dir", p.dir)
	return toCommit(commitObj), nil
}

// History returns up to limit publish commits, newest first.
func (p *Publisher) History(limit int) ([]Commit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	repo, err := git.PlainOpen(p.dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	commits := []Commit{}
	for limit <= 0 || len(commits) < limit {
		c, err := iter.Next()
		if err != nil {
			break
		}
		commits = append(commits, toCommit(c))
	}
	return commits, nil
}

func (p *Publisher) openOrInit() (*git.Repository, error) {
	repo, err := git.PlainOpen(p.dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(p.dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func toCommit(c *object.Commit) Commit {
	return Commit{
		Hash:    c.Hash.String(),
		Message: c.Message,
		Author:  c.Author.Name,
		When:    c.Author.When,
	}
}
