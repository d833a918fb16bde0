// Package git fills in repository details agents leave out of session records.
package git

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/joescharf/chronicle/internal/models"
)

// Client defines the git lookups used for session enrichment.
type Client interface {
	RepoRoot(path string) (string, error)
	CurrentBranch(path string) (string, error)
}

// RealClient implements Client using real git commands.
type RealClient struct{}

// NewClient returns a new RealClient.
func NewClient() *RealClient {
	return &RealClient{}
}

func gitCmd(path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.Command("git", fullArgs...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *RealClient) RepoRoot(path string) (string, error) {
	return gitCmd(path, "rev-parse", "--show-toplevel")
}

func (c *RealClient) CurrentBranch(path string) (string, error) {
	return gitCmd(path, "rev-parse", "--abbrev-ref", "HEAD")
}

// Enricher caches branch lookups per project path so a burst of records
// for one session runs git once.
type Enricher struct {
	gc Client

	mu       sync.Mutex
	branches map[string]string
}

// NewEnricher creates an Enricher backed by gc.
func NewEnricher(gc Client) *Enricher {
	return &Enricher{gc: gc, branches: make(map[string]string)}
}

// EnrichSession sets GitBranch from the repository at ProjectPath when the
// record has none. Best-effort: lookup failures and detached HEADs leave
// the session unchanged. Reports whether the session was modified.
func (e *Enricher) EnrichSession(s *models.Session) bool {
	if e == nil || e.gc == nil || s.GitBranch != "" || s.ProjectPath == "" {
		return false
	}

	e.mu.Lock()
	branch, cached := e.branches[s.ProjectPath]
	e.mu.Unlock()

	if !cached {
		b, err := e.gc.CurrentBranch(s.ProjectPath)
		if err != nil || b == "HEAD" {
			b = ""
		}
		branch = b
		e.mu.Lock()
		e.branches[s.ProjectPath] = branch
		e.mu.Unlock()
	}

	if branch == "" {
		return false
	}
	s.GitBranch = branch
	return true
}
