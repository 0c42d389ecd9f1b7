package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/pkg/errors"
	"github.com/prpatrol/prpatrol/pkg/logger"
)

// worktreeSuffix separates the repo directory name from the PR marker.
// Worktrees are siblings of their bare clone under the owner directory.
const worktreeSuffix = "--pr-"

// Remote supplies URLs, refs and credentials for the forge that hosts
// the tracked repositories. The forge provider satisfies this.
type Remote interface {
	// CloneURL returns the https clone URL without embedded credentials.
	CloneURL(owner, repo string) string
	// PRRef returns the pseudo-ref that points at a PR's head, for
	// example refs/pull/7/head.
	PRRef(number int) string
	// AuthToken returns the token used for git network operations,
	// or empty for anonymous access.
	AuthToken() string
}

// Manager owns the clone directory. It keeps one bare clone per
// (owner, repo) and one detached worktree per PR, serializing all
// operations on the same repository through a per-repo mutex.
type Manager struct {
	cloneDir string
	remote   Remote
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a worktree manager rooted at cloneDir.
func NewManager(cloneDir string, remote Remote) *Manager {
	return &Manager{
		cloneDir: cloneDir,
		remote:   remote,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

// repoLock returns the mutex guarding one repository's bare clone.
func (m *Manager) repoLock(owner, repo string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := owner + "/" + repo
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}

// ClonePath returns where the bare clone for a repository lives.
func (m *Manager) ClonePath(owner, repo string) string {
	return filepath.Join(m.cloneDir, owner, repo)
}

// WorktreePath returns where the worktree for a PR lives.
func (m *Manager) WorktreePath(owner, repo string, number int) string {
	return filepath.Join(m.cloneDir, owner, fmt.Sprintf("%s%s%d", repo, worktreeSuffix, number))
}

// EnsureClone makes sure a valid bare clone exists for the repository,
// cloning on first sighting and fetching origin otherwise. A directory
// that fails the git metadata probe is deleted and re-cloned.
func (m *Manager) EnsureClone(ctx context.Context, owner, repo string) (string, error) {
	lock := m.repoLock(owner, repo)
	lock.Lock()
	defer lock.Unlock()
	return m.ensureCloneLocked(ctx, owner, repo)
}

func (m *Manager) ensureCloneLocked(ctx context.Context, owner, repo string) (string, error) {
	clonePath := m.ClonePath(owner, repo)

	if _, err := os.Stat(clonePath); err == nil {
		if out, probeErr := runGit(ctx, defaultTimeout, clonePath, nil, "rev-parse", "--is-bare-repository"); probeErr != nil || out != "true" {
			logger.Warn("Bare clone failed metadata probe, re-cloning",
				zap.String("path", clonePath),
				zap.Error(probeErr))
			if rmErr := os.RemoveAll(clonePath); rmErr != nil {
				return "", errors.Wrap(errors.ErrCodeClonePrepare, "failed to remove corrupt clone", rmErr)
			}
		} else {
			env, cleanup := m.authEnv()
			_, fetchErr := runGit(ctx, networkTimeout, clonePath, env, "fetch", "--no-tags", "origin")
			cleanup()
			if fetchErr != nil {
				return "", errors.Wrap(errors.ErrCodeClonePrepare, "failed to fetch origin", fetchErr)
			}
			return clonePath, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(clonePath), 0755); err != nil {
		return "", errors.Wrap(errors.ErrCodeClonePrepare, "failed to create clone directory", err)
	}

	url := m.remote.CloneURL(owner, repo)
	logger.Info("Cloning repository",
		zap.String("owner", owner),
		zap.String("repo", repo),
		zap.String("dest", clonePath))

	env, cleanup := m.authEnv()
	defer cleanup()
	if _, err := runGit(ctx, networkTimeout, "", env, "clone", "--bare", url, clonePath); err != nil {
		return "", errors.Wrap(errors.ErrCodeClonePrepare, "failed to clone repository", err)
	}
	return clonePath, nil
}

// PrepareForPR produces a detached worktree checked out at headSha for
// the given PR and returns its path. Any stale worktree at the PR's
// path is removed first.
func (m *Manager) PrepareForPR(ctx context.Context, owner, repo string, number int, headSha string) (string, error) {
	lock := m.repoLock(owner, repo)
	lock.Lock()
	defer lock.Unlock()

	clonePath, err := m.ensureCloneLocked(ctx, owner, repo)
	if err != nil {
		return "", err
	}

	if err := m.fetchPRRef(ctx, clonePath, number); err != nil {
		return "", err
	}

	wtPath := m.WorktreePath(owner, repo, number)
	m.removeWorktree(ctx, clonePath, wtPath)

	if _, err := runGit(ctx, defaultTimeout, clonePath, nil, "worktree", "add", "--detach", wtPath, headSha); err != nil {
		return "", errors.Wrap(errors.ErrCodeClonePrepare,
			fmt.Sprintf("failed to create worktree at %s", headSha), err)
	}

	logger.Debug("Prepared PR worktree",
		zap.String("path", wtPath),
		zap.String("head_sha", headSha))
	return wtPath, nil
}

// fetchPRRef fetches the PR pseudo-ref into a local pr-<n> branch. A
// non-fast-forward failure (rebase or force-push upstream) deletes the
// local branch and retries once.
func (m *Manager) fetchPRRef(ctx context.Context, clonePath string, number int) error {
	prRef := m.remote.PRRef(number)
	localBranch := fmt.Sprintf("pr-%d", number)
	refspec := prRef + ":" + localBranch

	env, cleanup := m.authEnv()
	defer cleanup()

	_, err := runGit(ctx, networkTimeout, clonePath, env, "fetch", "--no-tags", "origin", refspec)
	if err == nil {
		return nil
	}

	if strings.Contains(err.Error(), "non-fast-forward") {
		logger.Info("PR ref fetch was non-fast-forward, deleting local branch and retrying",
			zap.String("path", clonePath),
			zap.String("branch", localBranch))
		if _, delErr := runGit(ctx, defaultTimeout, clonePath, nil, "branch", "-D", localBranch); delErr != nil &&
			!strings.Contains(delErr.Error(), "not found") {
			return errors.Wrap(errors.ErrCodeClonePrepare, "failed to delete local PR branch", delErr)
		}
		if _, retryErr := runGit(ctx, networkTimeout, clonePath, env, "fetch", "--no-tags", "origin", refspec); retryErr != nil {
			return errors.Wrap(errors.ErrCodeClonePrepare, "failed to fetch PR ref after retry", retryErr)
		}
		return nil
	}

	return errors.Wrap(errors.ErrCodeClonePrepare, fmt.Sprintf("failed to fetch %s", prRef), err)
}

// removeWorktree takes a worktree out of service, preferring git and
// falling back to filesystem removal plus prune when git refuses.
func (m *Manager) removeWorktree(ctx context.Context, clonePath, wtPath string) {
	if _, err := os.Stat(wtPath); os.IsNotExist(err) {
		// The bookkeeping entry may still exist after a manual
		// delete; prune quietly.
		_, _ = runGit(ctx, defaultTimeout, clonePath, nil, "worktree", "prune")
		return
	}

	if _, err := runGit(ctx, defaultTimeout, clonePath, nil, "worktree", "remove", "--force", wtPath); err != nil {
		logger.Warn("git worktree remove failed, falling back to filesystem removal",
			zap.String("path", wtPath),
			zap.Error(err))
		if rmErr := os.RemoveAll(wtPath); rmErr != nil {
			logger.Warn("Failed to remove worktree directory",
				zap.String("path", wtPath),
				zap.Error(rmErr))
		}
		_, _ = runGit(ctx, defaultTimeout, clonePath, nil, "worktree", "prune")
	}
}

// CleanupPR removes a PR's worktree in the background. It never blocks
// the caller and swallows errors.
func (m *Manager) CleanupPR(owner, repo string, number int) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
		defer cancel()

		lock := m.repoLock(owner, repo)
		lock.Lock()
		defer lock.Unlock()

		m.removeWorktree(ctx, m.ClonePath(owner, repo), m.WorktreePath(owner, repo, number))
	}()
}

// PruneStaleWorktrees removes worktrees whose directory has not been
// modified within maxAge and returns how many were removed.
func (m *Manager) PruneStaleWorktrees(ctx context.Context, maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)
	removed := 0

	for _, wt := range m.listWorktrees() {
		info, err := os.Stat(wt.path)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		lock := m.repoLock(wt.owner, wt.repo)
		lock.Lock()
		m.removeWorktree(ctx, m.ClonePath(wt.owner, wt.repo), wt.path)
		lock.Unlock()

		logger.Info("Pruned stale worktree",
			zap.String("path", wt.path),
			zap.Time("mtime", info.ModTime()))
		removed++
	}
	return removed
}

// PruneUntracked deletes bare clones (and their worktrees) for
// repositories that are no longer tracked. tracked is keyed by
// "owner/repo". Returns how many clones were removed.
func (m *Manager) PruneUntracked(tracked map[string]bool) int {
	removed := 0

	owners, err := os.ReadDir(m.cloneDir)
	if err != nil {
		return 0
	}
	for _, ownerEntry := range owners {
		if !ownerEntry.IsDir() {
			continue
		}
		owner := ownerEntry.Name()
		repos, err := os.ReadDir(filepath.Join(m.cloneDir, owner))
		if err != nil {
			continue
		}
		for _, repoEntry := range repos {
			name := repoEntry.Name()
			if !repoEntry.IsDir() || strings.Contains(name, worktreeSuffix) {
				continue
			}
			if tracked[owner+"/"+name] {
				continue
			}

			lock := m.repoLock(owner, name)
			lock.Lock()
			// Drop the clone's worktrees first so none are orphaned.
			prefix := name + worktreeSuffix
			for _, sibling := range repos {
				if strings.HasPrefix(sibling.Name(), prefix) {
					_ = os.RemoveAll(filepath.Join(m.cloneDir, owner, sibling.Name()))
				}
			}
			if err := os.RemoveAll(filepath.Join(m.cloneDir, owner, name)); err != nil {
				logger.Warn("Failed to remove untracked clone",
					zap.String("owner", owner),
					zap.String("repo", name),
					zap.Error(err))
				lock.Unlock()
				continue
			}
			lock.Unlock()

			logger.Info("Removed clone for untracked repository",
				zap.String("owner", owner),
				zap.String("repo", name))
			removed++
		}
	}
	return removed
}

type worktreeEntry struct {
	owner string
	repo  string
	path  string
}

// listWorktrees scans the clone directory for PR worktree directories.
func (m *Manager) listWorktrees() []worktreeEntry {
	var out []worktreeEntry

	owners, err := os.ReadDir(m.cloneDir)
	if err != nil {
		return nil
	}
	for _, ownerEntry := range owners {
		if !ownerEntry.IsDir() {
			continue
		}
		owner := ownerEntry.Name()
		repos, err := os.ReadDir(filepath.Join(m.cloneDir, owner))
		if err != nil {
			continue
		}
		for _, repoEntry := range repos {
			name := repoEntry.Name()
			idx := strings.Index(name, worktreeSuffix)
			if !repoEntry.IsDir() || idx < 0 {
				continue
			}
			out = append(out, worktreeEntry{
				owner: owner,
				repo:  name[:idx],
				path:  filepath.Join(m.cloneDir, owner, name),
			})
		}
	}
	return out
}

// authEnv builds the git environment for authenticated network
// operations. The token travels through a GIT_ASKPASS helper script,
// never through the URL. The returned cleanup removes the script and
// must always be called.
func (m *Manager) authEnv() ([]string, func()) {
	token := m.remote.AuthToken()
	if token == "" {
		return nil, func() {}
	}
	helperPath, cleanup, err := createCredentialHelper(token)
	if err != nil {
		logger.Error("Failed to create credential helper",
			zap.Error(err),
			zap.String("token", MaskToken(token)))
		return nil, func() {}
	}
	return []string{
		"GIT_ASKPASS=" + helperPath,
		"GIT_USERNAME=oauth2",
	}, cleanup
}
