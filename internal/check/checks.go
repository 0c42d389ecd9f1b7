package check

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prpatrol/prpatrol/internal/config"
	"github.com/prpatrol/prpatrol/internal/forge"
	"github.com/prpatrol/prpatrol/internal/llm"
)

var gitVersionRe = regexp.MustCompile(`git version (\d+)\.(\d+)`)

// checkGit verifies the git binary exists and is new enough for
// worktree operations.
func (c *Checker) checkGit() Item {
	out, err := exec.Command("git", "version").Output()
	if err != nil {
		return Item{
			Name:   "git binary",
			Status: StatusError,
			Detail: "git not found on PATH",
			Fix:    "install git >= 2.20",
		}
	}
	major, minor, ok := parseGitVersion(string(out))
	if !ok {
		return Item{
			Name:   "git binary",
			Status: StatusWarning,
			Detail: fmt.Sprintf("could not parse %q", strings.TrimSpace(string(out))),
		}
	}
	if major < MinGitMajor || (major == MinGitMajor && minor < MinGitMinor) {
		return Item{
			Name:   "git binary",
			Status: StatusError,
			Detail: fmt.Sprintf("git %d.%d is too old", major, minor),
			Fix:    fmt.Sprintf("upgrade to git >= %d.%d for worktree support", MinGitMajor, MinGitMinor),
		}
	}
	return Item{
		Name:   "git binary",
		Status: StatusOK,
		Detail: fmt.Sprintf("git %d.%d", major, minor),
	}
}

// parseGitVersion extracts major.minor from `git version` output.
func parseGitVersion(out string) (major, minor int, ok bool) {
	m := gitVersionRe.FindStringSubmatch(out)
	if m == nil {
		return 0, 0, false
	}
	major, _ = strconv.Atoi(m[1])
	minor, _ = strconv.Atoi(m[2])
	return major, minor, true
}

// checkChrome looks for a headless-capable browser. PDF export
// degrades to HTML without one, so this is never an error.
func (c *Checker) checkChrome() Item {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return Item{Name: "chrome (PDF export)", Status: StatusOK, Detail: p}
		}
	}
	if p := os.Getenv("CHROME_PATH"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return Item{Name: "chrome (PDF export)", Status: StatusOK, Detail: p}
		}
	}
	return Item{
		Name:   "chrome (PDF export)",
		Status: StatusWarning,
		Detail: "no Chrome binary found",
		Fix:    "install Chrome/Chromium or set CHROME_PATH; review export falls back to HTML",
	}
}

// checkConfig loads and validates the config file. Returns the loaded
// config so later checks can use it.
func (c *Checker) checkConfig() (*config.Config, Item) {
	if !fileExists(c.configPath) {
		return nil, Item{
			Name:   "config file",
			Status: StatusError,
			Detail: c.configPath + " not found",
			Fix:    "run 'prpatrol check' interactively to create one",
		}
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, Item{
			Name:   "config file",
			Status: StatusError,
			Detail: fmt.Sprintf("failed to load: %v", err),
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, Item{
			Name:   "config file",
			Status: StatusError,
			Detail: fmt.Sprintf("invalid: %v", err),
		}
	}
	return cfg, Item{
		Name:   "config file",
		Status: StatusOK,
		Detail: fmt.Sprintf("%s (%d repositories)", c.configPath, len(cfg.Repositories)),
	}
}

// checkLLM verifies the configured LLM client resolves its CLI binary.
func (c *Checker) checkLLM(cfg *config.Config) Item {
	client, err := llm.Create(cfg.LLM.Client, &llm.ClientConfig{
		Name:      cfg.LLM.Client,
		CLIPath:   cfg.LLM.CLIPath,
		Model:     cfg.LLM.Model,
		ExtraArgs: cfg.LLM.ExtraArgs,
		APIKey:    cfg.LLM.APIKey,
	})
	if err != nil {
		return Item{
			Name:   "llm cli",
			Status: StatusError,
			Detail: err.Error(),
			Fix:    fmt.Sprintf("known clients: %s", strings.Join(llm.List(), ", ")),
		}
	}
	if !client.Available() {
		return Item{
			Name:   "llm cli",
			Status: StatusError,
			Detail: fmt.Sprintf("%q binary not resolvable", cfg.LLM.Client),
			Fix:    "install the CLI or set llm.cli_path",
		}
	}
	return Item{Name: "llm cli", Status: StatusOK, Detail: cfg.LLM.Client}
}

// checkForge validates the configured token against the forge API.
func (c *Checker) checkForge(ctx context.Context, cfg *config.Config) Item {
	provider, err := forge.Create(cfg.Forge.Type, &forge.Options{
		Token:              cfg.Forge.Token,
		BaseURL:            cfg.Forge.URL,
		InsecureSkipVerify: cfg.Forge.InsecureSkipVerify,
	})
	if err != nil {
		return Item{
			Name:   "forge token",
			Status: StatusError,
			Detail: err.Error(),
		}
	}
	if cfg.Forge.Token == "" {
		return Item{
			Name:   "forge token",
			Status: StatusWarning,
			Detail: "no token configured",
			Fix:    "set forge.token; anonymous access is rate-limited and cannot post reviews",
		}
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := provider.ValidateToken(ctx); err != nil {
		return Item{
			Name:   "forge token",
			Status: StatusError,
			Detail: fmt.Sprintf("%s rejected the token: %v", provider.Name(), err),
		}
	}
	return Item{Name: "forge token", Status: StatusOK, Detail: provider.Name()}
}

// checkDirs verifies the data locations are writable.
func (c *Checker) checkDirs(cfg *config.Config) []Item {
	dirs := map[string]string{
		"state dir":    filepath.Dir(cfg.Storage.StateFile),
		"audit dir":    filepath.Dir(cfg.Storage.AuditFile),
		"clone dir":    cfg.Storage.CloneDir,
		"database dir": filepath.Dir(cfg.Storage.DatabaseFile),
	}
	names := []string{"state dir", "audit dir", "clone dir", "database dir"}

	items := make([]Item, 0, len(names))
	for _, name := range names {
		dir := dirs[name]
		if err := dirWritable(dir); err != nil {
			items = append(items, Item{
				Name:   name,
				Status: StatusError,
				Detail: fmt.Sprintf("%s: %v", dir, err),
			})
			continue
		}
		items = append(items, Item{Name: name, Status: StatusOK, Detail: dir})
	}
	return items
}

// dirWritable creates the directory if missing and probes it with a
// temp file.
func dirWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".prpatrol-check-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
