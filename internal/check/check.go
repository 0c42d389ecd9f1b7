// Package check provides the environment doctor behind `prpatrol
// check`. It verifies the host has everything a review run needs (git,
// the LLM CLI, a valid config, reachable forge, writable data
// directories) and can interactively bootstrap a config file.
package check

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/prpatrol/prpatrol/pkg/consts"
)

// MinGitMajor/MinGitMinor is the oldest git that supports the worktree
// operations the clone manager relies on.
const (
	MinGitMajor = 2
	MinGitMinor = 20
)

// Status of a single check.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusError
)

// Item is the outcome of one environment check.
type Item struct {
	Name   string
	Status Status
	Detail string
	Fix    string // suggestion printed on warning/error
}

// Result aggregates all check outcomes.
type Result struct {
	Items []Item
}

// Success reports whether no check errored. Warnings do not block.
func (r *Result) Success() bool {
	for _, it := range r.Items {
		if it.Status == StatusError {
			return false
		}
	}
	return true
}

func (r *Result) add(it Item) {
	r.Items = append(r.Items, it)
}

// Checker runs the environment checks against one config file.
type Checker struct {
	configPath string
	theme      *huh.Theme
}

// NewChecker creates a checker for the given config path.
func NewChecker(configPath string) *Checker {
	return &Checker{
		configPath: configPath,
		theme:      huh.ThemeCharm(),
	}
}

// RunCI performs all checks without prompting or writing anything.
func (c *Checker) RunCI(ctx context.Context) *Result {
	res := &Result{}

	res.add(c.checkGit())
	res.add(c.checkChrome())

	cfg, item := c.checkConfig()
	res.add(item)
	if cfg == nil {
		// Everything below needs a loadable config.
		return res
	}

	res.add(c.checkLLM(cfg))
	res.add(c.checkForge(ctx, cfg))
	for _, it := range c.checkDirs(cfg) {
		res.add(it)
	}
	return res
}

// Run executes the interactive check: offers to bootstrap a missing
// config first, then runs the full check set and prints the report.
func (c *Checker) Run(ctx context.Context) error {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		MarginBottom(1)
	fmt.Println(title.Render("🔍 " + consts.DisplayName + " Environment Check"))

	if !fileExists(c.configPath) {
		created, err := c.bootstrapConfig()
		if err != nil {
			return fmt.Errorf("config bootstrap failed: %w", err)
		}
		if !created {
			fmt.Println("Skipped config creation; checks will report it as missing.")
		}
	}

	res := c.RunCI(ctx)
	fmt.Println()
	PrintResult(res)

	if !res.Success() {
		return fmt.Errorf("environment check found errors")
	}
	return nil
}
