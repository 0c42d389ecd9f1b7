package check

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/prpatrol/prpatrol/internal/config"
)

// bootstrapConfig walks the user through creating a minimal config
// file. Reports whether a file was written.
func (c *Checker) bootstrapConfig() (bool, error) {
	var confirm bool
	if err := huh.NewConfirm().
		Title(fmt.Sprintf("Config file %s does not exist. Create it now?", c.configPath)).
		Affirmative("Yes").
		Negative("No").
		Value(&confirm).
		Run(); err != nil {
		return false, err
	}
	if !confirm {
		return false, nil
	}

	var (
		forgeType = "github"
		forgeURL  string
		token     string
		repos     string
		cliPath   string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Git forge").
				Options(
					huh.NewOption("GitHub", "github"),
					huh.NewOption("Gitea", "gitea"),
					huh.NewOption("GitLab", "gitlab"),
				).
				Value(&forgeType),
			huh.NewInput().
				Title("Forge URL (blank for the hosted service)").
				Value(&forgeURL),
			huh.NewInput().
				Title("Access token").
				EchoMode(huh.EchoModePassword).
				Value(&token),
			huh.NewInput().
				Title("Repositories to track (comma-separated owner/name)").
				Placeholder("acme/widgets, acme/gadgets").
				Value(&repos),
			huh.NewInput().
				Title("LLM CLI path (blank to resolve from PATH)").
				Value(&cliPath),
		),
	).WithTheme(c.theme)

	if err := form.Run(); err != nil {
		return false, err
	}

	cfg := config.Default()
	cfg.Forge.Type = forgeType
	cfg.Forge.URL = strings.TrimSpace(forgeURL)
	cfg.Forge.Token = strings.TrimSpace(token)
	cfg.LLM.CLIPath = strings.TrimSpace(cliPath)
	for _, r := range strings.Split(repos, ",") {
		if r = strings.TrimSpace(r); r != "" {
			cfg.Repositories = append(cfg.Repositories, r)
		}
	}

	if err := writeConfig(c.configPath, cfg); err != nil {
		return false, err
	}

	color.New(color.FgGreen).Printf("  ✓ Created %s\n", c.configPath)
	return true, nil
}

// writeConfig marshals the config to YAML at path.
func writeConfig(path string, cfg *config.Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
