package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/huh"
)

// Wizard asks for the values a first run needs and stores them in cfg.
// It requires an interactive terminal.
func Wizard(cfg *Config) error {
	accounts := strings.Join(cfg.Accounts, ", ")
	baseURL := cfg.Remote.BaseURL
	token := cfg.Remote.Token
	dataDir := cfg.DataDir
	listMembers := cfg.Sync.ListMembers
	dashboard := cfg.Dashboard.Enabled

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Accounts").
				Description("Comma-separated usernames to keep in sync").
				Value(&accounts).
				Validate(func(s string) error {
					if len(SplitAccounts(s)) == 0 {
						return ErrNoAccounts
					}
					return nil
				}),
			huh.NewInput().
				Title("API base URL").
				Placeholder("https://api.example.com/1.1/").
				Value(&baseURL).
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					u, err := url.Parse(s)
					if err != nil || u.Scheme == "" || u.Host == "" {
						return fmt.Errorf("not an absolute URL")
					}
					return nil
				}),
			huh.NewInput().
				Title("API token").
				EchoMode(huh.EchoModePassword).
				Value(&token),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Data directory").
				Value(&dataDir),
			huh.NewConfirm().
				Title("Sync list members?").
				Value(&listMembers),
			huh.NewConfirm().
				Title("Start the dashboard with the daemon?").
				Value(&dashboard),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}

	cfg.Accounts = SplitAccounts(accounts)
	cfg.Remote.BaseURL = strings.TrimSpace(baseURL)
	cfg.Remote.Token = strings.TrimSpace(token)
	if d := strings.TrimSpace(dataDir); d != "" {
		cfg.DataDir = d
	}
	cfg.Sync.ListMembers = listMembers
	cfg.Dashboard.Enabled = dashboard
	return nil
}

// SplitAccounts parses a comma or whitespace separated account list,
// dropping empties and duplicates (case-insensitively).
func SplitAccounts(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimPrefix(f, "@")
		key := strings.ToLower(f)
		if f == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}
