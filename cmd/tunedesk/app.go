package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	errorsx "github.com/instill-ai/x/errors"

	"github.com/TobiSchelling/tunedesk/internal/api"
	"github.com/TobiSchelling/tunedesk/internal/content"
	"github.com/TobiSchelling/tunedesk/internal/database"
	"github.com/TobiSchelling/tunedesk/internal/pipeline"
	"github.com/TobiSchelling/tunedesk/internal/provider"
	"github.com/TobiSchelling/tunedesk/internal/scrape"
	"github.com/TobiSchelling/tunedesk/internal/wizard"
)

// currentProjectKey remembers the project chosen with 'wizard start'.
const currentProjectKey = "wizard.project"

// app bundles the collaborators of one command run.
type app struct {
	db      *database.DB
	client  *api.Client
	content *content.Aggregator
	wizard  *wizard.Wizard
}

// openApp wires the backend client, the content aggregator and the wizard for
// the current project and restores its saved session.
func openApp() (*app, error) {
	db, err := openDB()
	if err != nil {
		return nil, err
	}

	project, err := resolveProject(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	client := api.New(api.Options{
		BaseURL:    cfg.Backend.BaseURL,
		Token:      os.Getenv(cfg.Backend.TokenEnv),
		Timeout:    cfg.Backend.Timeout,
		PricingTTL: cfg.Backend.PricingTTL,
		Logger:     log,
	})
	if !client.IsConfigured() {
		log.Warn("backend token not set", "env", cfg.Backend.TokenEnv)
	}

	scraper, err := scrape.New(cfg.Scrape.Mode, client, cfg.Scrape.Timeout, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	verifier, err := provider.New(cfg.Provider.Verify, client, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	agg := content.NewAggregator(content.Options{
		ProjectID: project,
		Backend:   client,
		Scraper:   scraper,
		Logger:    log,
		Interval:  cfg.Polling.ContentInterval,
	})
	launcher := pipeline.New(pipeline.Options{
		Backend:         client,
		History:         db,
		Logger:          log,
		DatasetInterval: cfg.Polling.DatasetInterval,
		JobInterval:     cfg.Polling.JobInterval,
	})

	w, err := wizard.Load(wizard.Options{
		ProjectID:      project,
		Backend:        client,
		Verifier:       verifier,
		Launcher:       launcher,
		Content:        agg,
		Store:          db,
		Profiles:       cfg.Profiles,
		Extractor:      cfg.Extractor(),
		DefaultProfile: cfg.Wizard.Profile,
		Provider:       cfg.Wizard.Provider,
		Model:          cfg.Wizard.Model,
		Logger:         log,
	})
	if err != nil {
		agg.Close()
		db.Close()
		return nil, err
	}

	return &app{db: db, client: client, content: agg, wizard: w}, nil
}

func (a *app) Close() {
	a.content.Close()
	if err := a.wizard.Save(); err != nil {
		log.Warn("saving session failed", "error", err)
	}
	a.db.Close()
}

func resolveProject(db *database.DB) (string, error) {
	if projectID != "" {
		return projectID, nil
	}
	current, ok, err := db.Get(currentProjectKey)
	if err != nil {
		return "", err
	}
	if !ok || current == "" {
		msg := "No project selected. Run 'tunedesk wizard start <project-id>' or pass --project."
		return "", errorsx.AddMessage(fmt.Errorf("%w: no project", errorsx.ErrInvalidArgument), msg)
	}
	return current, nil
}

// readAPIKey takes the provider key from the configured environment variable
// or, failing that, from one line of standard input.
func readAPIKey() (string, error) {
	if env := cfg.Provider.APIKeyEnv; env != "" {
		if key := strings.TrimSpace(os.Getenv(env)); key != "" {
			return key, nil
		}
		fmt.Printf("%s is not set. Paste the provider API key: ", env)
	} else {
		fmt.Print("Provider API key: ")
	}
	reader := bufio.NewReader(os.Stdin)
	key, err := reader.ReadString('\n')
	if err != nil && key == "" {
		return "", fmt.Errorf("reading API key: %w", err)
	}
	return strings.TrimSpace(key), nil
}

func printEntries(entries []content.Entry) {
	if len(entries) == 0 {
		fmt.Println("No content yet. Add some with: tunedesk add file|youtube|website|feed")
		return
	}
	for _, e := range entries {
		mark := " "
		if e.Selected {
			mark = "*"
		}
		approx := ""
		if !e.Count.Exact {
			approx = "~"
		}
		fmt.Printf("  %s %-40s %-8s %-22s %s%d chars  [%s]\n",
			mark, e.Item.ID, e.Item.Type, e.Item.Status, approx, e.Count.Characters, e.Bucket)
		if name := e.Item.DisplayName(); name != e.Item.ID {
			fmt.Printf("      %s\n", truncate(name, 70))
		}
	}
}

func messageOf(err error) string {
	return errorsx.MessageOrErr(err)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
