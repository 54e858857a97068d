package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	errorsx "github.com/instill-ai/x/errors"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/tunedesk/internal/config"
	"github.com/TobiSchelling/tunedesk/internal/database"
	"github.com/TobiSchelling/tunedesk/internal/logger"
	"github.com/TobiSchelling/tunedesk/internal/quality"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	projectID  string
	cfg        *config.Config
	log        = logger.Nop()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	log.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", errorsx.MessageOrErr(err))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "tunedesk",
	Short:         "Build fine-tuning datasets and launch jobs",
	Long:          "tunedesk gathers files, videos and web pages into a dataset, estimates its quality and cost, and launches fine-tuning jobs.",
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			// The embedded defaults are enough to talk to a local backend.
			if configPath != "" {
				return err
			}
			cfg = config.Default()
		} else if cfg, err = config.Load(path); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		log, err = logger.New(cfg.Logging.Mode, level)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVarP(&projectID, "project", "p", "", "Project id (defaults to the one chosen with 'wizard start')")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(wizardCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(contentCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("tunedesk", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/tunedesk/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set the backend URL and the environment variables holding your tokens.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local store and session status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Backend: %s\n", cfg.Backend.BaseURL)
		if os.Getenv(cfg.Backend.TokenEnv) == "" {
			fmt.Printf("  Token: not set (export %s)\n", cfg.Backend.TokenEnv)
		} else {
			fmt.Println("  Token: set")
		}
		fmt.Printf("\nStore: %s\n", db.Path())
		if v, err := db.SchemaVersion(); err == nil {
			fmt.Printf("  Schema version: %d", v)
			if n := len(db.Applied()); n > 0 {
				fmt.Printf(" (%d migration(s) just applied)", n)
			}
			fmt.Println()
		}
		fmt.Printf("  Settings: %d\n", stats.Settings)
		fmt.Printf("  Saved sessions: %d\n", stats.Sessions)
		fmt.Printf("  Launches: %d (%d running)\n", stats.Launches, stats.RunningJobs)

		current, ok, err := db.Get(currentProjectKey)
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("\nCurrent project: %s\n", current)
		} else {
			fmt.Println("\nNo project selected. Start one with: tunedesk wizard start <project-id>")
		}
		return nil
	},
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List usage profiles and their character thresholds",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("  %-18s %10s %10s %10s\n", "PROFILE", "MIN", "OPTIMAL", "MAX")
		for _, p := range cfg.Profiles {
			fmt.Printf("  %-18s %10d %10d %10d\n", p.Name, p.Min, p.Optimal, p.Max)
		}
	},
}

// --- estimate command ---

var (
	estimateProfile string
	estimateFree    int
	estimatePrice   float64
)

var estimateCmd = &cobra.Command{
	Use:   "estimate [characters]",
	Short: "Show the tier, progress and cost for a character count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(strings.ReplaceAll(args[0], "_", ""))
		if err != nil || n < 0 {
			return fmt.Errorf("invalid character count: %s", args[0])
		}
		name := estimateProfile
		if name == "" {
			name = cfg.Wizard.Profile
		}
		p, ok := quality.FindProfile(cfg.Profiles, name)
		if !ok && p.Name != "" {
			fmt.Printf("Unknown profile %q, using %q.\n", name, p.Name)
		}
		a := quality.Assess(quality.Total{Characters: n}, p, 0,
			quality.Quota{FreeCharacters: estimateFree, PricePerCharacter: estimatePrice})
		printAssessment(a)
		return nil
	},
}

func init() {
	estimateCmd.Flags().StringVar(&estimateProfile, "profile", "", "Usage profile (defaults to wizard.profile)")
	estimateCmd.Flags().IntVar(&estimateFree, "free", 0, "Free characters remaining")
	estimateCmd.Flags().Float64Var(&estimatePrice, "price", 0, "Price per character")
}

func printAssessment(a quality.Assessment) {
	approx := ""
	if a.Total.Estimated {
		approx = "~"
	}
	fmt.Printf("Characters: %s%d\n", approx, a.Total.Characters)
	fmt.Printf("Profile:    %s (min %d, optimal %d, max %d)\n", a.Profile.Name, a.Profile.Min, a.Profile.Optimal, a.Profile.Max)
	fmt.Printf("Tier:       %s\n", a.Tier)
	fmt.Printf("Progress:   %s %.0f%%\n", bar(a.Progress), a.Progress)
	fmt.Printf("Free quota: %s %.0f%%\n", bar(a.QuotaProgress), a.QuotaProgress)
	if a.Cost > 0 {
		fmt.Printf("Cost:       %.2f\n", a.Cost)
	} else {
		fmt.Println("Cost:       covered by free quota")
	}
	if a.NextTier != "" {
		fmt.Printf("Next tier:  %s in %d characters\n", a.NextTier, a.ToNextTier)
	}
}

func bar(pct float64) string {
	const width = 20
	filled := int(pct / 100 * width)
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

// --- settings command ---

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and write local settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print a setting, or all settings without a key",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if len(args) == 1 {
			v, ok, err := db.Get(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("setting %q not found", args[0])
			}
			fmt.Println(v)
			return nil
		}

		items, err := db.List("")
		if err != nil {
			return err
		}
		for _, s := range items {
			if strings.HasPrefix(s.Key, database.SessionPrefix) {
				continue
			}
			fmt.Printf("%s=%s\n", s.Key, s.Value)
		}
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Store a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		if strings.HasPrefix(args[0], database.SessionPrefix) {
			return fmt.Errorf("%s* keys are managed by the wizard", database.SessionPrefix)
		}
		return db.Set(args[0], args[1])
	},
}

var settingsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all settings (saved sessions are kept)",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		n, err := db.Clear()
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d setting(s).\n", n)
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsClearCmd)
}

func openDB() (*database.DB, error) {
	return database.Open(cfg.DBPath())
}
