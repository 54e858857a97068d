package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/tunedesk/internal/api"
	"github.com/TobiSchelling/tunedesk/internal/pipeline"
	"github.com/TobiSchelling/tunedesk/internal/quality"
	"github.com/TobiSchelling/tunedesk/internal/wizard"
)

var wizardCmd = &cobra.Command{
	Use:   "wizard",
	Short: "Walk through defining, filling and launching a fine-tuning job",
}

var wizardStartCmd = &cobra.Command{
	Use:   "start [project-id]",
	Short: "Select a project and load its existing content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		err = db.Set(currentProjectKey, args[0])
		db.Close()
		if err != nil {
			return err
		}

		projectID = args[0]
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.content.LoadPersisted(cmd.Context()); err != nil {
			return err
		}
		s := a.wizard.Session()
		fmt.Printf("Project %s, step %s.\n", s.ProjectID, s.Step)
		fmt.Printf("Loaded %d existing content item(s).\n", len(a.content.Merged()))
		return nil
	},
}

var wizardShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the session, selection and cost estimate",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		s := a.wizard.Session()
		var steps []string
		for _, st := range wizard.Steps {
			if st == s.Step {
				steps = append(steps, "["+string(st)+"]")
			} else {
				steps = append(steps, string(st))
			}
		}
		fmt.Printf("Project %s: %s\n\n", s.ProjectID, strings.Join(steps, " > "))

		if s.Purpose != "" {
			fmt.Printf("Purpose: %s\n", s.Purpose)
		}
		if s.Prompt != nil {
			fmt.Printf("Category: %s (profile %s)\n", s.Prompt.Category, s.Profile)
			fmt.Printf("System prompt:\n  %s\n", strings.ReplaceAll(s.Prompt.Content, "\n", "\n  "))
		}
		fmt.Printf("Provider: %s, model %s", s.Provider, s.Model)
		if s.JobName != "" {
			fmt.Printf(", job name %q", s.JobName)
		}
		fmt.Println()
		if s.Key != nil {
			state := "rejected"
			if s.Key.Valid {
				state = "verified"
			}
			fmt.Printf("API key: %s for %s", state, s.Key.Provider)
			if s.Key.Credits != nil {
				fmt.Printf(", %d credits", *s.Key.Credits)
			}
			if s.Key.Message != "" {
				fmt.Printf(" (%s)", s.Key.Message)
			}
			fmt.Println()
		}

		fmt.Println("\nContent:")
		printEntries(a.wizard.Entries())
		fmt.Println()

		q, err := a.wizard.Quote(cmd.Context())
		if err != nil {
			log.Warn("loading quote failed", "error", err)
			fmt.Println("Usage and pricing are unavailable; showing the profile view only.")
			printAssessment(a.wizard.Assess(quality.Quota{}))
		} else {
			printAssessment(q.Assessment)
		}

		if o := s.Outcome; o != nil {
			fmt.Printf("\nLaunched job %s (%s)\n", o.JobID, o.Status)
			if o.RedirectURL != "" {
				fmt.Printf("Complete payment: %s\n", o.RedirectURL)
			}
		}
		if err := a.wizard.CanAdvance(); err != nil && s.Step != wizard.StepLaunch {
			fmt.Printf("\nNext: %s\n", strings.TrimSpace(messageOf(err)))
		}
		return nil
	},
}

var wizardDefineCmd = &cobra.Command{
	Use:   "define [purpose...]",
	Short: "Describe the model's purpose and generate a system prompt",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.wizard.Define(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Printf("Category: %s (profile %s)\n", p.Category, a.wizard.Profile().Name)
		if p.MinCharacters > 0 {
			fmt.Printf("Recommended minimum: %d characters\n", p.MinCharacters)
		}
		fmt.Printf("System prompt:\n  %s\n", strings.ReplaceAll(p.Content, "\n", "\n  "))
		return nil
	},
}

var (
	configureProvider string
	configureModel    string
	configureName     string
)

var wizardConfigureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Set the provider, model and job name",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.wizard.Configure(configureProvider, configureModel, configureName); err != nil {
			return err
		}
		s := a.wizard.Session()
		fmt.Printf("Provider %s, model %s, job name %q\n", s.Provider, s.Model, s.JobName)
		return nil
	},
}

var keyProvider string

var wizardKeyCmd = &cobra.Command{
	Use:   "key",
	Short: "Verify the provider API key",
	Long:  "Verify the provider API key. The key is read from the configured environment variable or standard input and is never stored.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		key, err := readAPIKey()
		if err != nil {
			return err
		}
		v, err := a.wizard.VerifyKey(cmd.Context(), keyProvider, key)
		if err != nil {
			return err
		}
		if v.Valid {
			fmt.Printf("Key verified for %s.", v.Provider)
		} else {
			fmt.Printf("Key rejected for %s.", v.Provider)
		}
		if v.Credits != nil {
			fmt.Printf(" Credits: %d.", *v.Credits)
		}
		if v.Message != "" {
			fmt.Printf(" %s", v.Message)
		}
		fmt.Println()
		return nil
	},
}

var wizardNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Move to the next step",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		step, err := a.wizard.Advance(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Now at step %s.\n", step)
		return nil
	},
}

var wizardBackCmd = &cobra.Command{
	Use:   "back",
	Short: "Move to the previous step",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		step, err := a.wizard.Back()
		if err != nil {
			return err
		}
		fmt.Printf("Now at step %s.\n", step)
		return nil
	},
}

var (
	launchDryRun bool
	launchWatch  bool
)

var wizardLaunchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Create the dataset and start the fine-tuning job",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		key, err := readAPIKey()
		if err != nil {
			return err
		}

		if launchDryRun {
			r, err := a.wizard.DryRun(key)
			if err != nil {
				return err
			}
			printSteps(r)
			return nil
		}

		o, result, err := a.wizard.Launch(cmd.Context(), key)
		if result != nil {
			printSteps(result)
		}
		if err != nil {
			return err
		}

		switch o.Kind {
		case pipeline.OutcomePayment:
			fmt.Printf("\nJob %s is waiting for payment. Complete it here:\n  %s\n", o.JobID, o.RedirectURL)
		default:
			fmt.Printf("\nJob %s started.\n", o.JobID)
		}
		if !launchWatch {
			fmt.Println("Follow it with: tunedesk job watch")
			return nil
		}
		return watchJob(cmd, a, o.JobID)
	},
}

var wizardResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the session and start over",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.db.Close()
		defer a.content.Close()

		if err := a.wizard.Reset(); err != nil {
			return err
		}
		fmt.Println("Session discarded.")
		return nil
	},
}

func init() {
	wizardConfigureCmd.Flags().StringVar(&configureProvider, "provider", "", "Fine-tuning provider")
	wizardConfigureCmd.Flags().StringVar(&configureModel, "model", "", "Base model")
	wizardConfigureCmd.Flags().StringVar(&configureName, "name", "", "Job name")
	wizardKeyCmd.Flags().StringVar(&keyProvider, "provider", "", "Provider the key belongs to (defaults to the session provider)")
	wizardLaunchCmd.Flags().BoolVar(&launchDryRun, "dry-run", false, "Show what would be done without executing")
	wizardLaunchCmd.Flags().BoolVar(&launchWatch, "watch", false, "Follow the job until it finishes")

	wizardCmd.AddCommand(wizardStartCmd)
	wizardCmd.AddCommand(wizardShowCmd)
	wizardCmd.AddCommand(wizardDefineCmd)
	wizardCmd.AddCommand(wizardConfigureCmd)
	wizardCmd.AddCommand(wizardKeyCmd)
	wizardCmd.AddCommand(wizardNextCmd)
	wizardCmd.AddCommand(wizardBackCmd)
	wizardCmd.AddCommand(wizardLaunchCmd)
	wizardCmd.AddCommand(wizardResetCmd)
}

func printSteps(r *pipeline.Result) {
	for i, step := range r.Steps {
		fmt.Printf("\nStep %d: %s\n", i+1, step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %s\n", messageOf(step.Err))
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
}

// --- job command ---

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Follow fine-tuning jobs",
}

var jobWatchCmd = &cobra.Command{
	Use:   "watch [job-id]",
	Short: "Poll a job until it finishes (defaults to the session's job)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		return watchJob(cmd, a, id)
	},
}

func init() {
	jobCmd.AddCommand(jobWatchCmd)
}

func watchJob(cmd *cobra.Command, a *app, id string) error {
	var last api.JobStatus
	j, err := a.wizard.WatchJob(cmd.Context(), id, func(j api.Job) {
		if j.Status != last {
			fmt.Printf("  %s: %s\n", j.ID, j.Status)
			last = j.Status
		}
	})
	if err != nil {
		return err
	}
	switch j.Status {
	case api.JobSucceeded:
		fmt.Printf("Job finished. Fine-tuned model: %s\n", j.FineTunedModel)
	case api.JobFailed:
		fmt.Printf("Job failed: %s\n", j.Error)
	default:
		fmt.Printf("Job ended with status %s.\n", j.Status)
	}
	return nil
}
