package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/tunedesk/internal/content"
	"github.com/TobiSchelling/tunedesk/internal/scrape"
)

// --- add command ---

var (
	addName string
	addType string
	addWait bool
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add training content to the current project",
}

var addFileCmd = &cobra.Command{
	Use:   "file [path]",
	Short: "Upload a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[0], err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}

		metadata := map[string]string{}
		if addType != "" {
			metadata["type"] = addType
		}
		if addName != "" {
			metadata["name"] = addName
		}
		it, err := a.content.AddFile(cmd.Context(), content.FileUpload{
			Name:   filepath.Base(args[0]),
			Size:   info.Size(),
			Reader: f,
		}, metadata)
		if err != nil {
			return err
		}
		return added(cmd.Context(), a, it)
	},
}

var addYouTubeCmd = &cobra.Command{
	Use:   "youtube [url]",
	Short: "Add a YouTube video for transcription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		it, err := a.content.AddYouTube(cmd.Context(), args[0], addName)
		if err != nil {
			return err
		}
		return added(cmd.Context(), a, it)
	},
}

var addWebsiteCmd = &cobra.Command{
	Use:   "website [url]",
	Short: "Scrape a web page and add its text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		it, err := a.content.AddWebsite(cmd.Context(), args[0], addName)
		if err != nil {
			return err
		}
		return added(cmd.Context(), a, it)
	},
}

var feedLimit int

var addFeedCmd = &cobra.Command{
	Use:   "feed [url]",
	Short: "Add every article linked from an RSS or Atom feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		limit := feedLimit
		if limit <= 0 {
			limit = cfg.Scrape.FeedMax
		}
		entries, err := scrape.FeedLinks(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("The feed has no article links.")
			return nil
		}

		ok, failed := 0, 0
		for _, e := range entries {
			it, err := a.content.AddWebsite(cmd.Context(), e.URL, e.Title)
			if err != nil {
				if cmd.Context().Err() != nil {
					return cmd.Context().Err()
				}
				failed++
				fmt.Printf("  skipped %s: %s\n", e.URL, messageOf(err))
				continue
			}
			ok++
			fmt.Printf("  added %s  %s\n", it.ID, truncate(it.DisplayName(), 60))
		}
		fmt.Printf("\nAdded %d of %d article(s)", ok, len(entries))
		if failed > 0 {
			fmt.Printf(", %d skipped", failed)
		}
		fmt.Println(".")
		return waitIfAsked(cmd.Context(), a)
	},
}

func init() {
	for _, c := range []*cobra.Command{addFileCmd, addYouTubeCmd, addWebsiteCmd, addFeedCmd} {
		c.Flags().BoolVarP(&addWait, "wait", "w", false, "Wait until the backend has processed the content")
	}
	for _, c := range []*cobra.Command{addFileCmd, addYouTubeCmd, addWebsiteCmd} {
		c.Flags().StringVarP(&addName, "name", "n", "", "Display name")
	}
	addFileCmd.Flags().StringVar(&addType, "type", "", "Content type (file, text, pdf); guessed from the extension")
	addFeedCmd.Flags().IntVar(&feedLimit, "limit", 0, "Maximum number of articles (defaults to scrape.feed_max)")

	addCmd.AddCommand(addFileCmd)
	addCmd.AddCommand(addYouTubeCmd)
	addCmd.AddCommand(addWebsiteCmd)
	addCmd.AddCommand(addFeedCmd)
}

func added(ctx context.Context, a *app, it content.Item) error {
	fmt.Printf("Added %s (%s, %s)\n", it.ID, it.Type, it.Status)
	if it.Status.Failed() {
		fmt.Println("The backend could not process it; it was not selected.")
	}
	return waitIfAsked(ctx, a)
}

func waitIfAsked(ctx context.Context, a *app) error {
	if !addWait || len(a.content.Polling()) == 0 {
		return nil
	}
	fmt.Println("Waiting for processing...")
	return watchContent(ctx, a)
}

// watchContent polls pending items, printing status changes, until every item
// has settled or ctx ends.
func watchContent(ctx context.Context, a *app) error {
	var mu sync.Mutex
	seen := make(map[string]content.Status)
	for _, it := range a.content.Merged() {
		seen[it.ID] = it.Status
	}
	a.content.OnChange(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, it := range a.content.Merged() {
			if prev, ok := seen[it.ID]; ok && prev != it.Status {
				fmt.Printf("  %s: %s -> %s\n", it.ID, prev, it.Status)
			}
			seen[it.ID] = it.Status
		}
	})
	a.content.Watch()
	if err := a.content.Wait(ctx); err != nil {
		return err
	}
	fmt.Println("All content processed.")
	return nil
}

// --- content command ---

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Inspect and select the project's content",
}

var contentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List content with selection and character counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		printEntries(a.wizard.Entries())
		t := a.content.Totals(cfg.Extractor())
		approx := ""
		if t.Estimated {
			approx = "~"
		}
		fmt.Printf("\nSelected: %d item(s), %s%d characters\n", len(a.content.SelectedIDs()), approx, t.Characters)
		if a.content.AnySelectedProcessing() {
			fmt.Println("Some selected content is still processing.")
		}
		return nil
	},
}

var contentRemoveCmd = &cobra.Command{
	Use:     "rm [id...]",
	Aliases: []string{"remove"},
	Short:   "Remove content (persisted items are deleted on the backend)",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		for _, id := range args {
			if err := a.content.Remove(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", id)
		}
		return nil
	},
}

var contentSelectCmd = &cobra.Command{
	Use:   "select [id...]",
	Short: "Include content in the dataset",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		for _, id := range args {
			if err := a.content.Select(id); err != nil {
				return err
			}
		}
		fmt.Printf("Selected: %s\n", strings.Join(a.content.SelectedIDs(), ", "))
		return nil
	},
}

var contentDeselectCmd = &cobra.Command{
	Use:   "deselect [id...]",
	Short: "Exclude content from the dataset",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		for _, id := range args {
			a.content.Deselect(id)
		}
		fmt.Printf("Selected: %s\n", strings.Join(a.content.SelectedIDs(), ", "))
		return nil
	},
}

var contentRefreshCmd = &cobra.Command{
	Use:   "refresh [id...]",
	Short: "Fetch the latest status of pending content (or of the given ids)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 0 {
			if err := a.content.LoadPersisted(cmd.Context()); err != nil {
				log.Warn("listing project content failed", "error", err)
			}
			if failed := a.content.RefreshPending(cmd.Context()); failed > 0 {
				fmt.Printf("%d item(s) could not be refreshed; showing cached status.\n", failed)
			}
		}
		for _, id := range args {
			if err := a.content.Refresh(cmd.Context(), id); err != nil {
				fmt.Printf("%s could not be refreshed; showing cached status.\n", id)
			}
		}
		printEntries(a.wizard.Entries())
		return nil
	},
}

var contentWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll pending content until it has been processed",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if len(a.content.Polling()) == 0 {
			a.content.Watch()
		}
		if len(a.content.Polling()) == 0 {
			fmt.Println("Nothing is processing.")
			return nil
		}
		return watchContent(cmd.Context(), a)
	},
}

var contentStageCmd = &cobra.Command{
	Use:   "stage [file|text|pdf|youtube|website] [path-or-url]",
	Short: "Buffer content locally without uploading it yet",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ref := args[1]
		if t := content.Type(args[0]); t != content.TypeYouTube && t != content.TypeWebsite {
			if abs, err := filepath.Abs(ref); err == nil {
				ref = abs
			}
		}
		it, err := a.content.Stage(content.Type(args[0]), ref, addName)
		if err != nil {
			return err
		}
		fmt.Printf("Staged %s. Upload it with: tunedesk content submit %s\n", it.ID, it.ID)
		return nil
	},
}

var contentSubmitCmd = &cobra.Command{
	Use:   "submit [id...]",
	Short: "Upload staged content (all staged items without ids)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ids := args
		if len(ids) == 0 {
			for _, it := range a.content.Merged() {
				if it.Local {
					ids = append(ids, it.ID)
				}
			}
		}
		if len(ids) == 0 {
			fmt.Println("Nothing is staged.")
			return nil
		}
		for _, id := range ids {
			it, err := a.content.Submit(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("Submitted %s as %s (%s)\n", id, it.ID, it.Status)
		}
		return nil
	},
}

func init() {
	contentStageCmd.Flags().StringVarP(&addName, "name", "n", "", "Display name")

	contentCmd.AddCommand(contentListCmd)
	contentCmd.AddCommand(contentRemoveCmd)
	contentCmd.AddCommand(contentSelectCmd)
	contentCmd.AddCommand(contentDeselectCmd)
	contentCmd.AddCommand(contentRefreshCmd)
	contentCmd.AddCommand(contentWatchCmd)
	contentCmd.AddCommand(contentStageCmd)
	contentCmd.AddCommand(contentSubmitCmd)
}
