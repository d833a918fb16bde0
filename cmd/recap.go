package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/chronicle/internal/filter"
	"github.com/joescharf/chronicle/internal/output"
)

var recapCmd = &cobra.Command{
	Use:   "recap <session-id>",
	Short: "Summarize a session with Claude",
	Long: `Ask Claude for a short recap of what a session is doing and what it
needs next. Requires anthropic.api_key or ANTHROPIC_API_KEY.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newLLMClient()
		if client == nil {
			return fmt.Errorf("no Anthropic API key configured (set anthropic.api_key or ANTHROPIC_API_KEY)")
		}

		ctx := cmd.Context()
		eng, err := loadEngine(ctx)
		if err != nil {
			return err
		}
		id := args[0]
		sess, err := eng.Session(id)
		if err != nil {
			return err
		}
		rec, err := eng.Status(id)
		if err != nil {
			return err
		}
		events := eng.GetFilteredEvents(filter.Config{SelectedSessionIDs: []string{id}})

		if dryRun {
			ui.DryRunMsg("Would send %d events for %s to %s", len(events), sess.Title(), client.Model())
			return nil
		}

		ui.VerboseLog("Requesting recap for %s (%d events)", id, len(events))
		recap, err := client.RecapSession(ctx, sess, rec, events)
		if err != nil {
			return err
		}

		fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(sess.Title()), output.StatusColor(rec.Status))
		fmt.Fprintf(ui.Out, "\n%s\n\n%s\n", recap.Headline, recap.Summary)
		if recap.NextStep != "" {
			fmt.Fprintf(ui.Out, "\nNext: %s\n", recap.NextStep)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recapCmd)
}
