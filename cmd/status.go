package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/chronicle/internal/models"
	"github.com/joescharf/chronicle/internal/output"
)

var statusAttention bool

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show session status dashboard",
	Long: `Show a status overview of all known sessions or the detail for one.

Without arguments, shows counts per status and a table of sessions.
With a session id, shows the derived status record for that session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return statusShowRun(cmd.Context(), args[0])
		}
		return statusOverviewRun(cmd.Context())
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusAttention, "attention", false, "Show only sessions awaiting input or in error")
	rootCmd.AddCommand(statusCmd)
}

func statusOverviewRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	eng, err := loadEngine(ctx)
	if err != nil {
		return err
	}

	sessions := eng.Sessions()
	if statusAttention {
		sessions = eng.SessionsRequiringAttention()
	}
	if len(sessions) == 0 {
		if statusAttention {
			ui.Success("No sessions need attention.")
		} else {
			ui.Info("No sessions recorded yet. Point your agent hooks at 'chronicle ingest' to get started.")
		}
		return nil
	}

	ui.Info("%s", output.SummaryLine(eng.GetSessionStatusSummary()))
	fmt.Fprintln(ui.Out)
	return ui.SessionsTable(sessions, eng.Statuses(), time.Now())
}

func statusShowRun(ctx context.Context, id string) error {
	eng, err := loadEngine(ctx)
	if err != nil {
		return err
	}
	sess, err := eng.Session(id)
	if err != nil {
		return err
	}
	rec, err := eng.Status(id)
	if err != nil {
		return err
	}

	printStatusDetail(sess, rec)
	return nil
}

func printStatusDetail(sess models.Session, rec models.SessionStatusRecord) {
	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(sess.Title()), output.StatusColor(rec.Status))
	fmt.Fprintf(ui.Out, "  ID:        %s\n", sess.ID)
	if sess.ProjectPath != "" {
		fmt.Fprintf(ui.Out, "  Project:   %s\n", sess.ProjectPath)
	}
	if sess.GitBranch != "" {
		fmt.Fprintf(ui.Out, "  Branch:    %s\n", sess.GitBranch)
	}
	fmt.Fprintf(ui.Out, "  Started:   %s\n", sess.StartTime.Local().Format(time.DateTime))
	fmt.Fprintf(ui.Out, "  Activity:  %s\n", output.Ago(rec.LastActivity, time.Now()))
	fmt.Fprintf(ui.Out, "  Tools:     %d in progress\n", rec.ToolsInProgress)
	fmt.Fprintf(ui.Out, "  Errors:    %d\n", rec.ErrorCount)
	if rec.RequiresResponse {
		fmt.Fprintf(ui.Out, "  %s\n", output.Yellow("Waiting for your response"))
	}
	if rec.IsSubAgent {
		fmt.Fprintln(ui.Out, "  Sub-agent run")
	}
}
