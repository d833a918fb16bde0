package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/chronicle/internal/filter"
	"github.com/joescharf/chronicle/internal/models"
	"github.com/joescharf/chronicle/internal/status"
)

var (
	sessionsQuery  string
	sessionsStatus string
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"ls"},
	Short:   "List known sessions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := loadEngine(cmd.Context())
		if err != nil {
			return err
		}

		statuses := eng.Statuses()
		sessions := eng.GetFilteredSessions(filter.Config{SearchTerm: sessionsQuery})
		if sessionsStatus != "" {
			st, err := parseStatus(sessionsStatus)
			if err != nil {
				return err
			}
			sessions = status.FilterByStatus(sessions, statuses, st)
		}
		if len(sessions) == 0 {
			ui.Info("No matching sessions.")
			return nil
		}
		return ui.SessionsTable(sessions, statuses, time.Now())
	},
}

func init() {
	sessionsCmd.Flags().StringVarP(&sessionsQuery, "query", "q", "", "Match title, project folder or branch")
	sessionsCmd.Flags().StringVar(&sessionsStatus, "status", "", "Only sessions with this status (active, idle, awaiting, completed, error)")
	rootCmd.AddCommand(sessionsCmd)
}

func parseStatus(s string) (models.SessionStatus, error) {
	for _, known := range models.SessionStatuses {
		if string(known) == s {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}
