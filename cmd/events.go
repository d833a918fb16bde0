package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/chronicle/internal/filter"
	"github.com/joescharf/chronicle/internal/models"
)

var (
	eventsSessions []string
	eventsTypes    []string
	eventsQuery    string
	eventsSince    time.Duration
	eventsLimit    int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recent session events",
	Long: `List buffered events, oldest first.

Filters combine: --session and --type may be repeated and match any of
the given values; --query searches event text and session title, project
and branch.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := eventsFilter(time.Now())
		if err != nil {
			return err
		}

		eng, err := loadEngine(cmd.Context())
		if err != nil {
			return err
		}
		events := eng.GetFilteredEvents(cfg)
		if eventsLimit > 0 && len(events) > eventsLimit {
			events = events[len(events)-eventsLimit:]
		}
		if len(events) == 0 {
			ui.Info("No matching events.")
			return nil
		}

		titles := make(map[string]string)
		for _, s := range eng.Sessions() {
			titles[s.ID] = s.Title()
		}
		return ui.EventsTable(events, titles)
	},
}

func init() {
	eventsCmd.Flags().StringSliceVarP(&eventsSessions, "session", "s", nil, "Only events from these session ids")
	eventsCmd.Flags().StringSliceVarP(&eventsTypes, "type", "t", nil, "Only these event types (e.g. notification,error)")
	eventsCmd.Flags().StringVarP(&eventsQuery, "query", "q", "", "Case-insensitive text search")
	eventsCmd.Flags().DurationVar(&eventsSince, "since", 0, "Only events newer than this (e.g. 15m)")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "l", 50, "Show only the newest N events (0 for all)")
	rootCmd.AddCommand(eventsCmd)
}

// eventsFilter builds a filter from the command flags.
func eventsFilter(now time.Time) (filter.Config, error) {
	cfg := filter.Config{
		SelectedSessionIDs: eventsSessions,
		SearchTerm:         eventsQuery,
	}
	for _, raw := range eventsTypes {
		t := models.EventType(raw)
		if !t.Valid() {
			return cfg, fmt.Errorf("unknown event type %q", raw)
		}
		cfg.EventTypes = append(cfg.EventTypes, t)
	}
	if eventsSince > 0 {
		cfg.DateRange = &filter.DateRange{From: now.Add(-eventsSince)}
	}
	return cfg, nil
}
