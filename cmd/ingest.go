package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joescharf/chronicle/internal/feed"
	"github.com/joescharf/chronicle/internal/git"
)

var ingestNoGit bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Record JSONL events and sessions in the store",
	Long: `Read JSONL records and write them to the SQLite store, where a running
'chronicle serve' picks them up. Each line is an object tagged with a kind:

  {"kind":"session","id":"S1","projectPath":"/src/app","gitBranch":"main"}
  {"kind":"event","id":"e1","sessionId":"S1","type":"pre_tool_use","toolName":"Bash"}

Reads stdin when no file (or "-") is given, so agent hooks can pipe into it.
Records with an id already in the store are skipped. Sessions without a
gitBranch get the current branch of their projectPath unless --no-git is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open input: %w", err)
			}
			defer f.Close()
			in = f
		}
		return ingestRun(cmd.Context(), in)
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestNoGit, "no-git", false, "Do not look up missing git branches")
	rootCmd.AddCommand(ingestCmd)
}

func ingestRun(ctx context.Context, in io.Reader) error {
	s, err := getStore(ctx)
	if err != nil {
		return err
	}

	sink := storeSink{ctx: ctx, store: s}
	if !ingestNoGit {
		sink.enricher = git.NewEnricher(git.NewClient())
	}
	res, malformed, err := feed.Import(in, sink, slog.Default())
	if err != nil {
		return err
	}
	ui.VerboseLog("Stored %d of %d events and %d sessions", res.Admitted, res.Events, res.Sessions-res.Rejected)
	if malformed > 0 || res.Rejected > 0 {
		ui.Warning("Skipped %d malformed lines and %d invalid sessions", malformed, res.Rejected)
	}
	return nil
}
