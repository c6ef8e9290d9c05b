package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// CycleView is one history row.
type CycleView struct {
	ID          string `json:"id"`
	StartedAt   int64  `json:"started_at"`
	FinishedAt  int64  `json:"finished_at"`
	Origin      string `json:"origin"`
	Mode        string `json:"mode"`
	Param       int    `json:"param"`
	Seed        string `json:"seed"`
	ManifestTag string `json:"manifest_tag,omitempty"`
	Files       int    `json:"files"`
	Failures    int    `json:"failures"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent rotation cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, cmd, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of cycles")
	return cmd
}

func runHistory(opts *RootOptions, cmd *cobra.Command, limit int) error {
	if limit <= 0 {
		return NewExitError(ExitCommandError, "--limit must be positive")
	}
	a, err := openApp(opts, appNeeds{store: true})
	if err != nil {
		return err
	}
	defer a.Close()

	cycles, err := a.store.Cycles(cmd.Context(), limit)
	if err != nil {
		return wrapFault("read history", err)
	}
	rows := make([]CycleView, 0, len(cycles))
	for _, c := range cycles {
		rows = append(rows, CycleView{
			ID:          c.ID,
			StartedAt:   c.StartedAt,
			FinishedAt:  c.FinishedAt,
			Origin:      c.Origin,
			Mode:        c.Mode,
			Param:       c.Param,
			Seed:        c.Seed,
			ManifestTag: c.ManifestTag,
			Files:       c.Files,
			Failures:    c.Failures,
			Status:      string(c.Status),
			Error:       c.Error,
		})
	}

	return opts.formatter(cmd).Success(rows, func(w io.Writer) {
		if len(rows) == 0 {
			fmt.Fprintln(w, "No rotation cycles recorded")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STARTED\tORIGIN\tMODE\tPARAM\tFILES\tFAILED\tSTATUS")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				time.Unix(r.StartedAt, 0).UTC().Format(time.RFC3339),
				r.Origin, r.Mode, r.Param, r.Files, r.Failures, r.Status)
		}
		_ = tw.Flush()
	})
}
