package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/rotd/internal/restore"
)

// RestoreOptions holds flags for the restore command.
type RestoreOptions struct {
	*RootOptions
	Out string
}

// NewRestoreCommand creates the restore command.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RestoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore the rotated tree after verifying the manifest",
		Long: `Verify the manifest tag, then invert every entry into the output
directory. Entries whose hash no longer matches are copied unmodified and
reported as failed; the rest of the tree is still restored.

Exit codes:
  0 - every entry restored
  1 - manifest rejected or some entries failed
  2 - command error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output directory (default <base>/restored)")
	return cmd
}

func runRestore(opts *RestoreOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, appNeeds{key: true})
	if err != nil {
		return err
	}
	defer a.Close()

	out := opts.Out
	if out == "" {
		out = a.layout.Restored()
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	res := restore.New(a.layout, a.key, a.logger).Restore(ctx, out)

	if err := opts.formatter(cmd).Success(res, func(w io.Writer) {
		writeRestoreText(w, res)
	}); err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return WrapExitError(ExitFailure, "restore incomplete", err)
	}
	return nil
}

func writeRestoreText(w io.Writer, res restore.Result) {
	switch res.State {
	case restore.Aborted:
		fmt.Fprintf(w, "Restore aborted: %s\n", res.Reason)
		return
	case restore.FullyRestored:
		fmt.Fprintf(w, "Restored %d entries to %s\n", len(res.Entries), res.OutDir)
		return
	}
	failed := res.FailedPaths()
	fmt.Fprintf(w, "Restored %d of %d entries to %s\n", len(res.Entries)-len(failed), len(res.Entries), res.OutDir)
	for _, e := range res.Entries {
		if e.Status == restore.Failed {
			fmt.Fprintf(w, "  FAILED %s: %s\n", e.Path, e.Reason)
		}
	}
}
