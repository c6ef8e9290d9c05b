package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/rotd/internal/rotation"
	"github.com/roach88/rotd/internal/transform"
)

// RotateOptions holds flags for the rotate command.
type RotateOptions struct {
	*RootOptions
	Mode  string
	Param int
	Seed  string
}

// RotateResult summarizes one cycle.
type RotateResult struct {
	Timestamp int64    `json:"timestamp"`
	Mode      string   `json:"mode"`
	Param     int      `json:"param"`
	Seed      string   `json:"seed"`
	Files     int      `json:"files"`
	Failures  []string `json:"failures,omitempty"`
	Tag       string   `json:"tag"`
}

// NewRotateCommand creates the rotate command.
func NewRotateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RotateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Run one rotation cycle",
		Long: `Back up the source tree, transform it into rotated/, refresh the mirror
and sign a new manifest. Flags override the configured rotation settings.

Example:
  ROT_KEY=... rotd rotate --base /srv/site
  rotd rotate --mode shuffle --seed demo --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRotate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", "", fmt.Sprintf("transform mode %v", transform.Modes()))
	cmd.Flags().IntVar(&opts.Param, "param", 0, "mode parameter (shift amount)")
	cmd.Flags().StringVar(&opts.Seed, "seed", "", "seed (default: fresh UUIDv7)")

	return cmd
}

func runRotate(opts *RotateOptions, cmd *cobra.Command) error {
	var mode transform.Mode
	if opts.Mode != "" {
		m, err := transform.ParseMode(opts.Mode)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --mode", err)
		}
		mode = m
	}

	a, err := openApp(opts.RootOptions, appNeeds{key: true, store: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	eng, cleanup, err := a.rotator(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	ro := rotation.Options{Mode: mode, Seed: opts.Seed}
	if cmd.Flags().Changed("param") {
		ro.Param = opts.Param
		ro.ParamSet = true
	}

	m, err := eng.RotateCycle(ctx, ro)
	if err != nil {
		if errors.Is(err, rotation.ErrAborted) {
			return WrapExitError(ExitFailure, "rotation aborted", err)
		}
		return wrapFault("rotation failed", err)
	}

	res := RotateResult{
		Timestamp: m.Timestamp,
		Mode:      string(m.Mode),
		Param:     m.Param,
		Seed:      m.Seed,
		Files:     len(m.Entries),
		Failures:  m.Failures(),
		Tag:       m.HMAC,
	}
	return opts.formatter(cmd).Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "Rotated %d files (mode %s, param %d, seed %s)\n", res.Files, res.Mode, res.Param, res.Seed)
		for _, f := range res.Failures {
			fmt.Fprintf(w, "  not rotated: %s: %s\n", f, m.Entries[f].Error)
		}
		fmt.Fprintf(w, "Manifest tag: %.16s...\n", res.Tag)
	})
}
