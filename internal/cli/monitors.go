package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/rotd/internal/monitor"
)

// MonitorView reports one registration.
type MonitorView struct {
	Check       string `json:"check"`
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	Error       string `json:"error,omitempty"`
}

// NewMonitorsCommand creates the monitors command group.
func NewMonitorsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitors",
		Short: "Manage external monitoring checks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "register",
		Short: "Register every configured check with the monitoring API",
		Long: `Post each check under monitors.checks to the monitoring endpoint.
Credentials are read from the environment variables named by
monitors.auth_id_env and monitors.auth_pass_env. Failed checks are reported
and the rest are still registered.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitorsRegister(rootOpts, cmd)
		},
	})
	return cmd
}

func runMonitorsRegister(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts, appNeeds{})
	if err != nil {
		return err
	}
	defer a.Close()

	checks := monitor.Checks(a.cfg.Monitors)
	if len(checks) == 0 {
		return NewExitError(ExitCommandError, "no monitors.checks configured")
	}
	client, err := monitor.FromConfig(a.cfg.Monitors, a.logger)
	if err != nil {
		return wrapFault("monitor client", err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	results := client.RegisterAll(ctx, checks)
	views := make([]MonitorView, 0, len(results))
	failed := 0
	for _, r := range results {
		v := MonitorView{Check: r.Check, OK: r.Err == nil}
		if r.Response != nil {
			v.Description = r.Response.Description
		}
		if r.Err != nil {
			v.Error = r.Err.Error()
			failed++
		}
		views = append(views, v)
	}

	if err := opts.formatter(cmd).Success(views, func(w io.Writer) {
		for _, v := range views {
			if v.OK {
				fmt.Fprintf(w, "registered %s\n", v.Check)
			} else {
				fmt.Fprintf(w, "FAILED %s: %s\n", v.Check, v.Error)
			}
		}
	}); err != nil {
		return err
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d checks failed to register", failed, len(views)))
	}
	return nil
}
