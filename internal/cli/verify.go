package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/rotd/internal/fsx"
	"github.com/roach88/rotd/internal/manifest"
)

// VerifyResult reports the manifest tag check and per-file hash checks.
type VerifyResult struct {
	Valid    bool          `json:"valid"`
	Reason   string        `json:"reason,omitempty"`
	Tag      string        `json:"tag,omitempty"`
	Checked  int           `json:"checked"`
	Problems []FileProblem `json:"problems,omitempty"`
}

// FileProblem is a rotated file that does not match its manifest entry.
type FileProblem struct {
	Path    string `json:"path"`
	Problem string `json:"problem"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the manifest tag and every rotated file's hash",
		Long: `Verify the manifest HMAC with the configured key, then hash every
rotated file and compare it with its manifest entry. Nothing is modified.

Exit codes:
  0 - manifest valid and every file matches
  1 - manifest invalid or a file is missing or changed
  2 - command error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, cmd)
		},
	}
}

func runVerify(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts, appNeeds{key: true})
	if err != nil {
		return err
	}
	defer a.Close()

	var verdict manifest.Verdict
	if err := a.key.Use(func(key []byte) error {
		verdict = manifest.Load(a.layout.Manifest(), key)
		return nil
	}); err != nil {
		return wrapFault("verify", err)
	}

	res := VerifyResult{Valid: verdict.Valid, Reason: verdict.Reason}
	if verdict.Valid {
		m := verdict.Manifest
		res.Tag = m.HMAC
		for _, rel := range m.Paths() {
			e := m.Entries[rel]
			if e.Failed() {
				continue
			}
			res.Checked++
			if p := checkEntry(a.layout.Abs(e.Rotated), e.SHA512); p != "" {
				res.Problems = append(res.Problems, FileProblem{Path: e.Rotated, Problem: p})
			}
		}
	}

	if err := opts.formatter(cmd).Success(res, func(w io.Writer) {
		if !res.Valid {
			fmt.Fprintf(w, "Manifest INVALID: %s\n", res.Reason)
			return
		}
		fmt.Fprintf(w, "Manifest valid (tag %.16s...), %d files checked\n", res.Tag, res.Checked)
		for _, p := range res.Problems {
			fmt.Fprintf(w, "  %s: %s\n", p.Path, p.Problem)
		}
	}); err != nil {
		return err
	}

	switch {
	case !res.Valid:
		return WrapExitError(ExitFailure, "manifest invalid", verdict.Err())
	case len(res.Problems) > 0:
		return NewExitError(ExitFailure, fmt.Sprintf("%d rotated files do not match the manifest", len(res.Problems)))
	}
	return nil
}

func checkEntry(path, want string) string {
	got, err := fsx.HashFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "missing"
	case err != nil:
		return err.Error()
	case got != want:
		return "hash mismatch"
	}
	return ""
}
