package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/rotd/internal/manifest"
)

// SignResult reports a re-signed manifest.
type SignResult struct {
	Path    string `json:"path"`
	Entries int    `json:"entries"`
	Tag     string `json:"tag"`
}

// NewSignCommand creates the sign command.
func NewSignCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sign",
		Short: "Re-sign the manifest in place with the current key",
		Long: `Parse the manifest without checking its tag, then sign it again with the
configured key. Use after a key rotation; any edit to the manifest body is
trusted, so inspect it first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSign(rootOpts, cmd)
		},
	}
}

func runSign(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts, appNeeds{key: true})
	if err != nil {
		return err
	}
	defer a.Close()

	path := a.layout.Manifest()
	raw, err := manifest.ReadFile(path)
	if err != nil {
		return wrapFault("read manifest", err)
	}
	m, err := manifest.Parse(raw)
	if err != nil {
		return wrapFault("parse manifest", err)
	}
	if err := m.Validate(); err != nil {
		return WrapExitError(ExitFailure, "manifest malformed", err)
	}
	if err := a.key.Use(func(key []byte) error {
		return manifest.SignManifest(m, key)
	}); err != nil {
		return wrapFault("sign manifest", err)
	}
	if err := manifest.Save(path, m); err != nil {
		return wrapFault("save manifest", err)
	}
	a.logger.Info("manifest re-signed", "path", path, "entries", len(m.Entries))

	res := SignResult{Path: path, Entries: len(m.Entries), Tag: m.HMAC}
	return opts.formatter(cmd).Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "Signed %s (%d entries, tag %.16s...)\n", res.Path, res.Entries, res.Tag)
	})
}
