package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rotd/internal/config"
	"github.com/roach88/rotd/internal/testutil"
	"github.com/roach88/rotd/internal/watchdog"
)

var siteTree = testutil.Tree{
	"index.html":     "<h1>home</h1>\n",
	"js/app.js":      "console.log('hi');\n",
	"css/site.css":   "body { margin: 0; }\n",
	"docs/notes.txt": "line one\nline two\n",
}

// envelope decodes a JSON response with its data left raw.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func newBase(t *testing.T) string {
	t.Helper()
	t.Setenv("ROT_KEY", testutil.TestKey)
	base := t.TempDir()
	testutil.WriteTree(t, filepath.Join(base, "source"), siteTree)
	return base
}

func runCLI(t *testing.T, base string, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--base", base}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func runJSON(t *testing.T, base string, v any, args ...string) error {
	t.Helper()
	out, err := runCLI(t, base, append([]string{"--format", "json"}, args...)...)
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(out), &env), out)
	require.NoError(t, json.Unmarshal(env.Data, v), out)
	return err
}

func TestRotateThenRestore(t *testing.T) {
	base := newBase(t)

	var rot RotateResult
	require.NoError(t, runJSON(t, base, &rot, "rotate", "--mode", "shuffle", "--seed", "cli"))
	assert.Equal(t, "shuffle", rot.Mode)
	assert.Equal(t, "cli", rot.Seed)
	assert.Equal(t, len(siteTree), rot.Files)
	assert.Len(t, rot.Tag, 128)

	rotated := testutil.ReadTree(t, filepath.Join(base, "rotated"))
	assert.NotEqual(t, siteTree["index.html"], rotated["index.html"])
	assert.Contains(t, rotated, "manifest.json")

	out, err := runCLI(t, base, "restore")
	require.NoError(t, err)
	assert.Contains(t, out, "Restored 4 entries")
	assert.Equal(t, siteTree, testutil.ReadTree(t, filepath.Join(base, "restored")))
}

func TestRotate_ParamWithoutModeKeepsConfiguredMode(t *testing.T) {
	base := newBase(t)

	var rot RotateResult
	require.NoError(t, runJSON(t, base, &rot, "rotate", "--param", "7"))
	assert.Equal(t, "right", rot.Mode)
	assert.Equal(t, 7, rot.Param)
	assert.NotEmpty(t, rot.Seed)
}

func TestRotate_ModeWithoutParamUsesConfiguredParam(t *testing.T) {
	base := newBase(t)

	var rot RotateResult
	require.NoError(t, runJSON(t, base, &rot, "rotate", "--mode", "left"))
	assert.Equal(t, "left", rot.Mode)
	assert.Equal(t, 3, rot.Param)

	got, err := os.ReadFile(filepath.Join(base, "rotated", "index.html"))
	require.NoError(t, err)
	assert.NotEqual(t, siteTree["index.html"], string(got))
}

func TestRotate_InvalidMode(t *testing.T) {
	base := newBase(t)

	_, err := runCLI(t, base, "rotate", "--mode", "sideways")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRotate_MissingKey(t *testing.T) {
	base := newBase(t)
	t.Setenv("ROT_KEY", "")

	_, err := runCLI(t, base, "rotate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "secret")
}

func TestRestore_CustomOut(t *testing.T) {
	base := newBase(t)
	_, err := runCLI(t, base, "rotate")
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "site")
	_, err = runCLI(t, base, "restore", "--out", out)
	require.NoError(t, err)
	assert.Equal(t, siteTree, testutil.ReadTree(t, out))
}

func TestRestore_NoManifestAborts(t *testing.T) {
	base := newBase(t)

	out, err := runCLI(t, base, "restore")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Restore aborted")
}

func TestRestore_TamperedFileIsPartial(t *testing.T) {
	base := newBase(t)
	_, err := runCLI(t, base, "rotate")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(base, "rotated", "index.html"), []byte("defaced"), 0o644))

	var res struct {
		State   string `json:"state"`
		Entries []struct {
			Path   string `json:"path"`
			Status string `json:"status"`
		} `json:"entries"`
	}
	err = runJSON(t, base, &res, "restore")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "PartiallyRestored", res.State)

	failed := map[string]string{}
	for _, e := range res.Entries {
		failed[e.Path] = e.Status
	}
	assert.Equal(t, "Failed", failed["index.html"])
	assert.Equal(t, "Restored", failed["js/app.js"])
}

func TestVerify(t *testing.T) {
	base := newBase(t)
	_, err := runCLI(t, base, "rotate")
	require.NoError(t, err)

	var res VerifyResult
	require.NoError(t, runJSON(t, base, &res, "verify"))
	assert.True(t, res.Valid)
	assert.Equal(t, len(siteTree), res.Checked)
	assert.Empty(t, res.Problems)

	require.NoError(t, os.WriteFile(filepath.Join(base, "rotated", "css", "site.css"), []byte("x"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(base, "rotated", "js", "app.js")))

	res = VerifyResult{}
	err = runJSON(t, base, &res, "verify")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, res.Valid)
	assert.ElementsMatch(t, []FileProblem{
		{Path: "rotated/css/site.css", Problem: "hash mismatch"},
		{Path: "rotated/js/app.js", Problem: "missing"},
	}, res.Problems)
}

func TestVerify_TamperedManifest(t *testing.T) {
	base := newBase(t)
	_, err := runCLI(t, base, "rotate", "--seed", "tag")
	require.NoError(t, err)

	path := filepath.Join(base, "rotated", "manifest.json")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(raw), `"seed": "tag"`, `"seed": "gat"`, 1)), 0o644))

	out, err := runCLI(t, base, "verify")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Manifest INVALID")
}

func TestSign_AfterKeyChange(t *testing.T) {
	base := newBase(t)
	_, err := runCLI(t, base, "rotate")
	require.NoError(t, err)

	t.Setenv("ROT_KEY", strings.Repeat("k", 40))
	_, err = runCLI(t, base, "verify")
	require.Error(t, err, "old tag must not verify under the new key")

	var res SignResult
	require.NoError(t, runJSON(t, base, &res, "sign"))
	assert.Equal(t, len(siteTree), res.Entries)

	_, err = runCLI(t, base, "verify")
	assert.NoError(t, err)
}

func TestSign_NoManifest(t *testing.T) {
	base := newBase(t)

	_, err := runCLI(t, base, "sign")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestHistory(t *testing.T) {
	base := newBase(t)

	out, err := runCLI(t, base, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No rotation cycles recorded")

	_, err = runCLI(t, base, "rotate", "--mode", "left", "--param", "2")
	require.NoError(t, err)

	var rows []CycleView
	require.NoError(t, runJSON(t, base, &rows, "history", "--limit", "5"))
	require.Len(t, rows, 1)
	assert.Equal(t, "left", rows[0].Mode)
	assert.Equal(t, 2, rows[0].Param)
	assert.Equal(t, "ok", rows[0].Status)
	assert.Equal(t, len(siteTree), rows[0].Files)

	out, err = runCLI(t, base, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "STARTED")
	assert.Contains(t, out, "left")
}

func TestHistory_InvalidLimit(t *testing.T) {
	base := newBase(t)

	_, err := runCLI(t, base, "history", "--limit", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestWatchOnce(t *testing.T) {
	base := newBase(t)
	_, err := runCLI(t, base, "rotate")
	require.NoError(t, err)

	var first watchdog.TickReport
	require.NoError(t, runJSON(t, base, &first, "watch", "--once"))
	assert.Equal(t, watchdog.Healthy, first.State)
	assert.Equal(t, watchdog.ManifestValid, first.ManifestStatus)
	assert.Equal(t, len(siteTree), first.Checked)

	require.NoError(t, os.Remove(filepath.Join(base, "rotated", "index.html")))

	var second watchdog.TickReport
	require.NoError(t, runJSON(t, base, &second, "watch", "--once"))
	assert.Equal(t, watchdog.Repairing, second.State)

	var kinds []string
	for _, ev := range second.Events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, watchdog.EventRestoredMissing)
	assert.FileExists(t, filepath.Join(base, "rotated", "index.html"))

	_, err = runCLI(t, base, "verify")
	assert.NoError(t, err)
}

func TestWatchDirs(t *testing.T) {
	base := t.TempDir()
	a := &app{layout: config.Layout{Base: base}}
	a.cfg.Watch.Targets = []config.Target{
		{Path: "extra/a.conf"},
		{Path: "extra/b.conf"},
		{Path: "/etc/rotd/site.conf"},
	}

	assert.Equal(t, []string{
		filepath.Join(base, "rotated"),
		filepath.Join(base, "extra"),
		"/etc/rotd",
	}, a.watchDirs())
}
