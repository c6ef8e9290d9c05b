package rotation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rotd/internal/config"
	"github.com/roach88/rotd/internal/fault"
	"github.com/roach88/rotd/internal/manifest"
	"github.com/roach88/rotd/internal/secret"
	"github.com/roach88/rotd/internal/store"
	"github.com/roach88/rotd/internal/testutil"
	"github.com/roach88/rotd/internal/transform"
)

var sourceTree = testutil.Tree{
	"index.html":  "<h1>Hello</h1>\n",
	"notes/a.txt": "line one\nline two\n",
	"img/logo":    "\x89PNG\x00\xff\xfe",
}

type fixture struct {
	layout config.Layout
	store  *store.Store
	engine *Engine
}

func newFixture(t *testing.T, mut func(*Config)) *fixture {
	t.Helper()
	layout := config.Layout{Base: t.TempDir()}
	testutil.WriteTree(t, layout.Source(), sourceTree)

	key, err := secret.New([]byte(testutil.TestKey))
	require.NoError(t, err)

	st, err := store.Open(layout.DB())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := Config{
		Layout:   layout,
		Key:      key,
		Store:    st,
		Defaults: Options{Mode: transform.ModeRight, Param: 3},
		Now:      testutil.NewStepClock(testutil.Epoch, 0).Now,
	}
	if mut != nil {
		mut(&cfg)
	}
	return &fixture{layout: layout, store: st, engine: New(cfg)}
}

func TestRotateCycle_WritesTreeMirrorAndManifest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	m, err := f.engine.RotateCycle(ctx, Options{Seed: "fixed"})
	require.NoError(t, err)

	assert.Equal(t, transform.ModeRight, m.Mode)
	assert.Equal(t, 3, m.Param)
	assert.Equal(t, testutil.Epoch.Unix(), m.Timestamp)
	assert.Equal(t, []string{"img/logo", "index.html", "notes/a.txt"}, m.Paths())
	assert.Equal(t, transform.KindBinary, m.Entries["img/logo"].Kind)
	assert.Equal(t, transform.KindText, m.Entries["index.html"].Kind)
	assert.Equal(t, "rotated/notes/a.txt", m.Entries["notes/a.txt"].Rotated)

	rotated := testutil.ReadTree(t, f.layout.Rotated())
	mirror := testutil.ReadTree(t, f.layout.Mirror())
	for rel, original := range sourceTree {
		want, err := transform.Apply(m.Params(), transform.Classify([]byte(original)), []byte(original))
		require.NoError(t, err)
		assert.Equal(t, string(want), rotated[rel], rel)
		assert.Equal(t, rotated[rel], mirror[rel], "mirror of %s", rel)
	}
	assert.Equal(t, sourceTree["img/logo"], rotated["img/logo"], "binary content passes through a text mode")

	v := manifest.Load(f.layout.Manifest(), []byte(testutil.TestKey))
	require.True(t, v.Valid, v.Reason)
	assert.Equal(t, m.HMAC, v.Manifest.HMAC)

	backup := testutil.ReadTree(t, f.layout.Backup(m.Timestamp))
	assert.Equal(t, sourceTree, backup)

	cycles, err := f.store.Cycles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, store.CycleOK, cycles[0].Status)
	assert.Equal(t, "source", cycles[0].Origin)
	assert.Equal(t, 3, cycles[0].Files)
	assert.Equal(t, m.HMAC, cycles[0].ManifestTag)
}

func TestRotateCycle_Deterministic(t *testing.T) {
	a := newFixture(t, nil)
	b := newFixture(t, nil)
	ctx := context.Background()
	opts := Options{Mode: transform.ModeShuffle, Seed: "same-seed"}

	ma, err := a.engine.RotateCycle(ctx, opts)
	require.NoError(t, err)
	mb, err := b.engine.RotateCycle(ctx, opts)
	require.NoError(t, err)

	treeA := testutil.ReadTree(t, a.layout.Rotated())
	treeB := testutil.ReadTree(t, b.layout.Rotated())
	delete(treeA, manifest.FileName)
	delete(treeB, manifest.FileName)
	assert.Equal(t, treeA, treeB)
	assert.Equal(t, ma.Entries, mb.Entries)
}

func TestRotateCycle_GeneratesSeed(t *testing.T) {
	f := newFixture(t, nil)

	m, err := f.engine.RotateCycle(context.Background(), Options{Mode: transform.ModeShuffle})
	require.NoError(t, err)

	id, err := uuid.Parse(m.Seed)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
}

func TestRotateCycle_ModeWithoutParamUsesDefaultParam(t *testing.T) {
	f := newFixture(t, nil)

	m, err := f.engine.RotateCycle(context.Background(), Options{Mode: transform.ModeLeft, Seed: "fixed"})
	require.NoError(t, err)
	assert.Equal(t, transform.ModeLeft, m.Mode)
	assert.Equal(t, 3, m.Param)

	rotated := testutil.ReadTree(t, f.layout.Rotated())
	assert.NotEqual(t, sourceTree["index.html"], rotated["index.html"])
}

func TestRotateCycle_ExplicitZeroParam(t *testing.T) {
	f := newFixture(t, nil)

	m, err := f.engine.RotateCycle(context.Background(), Options{Mode: transform.ModeRight, ParamSet: true, Seed: "fixed"})
	require.NoError(t, err)
	assert.Equal(t, 0, m.Param)
}

func TestRotateCycle_ManifestCollisionIsFailureMarker(t *testing.T) {
	f := newFixture(t, nil)
	testutil.WriteTree(t, f.layout.Source(), testutil.Tree{manifest.FileName: "{}"})

	m, err := f.engine.RotateCycle(context.Background(), Options{Seed: "s"})
	require.NoError(t, err)

	assert.Equal(t, []string{manifest.FileName}, m.Failures())
	assert.Contains(t, m.Entries[manifest.FileName].Error, "collides")

	v := manifest.Load(f.layout.Manifest(), []byte(testutil.TestKey))
	require.True(t, v.Valid, v.Reason)

	cycles, err := f.store.Cycles(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, store.CyclePartial, cycles[0].Status)
	assert.Equal(t, 1, cycles[0].Failures)
}

func TestRotateCycle_AbortOnErrorKeepsPreviousManifest(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.AbortOnError = true })
	ctx := context.Background()

	first, err := f.engine.RotateCycle(ctx, Options{Seed: "s"})
	require.NoError(t, err)
	before, err := os.ReadFile(f.layout.Manifest())
	require.NoError(t, err)

	testutil.WriteTree(t, f.layout.Source(), testutil.Tree{manifest.FileName: "{}"})
	_, err = f.engine.RotateCycle(ctx, Options{Seed: "other"})
	require.ErrorIs(t, err, ErrAborted)

	after, err := os.ReadFile(f.layout.Manifest())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	rotated := testutil.ReadTree(t, f.layout.Rotated())
	want, err := transform.Apply(first.Params(), transform.KindText, []byte(sourceTree["index.html"]))
	require.NoError(t, err)
	assert.Equal(t, string(want), rotated["index.html"], "no file written by an aborted cycle")

	cycles, err := f.store.Cycles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, store.CycleAborted, cycles[0].Status)
	assert.Contains(t, cycles[0].Error, "collides")
}

func TestRotateCycle_InvalidModeIsConfigError(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.RotateCycle(context.Background(), Options{Mode: "sideways"})
	assert.True(t, fault.IsKind(err, fault.KindConfig))
}

func TestRotateCycle_PrunesFilesWithoutEntries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.RotateCycle(ctx, Options{Seed: "s"})
	require.NoError(t, err)
	gitHead := filepath.Join(f.layout.Rotated(), ".git", "HEAD")
	require.NoError(t, os.MkdirAll(filepath.Dir(gitHead), 0o755))
	require.NoError(t, os.WriteFile(gitHead, []byte("ref: refs/heads/main\n"), 0o644))

	require.NoError(t, os.RemoveAll(filepath.Join(f.layout.Source(), "notes")))
	m, err := f.engine.RotateCycle(ctx, Options{Seed: "s"})
	require.NoError(t, err)
	assert.Equal(t, []string{"img/logo", "index.html"}, m.Paths())

	for _, root := range []string{f.layout.Rotated(), f.layout.Mirror()} {
		assert.NoDirExists(t, filepath.Join(root, "notes"))
		assert.FileExists(t, filepath.Join(root, "index.html"))
		assert.FileExists(t, filepath.Join(root, "img", "logo"))
	}
	assert.FileExists(t, f.layout.Manifest())
	assert.FileExists(t, gitHead)
}

func TestRecoverFromBackup(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.engine.RotateCycle(ctx, Options{Seed: "s"})
	require.NoError(t, err)

	// Damage both the live source and the signed output.
	testutil.WriteTree(t, f.layout.Source(), testutil.Tree{"index.html": "defaced"})
	require.NoError(t, os.WriteFile(f.layout.Manifest(), []byte("garbage"), 0o644))

	m, err := f.engine.RecoverFromBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Entries, m.Entries)

	backups, err := Backups(f.layout)
	require.NoError(t, err)
	assert.Len(t, backups, 1, "recovery takes no new backup")

	v := manifest.Load(f.layout.Manifest(), []byte(testutil.TestKey))
	assert.True(t, v.Valid, v.Reason)

	cycles, err := f.store.Cycles(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "backup/backup_1700000000", cycles[0].Origin)
}

func TestLatestBackup(t *testing.T) {
	layout := config.Layout{Base: t.TempDir()}

	_, err := LatestBackup(layout)
	assert.True(t, fault.IsKind(err, fault.KindMissing))

	for _, name := range []string{"backup_100", "backup_900", "backup_20", "backup_x", "other"} {
		require.NoError(t, os.MkdirAll(filepath.Join(layout.BackupRoot(), name), 0o755))
	}
	latest, err := LatestBackup(layout)
	require.NoError(t, err)
	assert.Equal(t, layout.Backup(900), latest)
}
