package publish

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/rotd/internal/manifest"
)

// Runner executes git with args in dir and returns combined output. env is
// appended to the process environment.
type Runner func(ctx context.Context, dir string, env []string, args ...string) ([]byte, error)

// ExecRunner runs the git binary.
func ExecRunner(ctx context.Context, dir string, env []string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.Bytes(), fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(out.String()))
	}
	return out.Bytes(), nil
}

// Git commits the rotated tree to a fresh branch on Remote. The commit is
// built in a private index with commit-tree, so the working copy, its index
// and its checked-out branch are never touched.
type Git struct {
	Repo   string
	Remote string
	Run    Runner
	Suffix func() string
	Logger *slog.Logger
}

func (g *Git) Name() string { return "git" }

func (g *Git) Publish(ctx context.Context, tree string, m *manifest.Manifest) error {
	run := g.Run
	if run == nil {
		run = ExecRunner
	}
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}
	suffix := g.Suffix
	if suffix == nil {
		suffix = func() string { return uuid.NewString()[:8] }
	}
	remote := g.Remote
	if remote == "" {
		remote = "origin"
	}

	tmp, err := os.MkdirTemp("", "rotd-index-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)
	env := []string{"GIT_INDEX_FILE=" + filepath.Join(tmp, "index")}

	// An unborn HEAD yields a root commit.
	var parent string
	if out, err := run(ctx, g.Repo, nil, "rev-parse", "--verify", "--quiet", "HEAD"); err == nil {
		parent = strings.TrimSpace(string(out))
		if _, err := run(ctx, g.Repo, env, "read-tree", parent); err != nil {
			return err
		}
	}

	if _, err := run(ctx, g.Repo, env, "add", "-A", "--", tree); err != nil {
		return err
	}
	out, err := run(ctx, g.Repo, env, "write-tree")
	if err != nil {
		return err
	}
	treeID := strings.TrimSpace(string(out))

	args := []string{"commit-tree", treeID}
	if parent != "" {
		args = append(args, "-p", parent)
	}
	args = append(args, "-m", fmt.Sprintf("rotd: rotation %d (mode %s, seed %s)", m.Timestamp, m.Mode, m.Seed))
	out, err = run(ctx, g.Repo, nil, args...)
	if err != nil {
		return err
	}
	commit := strings.TrimSpace(string(out))

	branch := branchName(m, suffix())
	if _, err := run(ctx, g.Repo, nil, "push", remote, commit+":refs/heads/"+branch); err != nil {
		return err
	}

	logger.Info("git: published rotation", "branch", branch, "remote", remote, "commit", commit)
	return nil
}
