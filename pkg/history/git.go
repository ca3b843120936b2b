// Package history reads dataset versions from a git repository.
package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNoAncestor is returned when two revisions share no history.
var ErrNoAncestor = errors.New("no common ancestor")

// Client runs git commands in a working directory.
type Client struct {
	WorkDir string
	Logger  *zap.Logger
}

// NewClient creates a new git client for the given working directory.
func NewClient(workDir string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{WorkDir: workDir, Logger: logger}
}

// output executes git and returns its standard output untouched.
func (c *Client) output(ctx context.Context, args ...string) ([]byte, error) {
	c.Logger.Debug("executing git", zap.Strings("args", args), zap.String("dir", c.WorkDir))

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.WorkDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &CommandError{Args: args, Err: err, Stderr: strings.TrimSpace(stderr.String())}
	}
	return out, nil
}

// Run executes a raw git command and returns its trimmed output.
func (c *Client) Run(ctx context.Context, args ...string) (string, error) {
	out, err := c.output(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// CommandError reports a failed git invocation.
type CommandError struct {
	Args   []string
	Err    error
	Stderr string
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("git %s failed: %v", e.Args[0], e.Err)
	}
	return fmt.Sprintf("git %s failed: %v: %s", e.Args[0], e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

// exitCode returns the exit status of a failed command, or -1.
func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// ResolveRef returns the full commit hash a revision names.
func (c *Client) ResolveRef(ctx context.Context, rev string) (string, error) {
	return c.Run(ctx, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
}

// ResolveAncestor returns the best common ancestor commit of two revisions.
func (c *Client) ResolveAncestor(ctx context.Context, refA, refB string) (string, error) {
	out, err := c.Run(ctx, "merge-base", refA, refB)
	if err != nil {
		// merge-base exits 1 without output when the histories are unrelated.
		if exitCode(err) == 1 {
			return "", fmt.Errorf("%w between %s and %s", ErrNoAncestor, refA, refB)
		}
		return "", err
	}
	return out, nil
}

// Show returns the content of path at revision rev.
func (c *Client) Show(ctx context.Context, rev, path string) ([]byte, error) {
	return c.output(ctx, "show", rev+":"+path)
}

// Commit is one entry of a file's history.
type Commit struct {
	Hash    string
	Author  string
	Date    time.Time
	Subject string
}

// Log lists the commits touching path, newest first, following renames.
// A limit of zero lists all of them.
func (c *Client) Log(ctx context.Context, path string, limit int) ([]Commit, error) {
	return c.Commits(ctx, path, LogOptions{Limit: limit, Follow: true})
}

// LogOptions narrows a commit listing.
type LogOptions struct {
	Limit int
	// Since keeps commits made at or after this time when set.
	Since time.Time
	// NoMerges drops merge commits.
	NoMerges bool
	Follow   bool
	// DiffFilter passes a --diff-filter selection, "A" for commits that
	// created the file.
	DiffFilter string
}

func (o LogOptions) args() []string {
	args := []string{"log", "--format=%H%x00%an%x00%aI%x00%s"}
	if o.Follow {
		args = append(args, "--follow")
	}
	if o.Limit > 0 {
		args = append(args, fmt.Sprintf("-n%d", o.Limit))
	}
	if !o.Since.IsZero() {
		args = append(args, "--since="+o.Since.Format(time.RFC3339))
	}
	if o.NoMerges {
		args = append(args, "--no-merges")
	}
	if o.DiffFilter != "" {
		args = append(args, "--diff-filter="+o.DiffFilter)
	}
	return args
}

// Commits lists the commits touching path, newest first.
func (c *Client) Commits(ctx context.Context, path string, opts LogOptions) ([]Commit, error) {
	args := append(opts.args(), "--", path)
	out, err := c.Run(ctx, args...)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}

	var commits []Commit
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "\x00", 4)
		if len(parts) != 4 {
			return nil, fmt.Errorf("unexpected git log line %q", line)
		}
		date, err := time.Parse(time.RFC3339, parts[2])
		if err != nil {
			return nil, fmt.Errorf("failed to parse commit date: %w", err)
		}
		commits = append(commits, Commit{Hash: parts[0], Author: parts[1], Date: date, Subject: parts[3]})
	}
	return commits, nil
}

// Created returns the author date of the commit that added path. When no
// commit adds it under this name the oldest commit touching it is used.
func (c *Client) Created(ctx context.Context, path string) (time.Time, error) {
	commits, err := c.Commits(ctx, path, LogOptions{Follow: true, DiffFilter: "A"})
	if err != nil {
		return time.Time{}, err
	}
	if len(commits) == 0 {
		if commits, err = c.Commits(ctx, path, LogOptions{Follow: true}); err != nil {
			return time.Time{}, err
		}
	}
	if len(commits) == 0 {
		return time.Time{}, fmt.Errorf("%s has no history", path)
	}
	return commits[len(commits)-1].Date, nil
}

// Exists reports whether path is present at revision rev. A revision that
// does not resolve, like the parent of a root commit, has no files.
func (c *Client) Exists(ctx context.Context, rev, path string) (bool, error) {
	_, err := c.output(ctx, "cat-file", "-e", rev+":"+path)
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 128 || exitCode(err) == 1 {
		return false, nil
	}
	return false, err
}

// Init initializes a new git repository if one doesn't exist.
func (c *Client) Init(ctx context.Context) error {
	_, err := c.Run(ctx, "init", "--quiet")
	return err
}

// Add adds files to the stage.
func (c *Client) Add(ctx context.Context, files ...string) error {
	if len(files) == 0 {
		return nil
	}
	_, err := c.Run(ctx, append([]string{"add"}, files...)...)
	return err
}

// Commit records staged changes and returns the new commit hash.
func (c *Client) Commit(ctx context.Context, msg string) (string, error) {
	if _, err := c.Run(ctx, "commit", "--quiet", "-m", msg); err != nil {
		return "", err
	}
	return c.ResolveRef(ctx, "HEAD")
}
