// Package gitrepo drives the git executable against one working copy.
//
// Every command runs with an explicit working directory; nothing depends
// on the process's current directory.
package gitrepo

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrTagExists marks failures caused by a tag that is already present,
// locally or on the remote.
var ErrTagExists = errors.New("tag already exists")

var credentialPattern = regexp.MustCompile(`://[^@/\s]+@`)

// Redact hides credentials embedded in URLs.
func Redact(s string) string {
	return credentialPattern.ReplaceAllString(s, "://***@")
}

// Runner runs git commands in Dir.
type Runner struct {
	gitPath string

	// Dir is the directory the commands are run in.
	Dir string

	// Timeout bounds each command. Zero means no limit beyond ctx.
	Timeout time.Duration
}

// Result holds the output of a command.
type Result struct {
	Stdout string
	Stderr string
}

// ExecError is returned when git exits unsuccessfully.
type ExecError struct {
	Args   []string
	Err    error
	Stdout string
	Stderr string
}

func (e *ExecError) Error() string {
	b := new(strings.Builder)
	b.WriteString("git ")
	b.WriteString(Redact(strings.Join(e.Args, " ")))
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		b.WriteString(": ")
		b.WriteString(Redact(stderr))
	}
	return b.String()
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// NewRunner returns a Runner for dir.
func NewRunner(dir string, timeout time.Duration) (*Runner, error) {
	p, err := exec.LookPath("git")
	if err != nil {
		return nil, errors.Wrap(err, "no 'git' program on path")
	}
	return &Runner{gitPath: p, Dir: dir, Timeout: timeout}, nil
}

// In returns a Runner sharing r's settings for another directory.
func (r *Runner) In(dir string) *Runner {
	return &Runner{gitPath: r.gitPath, Dir: dir, Timeout: r.Timeout}
}

// Run runs a git command. Omit the "git" part of the command.
func (r *Runner) Run(ctx context.Context, args ...string) (Result, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.gitPath, args...) // #nosec G204 - arguments are built by this package
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	slog.Debug("running git", "dir", r.Dir, "args", Redact(strings.Join(args, " ")))
	err := cmd.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Wrap(ctxErr, err.Error())
		}
		return Result{}, &ExecError{
			Args:   args,
			Err:    err,
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
	}
	return Result{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

func stderrOf(err error) string {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.Stderr
	}
	return ""
}
