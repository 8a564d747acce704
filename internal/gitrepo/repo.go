package gitrepo

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

// Identity is the author and committer used for automated commits.
type Identity struct {
	Name  string
	Email string
}

// BotIdentity is the identity used when none is configured.
var BotIdentity = Identity{
	Name:  "github-actions[bot]",
	Email: "github-actions[bot]@users.noreply.github.com",
}

// Clone clones url into dest. r.Dir must be the parent of dest.
func (r *Runner) Clone(ctx context.Context, url, dest string) (*Runner, error) {
	if _, err := r.Run(ctx, "clone", url, dest); err != nil {
		return nil, errors.Wrapf(err, "clone %s", Redact(url))
	}
	return r.In(dest), nil
}

// EnsureIdentity sets user.name and user.email in the repository
// configuration when they are not already set there.
func (r *Runner) EnsureIdentity(ctx context.Context, id Identity) error {
	for key, value := range map[string]string{"user.name": id.Name, "user.email": id.Email} {
		res, err := r.Run(ctx, "config", "--local", "--get", key)
		if err == nil && strings.TrimSpace(res.Stdout) != "" {
			continue
		}
		if _, err := r.Run(ctx, "config", "--local", key, value); err != nil {
			return errors.Wrapf(err, "set %s", key)
		}
	}
	return nil
}

// HasCommits reports whether HEAD points at a commit.
func (r *Runner) HasCommits(ctx context.Context) bool {
	_, err := r.Run(ctx, "rev-parse", "--verify", "--quiet", "HEAD")
	return err == nil
}

// SetHead points HEAD at branch. Used on freshly created, empty
// repositories so the first commit lands on the expected branch.
func (r *Runner) SetHead(ctx context.Context, branch string) error {
	_, err := r.Run(ctx, "symbolic-ref", "HEAD", "refs/heads/"+branch)
	return errors.Wrapf(err, "set HEAD to %s", branch)
}

// InitSeparateGitDir moves the repository metadata to gitDir and leaves
// a ".git" pointer file in the working copy.
func (r *Runner) InitSeparateGitDir(ctx context.Context, gitDir string) error {
	_, err := r.Run(ctx, "init", "--separate-git-dir", gitDir)
	return errors.Wrap(err, "init --separate-git-dir")
}

// AddAll stages every change, including deletions.
func (r *Runner) AddAll(ctx context.Context) error {
	_, err := r.Run(ctx, "add", "-A")
	return errors.Wrap(err, "add")
}

// IsClean reports whether the index and working tree match HEAD.
func (r *Runner) IsClean(ctx context.Context) (bool, error) {
	res, err := r.Run(ctx, "status", "--porcelain")
	if err != nil {
		return false, errors.Wrap(err, "status")
	}
	return strings.TrimSpace(res.Stdout) == "", nil
}

// Commit records the staged changes.
func (r *Runner) Commit(ctx context.Context, message string) error {
	_, err := r.Run(ctx, "commit", "-m", message)
	return errors.Wrap(err, "commit")
}

// Push pushes the current branch to origin.
func (r *Runner) Push(ctx context.Context) error {
	_, err := r.Run(ctx, "push", "origin", "HEAD")
	return errors.Wrap(err, "push")
}

// CheckoutPath restores path in the index and working tree from HEAD.
func (r *Runner) CheckoutPath(ctx context.Context, path string) error {
	_, err := r.Run(ctx, "checkout", "HEAD", "--", path)
	return errors.Wrapf(err, "checkout %s", path)
}

// HeadSubject returns the first line of the HEAD commit message.
func (r *Runner) HeadSubject(ctx context.Context) (string, error) {
	res, err := r.Run(ctx, "log", "-1", "--format=%s", "HEAD")
	if err != nil {
		return "", errors.Wrap(err, "log")
	}
	return strings.TrimSpace(res.Stdout), nil
}

// ShortHead returns the abbreviated hash of HEAD.
func (r *Runner) ShortHead(ctx context.Context) (string, error) {
	res, err := r.Run(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", errors.Wrap(err, "rev-parse")
	}
	return strings.TrimSpace(res.Stdout), nil
}

func markTagExists(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(stderrOf(err), "already exists") {
		return errors.Mark(err, ErrTagExists)
	}
	return err
}

// Tag creates a lightweight tag at HEAD.
func (r *Runner) Tag(ctx context.Context, name string) error {
	_, err := r.Run(ctx, "tag", name)
	return errors.Wrapf(markTagExists(err), "tag %s", name)
}

// PushTag pushes one tag to origin.
func (r *Runner) PushTag(ctx context.Context, name string) error {
	_, err := r.Run(ctx, "push", "origin", "refs/tags/"+name)
	return errors.Wrapf(markTagExists(err), "push tag %s", name)
}

// RemoteTagExists reports whether origin has tag name.
func (r *Runner) RemoteTagExists(ctx context.Context, name string) (bool, error) {
	res, err := r.Run(ctx, "ls-remote", "--tags", "origin", "refs/tags/"+name)
	if err != nil {
		return false, errors.Wrapf(err, "ls-remote tag %s", name)
	}
	return strings.TrimSpace(res.Stdout) != "", nil
}

// DeleteTag removes a local tag.
func (r *Runner) DeleteTag(ctx context.Context, name string) error {
	_, err := r.Run(ctx, "tag", "-d", name)
	return errors.Wrapf(err, "delete tag %s", name)
}

// DeleteRemoteTag removes a tag from origin.
func (r *Runner) DeleteRemoteTag(ctx context.Context, name string) error {
	_, err := r.Run(ctx, "push", "origin", ":refs/tags/"+name)
	return errors.Wrapf(err, "delete remote tag %s", name)
}

// TagAndPush creates and pushes tag name. When the tag already exists
// locally or remotely, both copies are deleted and the tag is created
// and pushed once more. A second conflict is returned to the caller.
func (r *Runner) TagAndPush(ctx context.Context, name string) error {
	err := r.tagAndPush(ctx, name)
	if !errors.Is(err, ErrTagExists) {
		return err
	}

	// Removal failures are expected when the tag only existed on one side.
	_ = r.DeleteTag(ctx, name)
	_ = r.DeleteRemoteTag(ctx, name)

	return r.tagAndPush(ctx, name)
}

func (r *Runner) tagAndPush(ctx context.Context, name string) error {
	if err := r.Tag(ctx, name); err != nil {
		return err
	}
	return r.PushTag(ctx, name)
}
