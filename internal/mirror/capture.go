package mirror

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/pkgmirror/internal/archive"
	"github.com/mirrorctl/pkgmirror/internal/gitrepo"
	"github.com/mirrorctl/pkgmirror/internal/hosting"
)

// Workspace layout below the work directory.
const (
	packageDirName  = "package"
	gitInfoDirName  = "gitinfo"
	gitDirName      = "git"
	gitFileName     = "gitfile"
	unpackDirName   = "unpack"
	artifactName    = "artifact"
	gitMetadataName = ".git"
)

// CaptureStatus tells what capturing one version did.
type CaptureStatus int

// Capture statuses.
const (
	// CaptureCommitted means a commit and tag were pushed.
	CaptureCommitted CaptureStatus = iota
	// CaptureNoOp means the content matched HEAD; only the ledger changed.
	CaptureNoOp
)

func (s CaptureStatus) String() string {
	if s == CaptureNoOp {
		return "no-op"
	}
	return "committed"
}

// workspace is the scratch area of one package.
type workspace struct {
	root string
}

func (w workspace) packageDir() string { return filepath.Join(w.root, packageDirName) }
func (w workspace) gitDir() string     { return filepath.Join(w.root, gitInfoDirName, gitDirName) }
func (w workspace) gitFile() string    { return filepath.Join(w.root, gitInfoDirName, gitFileName) }
func (w workspace) unpackDir() string  { return filepath.Join(w.root, unpackDirName) }
func (w workspace) artifact() string   { return filepath.Join(w.root, artifactName) }

// reset wipes and recreates the workspace.
func (w workspace) reset() error {
	if err := os.RemoveAll(w.root); err != nil {
		return errors.Wrap(err, "wipe workspace")
	}
	return errors.Wrap(os.MkdirAll(filepath.Join(w.root, gitInfoDirName), 0750), "create workspace")
}

// Pipeline captures pending versions of packages into their destination
// repositories. Packages and versions are processed one at a time.
type Pipeline struct {
	store       *LedgerStore
	provisioner *Provisioner
	provider    hosting.Provider
	downloader  *Downloader
	git         *gitrepo.Runner
	sources     *SourceList
	identity    gitrepo.Identity
	branch      string
	stripPaths  []string
	ws          workspace
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	Store      *LedgerStore
	Provider   hosting.Provider
	Downloader *Downloader
	Git        *gitrepo.Runner
	Sources    *SourceList
	Identity   gitrepo.Identity
	Branch     string
	StripPaths []string
	WorkDir    string
}

// NewPipeline returns a Pipeline.
func NewPipeline(opts PipelineOptions) *Pipeline {
	sources := opts.Sources
	if sources == nil {
		sources = &SourceList{}
	}
	return &Pipeline{
		store:       opts.Store,
		provisioner: NewProvisioner(opts.Provider),
		provider:    opts.Provider,
		downloader:  opts.Downloader,
		git:         opts.Git,
		sources:     sources,
		identity:    opts.Identity,
		branch:      opts.Branch,
		stripPaths:  opts.StripPaths,
		ws:          workspace{root: opts.WorkDir},
	}
}

// UnitResult is the outcome of capturing one version.
type UnitResult struct {
	Package string
	Version string
	Status  CaptureStatus
	Ref     string
	Err     error
}

// PackageResult is the outcome of processing one package.
type PackageResult struct {
	Package string
	Created bool
	Units   []UnitResult
	Err     error
}

// Process captures every pending version of u in order. A failing
// version is logged and skipped; a failure to provision, clone, seed or
// detach the repository aborts the package and is returned in Err.
func (p *Pipeline) Process(ctx context.Context, u Update) PackageResult {
	res := PackageResult{Package: u.Key}
	log := slog.With("package", u.Key)
	log.Info("processing package", "pending", len(u.Versions), "versions", u.Labels())

	rec, created, err := p.prepare(ctx, u.Record)
	res.Created = created
	if err != nil {
		res.Err = err
		log.Error("package aborted", "error", err)
		return res
	}

	for _, pv := range u.Versions {
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
		unit := UnitResult{Package: u.Key, Version: pv.Label}
		status, ref, err := p.capture(ctx, rec, pv)
		if err != nil {
			unit.Err = err
			log.Error("capture failed", "version", pv.Label, "error", err)
		} else {
			unit.Status, unit.Ref = status, ref
			log.Info("version captured", "version", pv.Label, "status", status.String(), "ref", ref)
		}
		res.Units = append(res.Units, unit)
		if err := os.RemoveAll(p.ws.unpackDir()); err != nil {
			log.Warn("failed to clean unpack directory", "error", err)
		}
	}
	return res
}

// prepare provisions the destination, clones it, seeds it when empty and
// moves its git metadata out of the working copy.
func (p *Pipeline) prepare(ctx context.Context, rec Record) (Record, bool, error) {
	if err := p.ws.reset(); err != nil {
		return rec, false, err
	}

	rec, created, err := p.provisioner.Ensure(ctx, rec)
	if err != nil {
		return rec, false, err
	}
	if created {
		updated := rec
		if _, err := p.store.Update(func(l *Ledger) (*Ledger, error) {
			if cur, ok := l.Get(updated.Key()); ok {
				updated = cur.WithGit(rec.Git)
			}
			return l.With(updated), nil
		}); err != nil {
			return rec, created, errors.Wrap(err, "record destination repository")
		}
		rec = updated
	}

	slog.Info("cloning destination", "package", rec.Key(), "slug", rec.Slug)
	repo, err := p.git.In(p.ws.root).Clone(ctx, p.provider.CloneURL(rec.Slug), p.ws.packageDir())
	if err != nil {
		return rec, created, err
	}
	if err := repo.EnsureIdentity(ctx, p.identity); err != nil {
		return rec, created, err
	}

	if !repo.HasCommits(ctx) {
		slog.Info("seeding destination", "package", rec.Key())
		if err := seed(ctx, repo, rec, p.branch); err != nil {
			return rec, created, errors.Wrap(err, "seed repository")
		}
	}

	if err := p.detach(ctx, repo); err != nil {
		return rec, created, err
	}
	return rec, created, nil
}

// detach moves the git metadata of the working copy into the workspace,
// keeps a copy of the pointer file and removes the working copy.
func (p *Pipeline) detach(ctx context.Context, repo *gitrepo.Runner) error {
	if err := repo.InitSeparateGitDir(ctx, p.ws.gitDir()); err != nil {
		return err
	}
	pointer, err := os.ReadFile(filepath.Join(repo.Dir, gitMetadataName))
	if err != nil {
		return errors.Wrap(err, "read git pointer")
	}
	if err := os.WriteFile(p.ws.gitFile(), pointer, 0600); err != nil {
		return errors.Wrap(err, "back up git pointer")
	}
	return errors.Wrap(os.RemoveAll(repo.Dir), "remove working copy")
}

// credentialsFor picks the source credentials for a version, by the
// vendor in the version's name first and the package vendor second.
func (p *Pipeline) credentialsFor(rec Record, pv PendingVersion) *BasicAuth {
	if vendor := pv.Version.Vendor(); vendor != "" {
		if auth := p.sources.CredentialsFor(vendor); auth != nil {
			return auth
		}
	}
	return p.sources.CredentialsFor(rec.Vendor)
}

// capture materializes one version into the destination and records it.
func (p *Pipeline) capture(ctx context.Context, rec Record, pv PendingVersion) (CaptureStatus, string, error) {
	log := slog.With("package", rec.Key(), "version", pv.Label)

	url := pv.Version.DistURL()
	if url == "" {
		return 0, "", errors.Newf("version %s has no distribution url", pv.Label)
	}

	log.Info("downloading artifact", "step", "fetch")
	sum, err := p.downloader.Download(ctx, url, p.credentialsFor(rec, pv), p.ws.artifact())
	if err != nil {
		return 0, "", errors.Wrapf(err, "fetch %s", pv.Label)
	}
	if pv.Version.Dist != nil {
		if err := sum.Verify(pv.Version.Dist.Shasum); err != nil {
			return 0, "", errors.Wrapf(err, "verify %s", pv.Label)
		}
	}

	log.Debug("unpacking artifact", "step", "unpack")
	if err := os.RemoveAll(p.ws.unpackDir()); err != nil {
		return 0, "", err
	}
	if err := archive.Extract(p.ws.artifact(), p.ws.unpackDir()); err != nil {
		return 0, "", errors.Wrapf(err, "unpack %s", pv.Label)
	}
	if err := os.Remove(p.ws.artifact()); err != nil {
		log.Warn("failed to remove artifact", "error", err)
	}
	root, err := archive.FindRoot(p.ws.unpackDir(), rec.Slug)
	if err != nil {
		return 0, "", errors.Wrapf(err, "unpack %s", pv.Label)
	}

	log.Debug("grafting repository identity", "step", "graft", "root", filepath.Base(root))
	if err := removeGitMetadata(root); err != nil {
		return 0, "", errors.Wrap(err, "discard shipped git metadata")
	}
	pointer, err := os.ReadFile(p.ws.gitFile())
	if err != nil {
		return 0, "", errors.Wrap(err, "read git pointer backup")
	}
	if err := os.WriteFile(filepath.Join(root, gitMetadataName), pointer, 0600); err != nil {
		return 0, "", errors.Wrap(err, "restore git pointer")
	}
	repo := p.git.In(root)

	if _, err := os.Stat(filepath.Join(root, manifestFile)); os.IsNotExist(err) {
		log.Debug("restoring manifest from history", "step", "manifest")
		if err := repo.CheckoutPath(ctx, manifestFile); err != nil {
			return 0, "", err
		}
	}
	for _, rel := range p.stripPaths {
		if err := os.RemoveAll(filepath.Join(root, rel)); err != nil {
			return 0, "", errors.Wrapf(err, "strip %s", rel)
		}
	}

	if err := repo.AddAll(ctx); err != nil {
		return 0, "", err
	}
	if err := repo.EnsureIdentity(ctx, p.identity); err != nil {
		return 0, "", err
	}
	clean, err := repo.IsClean(ctx)
	if err != nil {
		return 0, "", err
	}

	message := commitMessage(rec.Slug, pv.Label)
	status := CaptureNoOp
	if clean {
		tagged, err := p.tagUnfinished(ctx, repo, message, pv.Label)
		if err != nil {
			return 0, "", err
		}
		if tagged {
			status = CaptureCommitted
		} else {
			log.Info("content unchanged, skipping commit", "step", "commit")
		}
	} else {
		status = CaptureCommitted
		log.Info("committing", "step", "commit")
		if err := repo.Commit(ctx, message); err != nil {
			return 0, "", err
		}
		if err := repo.Push(ctx); err != nil {
			return 0, "", err
		}
		log.Info("tagging", "step", "tag")
		if err := repo.TagAndPush(ctx, pv.Label); err != nil {
			return 0, "", err
		}
	}

	ref, err := repo.ShortHead(ctx)
	if err != nil {
		return 0, "", err
	}

	if _, err := p.store.Update(func(l *Ledger) (*Ledger, error) {
		cur, ok := l.Get(rec.Key())
		if !ok {
			cur = rec
		}
		return l.With(cur.WithCapture(pv.Label, ref)), nil
	}); err != nil {
		return 0, "", errors.Wrap(err, "record capture")
	}
	return status, ref, nil
}

func commitMessage(slug, label string) string {
	return "Update " + slug + " to " + label
}

// tagUnfinished tags HEAD when it is the commit of label but the tag
// never reached origin, as after a run interrupted between the branch
// push and the tag push. It reports whether a tag was pushed.
func (p *Pipeline) tagUnfinished(ctx context.Context, repo *gitrepo.Runner, message, label string) (bool, error) {
	subject, err := repo.HeadSubject(ctx)
	if err != nil || subject != message {
		return false, err
	}
	exists, err := repo.RemoteTagExists(ctx, label)
	if err != nil || exists {
		return false, err
	}
	slog.Warn("HEAD was pushed without its tag, tagging", "version", label, "step", "tag")
	if err := repo.TagAndPush(ctx, label); err != nil {
		return false, err
	}
	return true, nil
}

// removeGitMetadata deletes every ".git" entry below root.
func removeGitMetadata(root string) error {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Name() == gitMetadataName {
			found = append(found, path)
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, path := range found {
		if err := os.RemoveAll(path); err != nil {
			return err
		}
	}
	return nil
}
