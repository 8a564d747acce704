package mirror

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/mirrorctl/pkgmirror/internal/composer"
	"github.com/mirrorctl/pkgmirror/internal/gitrepo"
	"github.com/mirrorctl/pkgmirror/internal/hosting"
)

const (
	lockFilename = ".lock"
)

// Exit codes of a sync run.
const (
	ExitCaptured  = 0
	ExitFailure   = 1
	ExitNoUpdates = 3
	ExitAllFailed = 4
)

// Options tunes a Run.
type Options struct {
	// Packages restricts the run to these ledger keys. Empty means all.
	Packages []string
	// DryRun stops after computing pending updates.
	DryRun bool
	// Quiet disables download progress bars.
	Quiet bool
	// Provider replaces the provider built from the configuration.
	Provider hosting.Provider
}

// Plan is the aggregated index, the ledger it was diffed against and the
// resulting pending updates.
type Plan struct {
	Index   *composer.Index
	Ledger  *Ledger
	Sources []FetchResult
	Updates []Update
}

// PendingCount returns the number of pending versions.
func (p *Plan) PendingCount() int {
	n := 0
	for _, u := range p.Updates {
		n += len(u.Versions)
	}
	return n
}

// Report summarizes a Run.
type Report struct {
	Plan     *Plan
	Packages []PackageResult
}

// Count returns the number of units with status and without error.
func (r *Report) Count(status CaptureStatus) int {
	n := 0
	for _, pkg := range r.Packages {
		for _, u := range pkg.Units {
			if u.Err == nil && u.Status == status {
				n++
			}
		}
	}
	return n
}

// Failed returns the number of failed units plus aborted packages.
func (r *Report) Failed() int {
	n := 0
	for _, pkg := range r.Packages {
		if pkg.Err != nil {
			n++
		}
		for _, u := range pkg.Units {
			if u.Err != nil {
				n++
			}
		}
	}
	return n
}

// Recorded returns the number of versions added to the ledger.
func (r *Report) Recorded() int {
	return r.Count(CaptureCommitted) + r.Count(CaptureNoOp)
}

// ExitCode maps the report to the process exit code.
func (r *Report) ExitCode() int {
	switch {
	case r.Recorded() > 0:
		return ExitCaptured
	case r.Plan == nil || r.Plan.PendingCount() == 0:
		return ExitNoUpdates
	default:
		return ExitAllFailed
	}
}

// BuildPlan aggregates the configured sources and diffs them against the
// ledger. It writes nothing.
func BuildPlan(ctx context.Context, config *Config) (*Plan, error) {
	sources, err := openSources(config.SourcesPath(), config.VaultPass)
	if err != nil {
		return nil, err
	}
	ledger, err := NewLedgerStore(config.LedgerPath()).Load()
	if err != nil {
		return nil, err
	}

	idx, results := NewAggregator(nil, config.StepTimeout.Duration).Aggregate(ctx, sources.ComposerRepos)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Plan{
		Index:   idx,
		Ledger:  ledger,
		Sources: results,
		Updates: Pending(idx, ledger),
	}, nil
}

// filterUpdates keeps the updates of the named packages.
func filterUpdates(updates []Update, packages []string) []Update {
	if len(packages) == 0 {
		return updates
	}
	want := make(map[string]bool, len(packages))
	for _, p := range packages {
		want[p] = true
	}
	var out []Update
	for _, u := range updates {
		if want[u.Key] {
			out = append(out, u)
		}
	}
	return out
}

// NewProvider builds the hosting provider from the configuration.
func NewProvider(config *Config) (*hosting.GitHub, error) {
	gh, err := hosting.NewGitHub(hosting.Options{
		APIURL:     config.Hosting.APIURL,
		CloneHost:  config.Hosting.CloneHost,
		Owner:      config.Hosting.Owner,
		Token:      config.Hosting.Token,
		MaxRetries: config.HTTP.MaxRetries,
		Timeout:    config.StepTimeout.Duration,
	})
	if err != nil {
		return nil, errors.Mark(err, ErrConfig)
	}
	return gh, nil
}

// lock takes the data directory lock without waiting.
func lock(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.Wrap(err, "create data_dir")
	}
	fileLock := flock.New(filepath.Join(dir, lockFilename))
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "lock data_dir")
	}
	if !locked {
		return nil, errors.Mark(errors.Newf("%s is locked", fileLock.Path()), ErrLocked)
	}
	return fileLock, nil
}

// Run mirrors pending versions.
//
// The first thing to do is to acquire flock on the lock file in
// data_dir. Configuration failures are returned before any package work
// begins. Failures of single packages or versions are logged, counted in
// the report and do not fail the run.
func Run(ctx context.Context, config *Config, opts Options) (*Report, error) {
	if err := config.Check(); err != nil {
		return nil, err
	}
	if !opts.DryRun {
		if err := config.CheckIdentity(); err != nil {
			return nil, err
		}
	}

	fileLock, err := lock(config.DataDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			slog.Warn("failed to unlock data_dir", "error", err)
		}
	}()

	var pipeline *Pipeline
	if !opts.DryRun {
		pipeline, err = newPipeline(config, opts)
		if err != nil {
			return nil, err
		}
	}

	report := &Report{}
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		plan, err := BuildPlan(ctx, config)
		if err != nil {
			return err
		}
		plan.Updates = filterUpdates(plan.Updates, opts.Packages)
		report.Plan = plan

		if len(plan.Updates) == 0 {
			slog.Info("no pending updates")
			return nil
		}
		if opts.DryRun {
			slog.Info("dry-run mode: nothing captured", "packages", len(plan.Updates), "versions", plan.PendingCount())
			return nil
		}

		slog.Info("update starts", "packages", len(plan.Updates), "versions", plan.PendingCount())
		for _, u := range plan.Updates {
			if err := ctx.Err(); err != nil {
				return err
			}
			report.Packages = append(report.Packages, pipeline.Process(ctx, u))
		}
		slog.Info("update ends",
			"committed", report.Count(CaptureCommitted),
			"noop", report.Count(CaptureNoOp),
			"failed", report.Failed())
		return nil
	})
	err = group.Wait()

	if pipeline != nil {
		if rmErr := os.RemoveAll(pipeline.ws.root); rmErr != nil {
			slog.Warn("failed to remove workspace", "path", pipeline.ws.root, "error", rmErr)
		}
	}
	if err != nil {
		return report, err
	}
	return report, nil
}

func newPipeline(config *Config, opts Options) (*Pipeline, error) {
	provider := opts.Provider
	if provider == nil {
		gh, err := NewProvider(config)
		if err != nil {
			return nil, err
		}
		provider = gh
	}

	sources, err := openSources(config.SourcesPath(), config.VaultPass)
	if err != nil {
		return nil, err
	}

	git, err := gitrepo.NewRunner(config.WorkPath(), config.StepTimeout.Duration)
	if err != nil {
		return nil, errors.Mark(err, ErrConfig)
	}

	return NewPipeline(PipelineOptions{
		Store:      NewLedgerStore(config.LedgerPath()),
		Provider:   provider,
		Downloader: NewDownloader(config.HTTP.MaxRetries, config.HTTP.Timeout.Duration, opts.Quiet),
		Git:        git,
		Sources:    sources,
		Identity:   config.Git.Identity(),
		Branch:     config.Git.Branch,
		StripPaths: config.StripPaths,
		WorkDir:    config.WorkPath(),
	}), nil
}
