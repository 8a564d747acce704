package mirror

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/pkgmirror/internal/gitrepo"
	"github.com/mirrorctl/pkgmirror/internal/hosting"
)

const manifestFile = "composer.json"

// Provisioner makes sure a destination repository exists for a package.
type Provisioner struct {
	provider hosting.Provider
}

// NewProvisioner returns a Provisioner creating repositories through
// provider.
func NewProvisioner(provider hosting.Provider) *Provisioner {
	return &Provisioner{provider: provider}
}

// Ensure creates the destination repository of rec when it does not
// exist. It returns the record, with Git set to the new repository when
// one was created, and whether a repository was created. The caller
// persists the record.
func (p *Provisioner) Ensure(ctx context.Context, rec Record) (Record, bool, error) {
	exists, err := p.provider.RepositoryExists(ctx, rec.Slug)
	if err != nil {
		return rec, false, errors.Wrapf(err, "check repository %s", rec.Slug)
	}
	if exists {
		slog.Debug("destination repository exists", "package", rec.Key(), "slug", rec.Slug)
		return rec, false, nil
	}

	repo, err := p.provider.CreateRepository(ctx, rec.Slug, rec.Kind())
	if err != nil {
		return rec, false, errors.Wrapf(err, "create repository %s", rec.Slug)
	}
	slog.Info("destination repository created", "package", rec.Key(), "url", repo.HTMLURL)
	return rec.WithGit(repo.HTMLURL), true, nil
}

type manifest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

func seedManifest(rec Record) ([]byte, error) {
	vendor := rec.Vendor
	if vendor == "" {
		vendor = rec.Slug
	}
	m := manifest{
		Name:        vendor + "/" + rec.Slug,
		Description: "Private Repo tracking the paid wordpress " + rec.Kind() + " ",
		Type:        rec.Type,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// seed makes the first commit of an empty destination repository: a
// minimal manifest and a placeholder .gitignore on branch.
func seed(ctx context.Context, repo *gitrepo.Runner, rec Record, branch string) error {
	if err := repo.SetHead(ctx, branch); err != nil {
		return err
	}

	data, err := seedManifest(rec)
	if err != nil {
		return errors.Wrap(err, "encode manifest")
	}
	if err := os.WriteFile(filepath.Join(repo.Dir, manifestFile), data, 0644); err != nil { // #nosec G306 - committed file
		return errors.Wrap(err, "write manifest")
	}
	if err := os.WriteFile(filepath.Join(repo.Dir, ".gitignore"), []byte(" \n"), 0644); err != nil { // #nosec G306 - committed file
		return errors.Wrap(err, "write .gitignore")
	}

	if err := repo.AddAll(ctx); err != nil {
		return err
	}
	if err := repo.Commit(ctx, "Prepare "+rec.Kind()+" Repo"); err != nil {
		return err
	}
	return repo.Push(ctx)
}
