package mirror

import (
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/pkgmirror/internal/composer"
)

const devMaster = "dev-master"

// GenerateRepository builds an index of the mirrored repositories under
// host. Every package gets a dev-master entry tracking branch followed by
// one entry per captured tag.
func GenerateRepository(ledger *Ledger, host, branch string) *composer.Index {
	if branch == "" {
		branch = defaultBranch
	}
	idx := composer.NewIndex()
	for _, rec := range ledger.Records() {
		name := rec.Key()
		base := "https://github.com/" + host + "/" + rec.Slug + "/archive/refs/"
		gitURL := "git@github.com:" + host + "/" + rec.Slug + ".git"
		describe := "WordPress " + rec.Kind() + " " + rec.Slug + " by " + rec.Vendor + " - "

		idx.Set(name, devMaster, composer.Version{
			Name:        name,
			Version:     devMaster,
			Dist:        &composer.Dist{Type: "zip", URL: base + "heads/" + branch + ".zip"},
			Source:      &composer.Source{Type: "git", URL: gitURL, Reference: rec.Ref},
			Type:        rec.Type,
			Description: describe + "Master Branch",
		})
		for _, tag := range rec.Tags {
			idx.Set(name, tag, composer.Version{
				Name:        name,
				Version:     tag,
				Dist:        &composer.Dist{Type: "zip", URL: base + "tags/" + tag + ".zip"},
				Source:      &composer.Source{Type: "git", URL: gitURL, Reference: tag},
				Type:        rec.Type,
				Description: describe + tag,
			})
		}
	}
	return idx
}

// WriteRepository writes idx to path as indented JSON.
func WriteRepository(path string, idx *composer.Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return errors.Wrap(err, "WriteRepository")
	}
	data = append(data, '\n')
	return errors.Wrap(writeFileAtomic(path, data, 0644), "WriteRepository: "+path)
}
