package mirror

import (
	"bytes"
	"encoding/json"
	"net/url"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/pkgmirror/internal/vault"
)

// Authentication modes of a source.
const (
	AuthNone  = "none"
	AuthBasic = "basic"
)

// BasicAuth is a username and password pair.
type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SourceDescriptor is one upstream package index.
type SourceDescriptor struct {
	Name     string     `json:"name"`
	Vendor   string     `json:"vendor"`
	URL      string     `json:"url"`
	AuthType string     `json:"auth_type"`
	Auth     *BasicAuth `json:"auth,omitempty"`
}

// Check validates the descriptor.
func (s SourceDescriptor) Check() error {
	if s.Name == "" {
		return errors.New("source name is empty")
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return errors.Wrapf(err, "source %s", s.Name)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Newf("source %s: unsupported scheme %q", s.Name, u.Scheme)
	}
	switch s.AuthType {
	case AuthNone, "":
	case AuthBasic:
		if s.Auth == nil || s.Auth.Username == "" || s.Auth.Password == "" {
			return errors.Newf("source %s: username and password cannot be empty for basic auth", s.Name)
		}
	default:
		return errors.Newf("source %s: unsupported auth_type %q", s.Name, s.AuthType)
	}
	return nil
}

// UsesBasicAuth reports whether requests to the source carry credentials.
func (s SourceDescriptor) UsesBasicAuth() bool {
	return s.AuthType == AuthBasic && s.Auth != nil
}

// SourceList is the content of the source configuration file.
type SourceList struct {
	ComposerRepos []SourceDescriptor `json:"composer_repos"`
}

// LoadSources reads the source configuration file. A missing file is an
// empty list.
func LoadSources(path string) (*SourceList, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from the configuration
	switch {
	case os.IsNotExist(err):
		return &SourceList{}, nil
	case err != nil:
		return nil, errors.Wrap(err, "LoadSources")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &SourceList{}, nil
	}

	var list SourceList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "LoadSources: "+path), ErrConfig)
	}
	return &list, nil
}

// SaveSources writes the source configuration file.
func SaveSources(path string, list *SourceList) error {
	if list.ComposerRepos == nil {
		list = &SourceList{ComposerRepos: []SourceDescriptor{}}
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return errors.Wrap(err, "SaveSources")
	}
	data = append(data, '\n')
	return errors.Wrap(writeFileAtomic(path, data, 0600), "SaveSources: "+path)
}

// Add validates s and appends it.
func (l *SourceList) Add(s SourceDescriptor) error {
	if err := s.Check(); err != nil {
		return err
	}
	for _, existing := range l.ComposerRepos {
		if existing.Name == s.Name {
			return errors.Newf("source %s already exists", s.Name)
		}
	}
	if s.AuthType == "" {
		s.AuthType = AuthNone
	}
	l.ComposerRepos = append(l.ComposerRepos, s)
	return nil
}

// NeedsVault reports whether any source carries credentials.
func (l *SourceList) NeedsVault() bool {
	for _, s := range l.ComposerRepos {
		if s.UsesBasicAuth() {
			return true
		}
	}
	return false
}

func (l *SourceList) encrypted() bool {
	for _, s := range l.ComposerRepos {
		if s.UsesBasicAuth() && (vault.IsEncrypted(s.Auth.Username) || vault.IsEncrypted(s.Auth.Password)) {
			return true
		}
	}
	return false
}

// transform returns a copy of l with fn applied to every credential.
func (l *SourceList) transform(fn func(string) (string, error)) (*SourceList, error) {
	out := &SourceList{ComposerRepos: make([]SourceDescriptor, len(l.ComposerRepos))}
	for i, s := range l.ComposerRepos {
		if s.UsesBasicAuth() {
			user, err := fn(s.Auth.Username)
			if err != nil {
				return nil, errors.Wrapf(err, "source %s username", s.Name)
			}
			pass, err := fn(s.Auth.Password)
			if err != nil {
				return nil, errors.Wrapf(err, "source %s password", s.Name)
			}
			s.Auth = &BasicAuth{Username: user, Password: pass}
		}
		out.ComposerRepos[i] = s
	}
	return out, nil
}

// Encrypt returns a copy of l whose credentials are encrypted.
func (l *SourceList) Encrypt(v *vault.Vault) (*SourceList, error) {
	return l.transform(v.Encrypt)
}

// Decrypt returns a copy of l whose credentials are in plain text.
func (l *SourceList) Decrypt(v *vault.Vault) (*SourceList, error) {
	return l.transform(v.Decrypt)
}

// CredentialsFor returns the credentials of the first basic-auth source
// of vendor, or nil.
func (l *SourceList) CredentialsFor(vendor string) *BasicAuth {
	for _, s := range l.ComposerRepos {
		if s.Vendor == vendor && s.UsesBasicAuth() {
			auth := *s.Auth
			return &auth
		}
	}
	return nil
}

// openSources loads the source list and decrypts its credentials with
// passphrase. Credentials that cannot be decrypted are a configuration
// failure.
func openSources(path, passphrase string) (*SourceList, error) {
	list, err := LoadSources(path)
	if err != nil {
		return nil, err
	}
	if !list.encrypted() {
		return list, nil
	}
	v, err := vault.New(passphrase)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "sources use basic auth"), ErrConfig)
	}
	plain, err := list.Decrypt(v)
	if err != nil {
		return nil, errors.Mark(err, ErrConfig)
	}
	return plain, nil
}
