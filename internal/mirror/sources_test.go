package mirror

import (
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"

	"github.com/mirrorctl/pkgmirror/internal/vault"
)

func basicSource(name, vendor string) SourceDescriptor {
	return SourceDescriptor{
		Name:     name,
		Vendor:   vendor,
		URL:      "https://packages." + vendor + ".test/packages.json",
		AuthType: AuthBasic,
		Auth:     &BasicAuth{Username: name + "-user", Password: name + "-pass"},
	}
}

func TestSourceDescriptorCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		src     SourceDescriptor
		wantErr bool
	}{
		{name: "anonymous", src: SourceDescriptor{Name: "a", Vendor: "a", URL: "https://a.test/p.json", AuthType: AuthNone}},
		{name: "auth type defaults to none", src: SourceDescriptor{Name: "a", URL: "http://a.test/p.json"}},
		{name: "basic", src: basicSource("a", "acme")},
		{name: "no name", src: SourceDescriptor{URL: "https://a.test"}, wantErr: true},
		{name: "bad scheme", src: SourceDescriptor{Name: "a", URL: "ftp://a.test"}, wantErr: true},
		{name: "basic without password", src: SourceDescriptor{
			Name: "a", URL: "https://a.test", AuthType: AuthBasic, Auth: &BasicAuth{Username: "u"},
		}, wantErr: true},
		{name: "basic without credentials", src: SourceDescriptor{
			Name: "a", URL: "https://a.test", AuthType: AuthBasic,
		}, wantErr: true},
		{name: "unknown auth", src: SourceDescriptor{Name: "a", URL: "https://a.test", AuthType: "token"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.src.Check(); (err != nil) != tt.wantErr {
				t.Errorf("Check() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSourceListAdd(t *testing.T) {
	t.Parallel()

	var list SourceList
	if err := list.Add(SourceDescriptor{Name: "free", Vendor: "free", URL: "https://free.test/p.json"}); err != nil {
		t.Fatal(err)
	}
	if list.ComposerRepos[0].AuthType != AuthNone {
		t.Errorf(`AuthType = %q, want %q`, list.ComposerRepos[0].AuthType, AuthNone)
	}
	if list.NeedsVault() {
		t.Error("NeedsVault() = true for an anonymous source")
	}
	if err := list.Add(SourceDescriptor{Name: "free", URL: "https://other.test/p.json"}); err == nil {
		t.Error("duplicate name should be rejected")
	}
	if err := list.Add(basicSource("paid", "acme")); err != nil {
		t.Fatal(err)
	}
	if !list.NeedsVault() {
		t.Error("NeedsVault() = false for a basic auth source")
	}
}

func TestSourcesEncryptedAtRest(t *testing.T) {
	t.Parallel()

	v, err := vault.New("passphrase")
	if err != nil {
		t.Fatal(err)
	}
	plain := &SourceList{ComposerRepos: []SourceDescriptor{
		basicSource("paid", "acme"),
		{Name: "free", Vendor: "free", URL: "https://free.test/p.json", AuthType: AuthNone},
	}}

	encrypted, err := plain.Encrypt(v)
	if err != nil {
		t.Fatal(err)
	}
	if !vault.IsEncrypted(encrypted.ComposerRepos[0].Auth.Password) {
		t.Error("password was not encrypted")
	}
	if plain.ComposerRepos[0].Auth.Password != "paid-pass" {
		t.Error("Encrypt modified the receiver")
	}

	path := filepath.Join(t.TempDir(), "sources.json")
	if err := SaveSources(path, encrypted); err != nil {
		t.Fatal(err)
	}

	if _, err := openSources(path, ""); !errors.Is(err, ErrConfig) {
		t.Errorf("openSources without passphrase = %v, want ErrConfig", err)
	}
	if _, err := openSources(path, "wrong"); !errors.Is(err, ErrConfig) {
		t.Errorf("openSources with wrong passphrase = %v, want ErrConfig", err)
	}

	opened, err := openSources(path, "passphrase")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(plain, opened); diff != "" {
		t.Errorf("decrypted sources mismatch (-want +got):\n%s", diff)
	}
	if auth := opened.CredentialsFor("acme"); auth == nil || auth.Username != "paid-user" {
		t.Errorf(`CredentialsFor("acme") = %#v`, auth)
	}
	if auth := opened.CredentialsFor("free"); auth != nil {
		t.Errorf(`CredentialsFor("free") = %#v, want nil`, auth)
	}
}

func TestOpenSourcesPlainText(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sources.json")
	plain := &SourceList{ComposerRepos: []SourceDescriptor{basicSource("paid", "acme")}}
	if err := SaveSources(path, plain); err != nil {
		t.Fatal(err)
	}

	opened, err := openSources(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(plain, opened); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}

	missing, err := openSources(filepath.Join(t.TempDir(), "none.json"), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(missing.ComposerRepos) != 0 {
		t.Errorf("missing file loaded %d sources", len(missing.ComposerRepos))
	}
}
