package mirror

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
)

func TestConfig(t *testing.T) {
	t.Parallel()

	c := NewConfig()
	configPath := filepath.Join("..", "..", "examples", "pkgmirror.toml")
	md, err := toml.DecodeFile(configPath, c)
	if err != nil {
		t.Fatal(err)
	}

	if len(md.Undecoded()) > 0 {
		t.Errorf("undecoded keys: %#v", md.Undecoded())
	}

	if c.DataDir != "/var/lib/pkgmirror" {
		t.Errorf(`c.DataDir = %q, want "/var/lib/pkgmirror"`, c.DataDir)
	}
	if c.StepTimeout.Duration != 10*time.Minute {
		t.Errorf(`c.StepTimeout = %v, want 10m`, c.StepTimeout.Duration)
	}
	if c.HTTP.Timeout.Duration != 5*time.Minute {
		t.Errorf(`c.HTTP.Timeout = %v, want 5m`, c.HTTP.Timeout.Duration)
	}
	if c.Hosting.Owner != "acme-mirror" {
		t.Errorf(`c.Hosting.Owner = %q, want "acme-mirror"`, c.Hosting.Owner)
	}
	if diff := cmp.Diff([]string{".gitignore", ".github"}, c.StripPaths); diff != "" {
		t.Errorf("strip_paths mismatch (-want +got):\n%s", diff)
	}

	if err := c.Check(); err != nil {
		t.Error(err)
	}
	if c.LedgerPath() != "/var/lib/pkgmirror/packages.json" {
		t.Errorf(`c.LedgerPath() = %q`, c.LedgerPath())
	}
	if c.SourcesPath() != "/var/lib/pkgmirror/sources.json" {
		t.Errorf(`c.SourcesPath() = %q`, c.SourcesPath())
	}
	if c.WorkPath() != "/var/lib/pkgmirror/temp" {
		t.Errorf(`c.WorkPath() = %q`, c.WorkPath())
	}
}

func TestConfigCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{name: "missing data_dir", modify: func(c *Config) { c.DataDir = "" }},
		{name: "relative data_dir", modify: func(c *Config) { c.DataDir = "data" }},
		{name: "relative work_dir", modify: func(c *Config) { c.WorkDir = "tmp" }},
		{name: "empty ledger_file", modify: func(c *Config) { c.LedgerFile = "" }},
		{name: "negative step_timeout", modify: func(c *Config) { c.StepTimeout.Duration = -time.Second }},
		{name: "escaping strip path", modify: func(c *Config) { c.StripPaths = []string{"../etc"} }},
		{name: "absolute strip path", modify: func(c *Config) { c.StripPaths = []string{"/etc"} }},
		{name: "unknown provider", modify: func(c *Config) { c.Hosting.Provider = "gitlab" }},
		{name: "empty branch", modify: func(c *Config) { c.Git.Branch = "" }},
		{name: "negative retries", modify: func(c *Config) { c.HTTP.MaxRetries = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewConfig()
			c.DataDir = "/var/lib/pkgmirror"
			tt.modify(c)
			err := c.Check()
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errors.Is(err, ErrConfig) {
				t.Errorf("error %v is not marked ErrConfig", err)
			}
		})
	}
}

func TestConfigCheckIdentity(t *testing.T) {
	t.Parallel()

	c := NewConfig()
	c.DataDir = "/var/lib/pkgmirror"
	if err := c.CheckIdentity(); !errors.Is(err, ErrConfig) {
		t.Errorf("CheckIdentity() = %v, want ErrConfig for missing owner", err)
	}

	c.Hosting.Owner = "acme-mirror"
	if err := c.CheckIdentity(); !errors.Is(err, ErrConfig) {
		t.Errorf("CheckIdentity() = %v, want ErrConfig for missing token", err)
	}

	c.Hosting.Token = "token"
	if err := c.CheckIdentity(); err != nil {
		t.Errorf("CheckIdentity() = %v", err)
	}
}

func TestLogConfigApply(t *testing.T) {
	tests := []struct {
		level   string
		format  string
		wantErr bool
	}{
		{level: "debug", format: "json"},
		{level: "", format: ""},
		{level: "warning", format: "plain"},
		{level: "verbose", format: "text", wantErr: true},
		{level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		lc := LogConfig{Level: tt.level, Format: tt.format}
		err := lc.Apply()
		if (err != nil) != tt.wantErr {
			t.Errorf("Apply(%q, %q) = %v, wantErr %v", tt.level, tt.format, err, tt.wantErr)
		}
	}
}
