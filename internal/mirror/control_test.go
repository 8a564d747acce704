package mirror

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/gofrs/flock"
	"github.com/google/go-cmp/cmp"
)

func TestReportExitCode(t *testing.T) {
	t.Parallel()

	pending := &Plan{Updates: []Update{{Key: "acme/widgets", Versions: []PendingVersion{{Label: "1.0"}, {Label: "1.1"}}}}}
	failed := errors.New("failed")

	tests := []struct {
		name   string
		report Report
		want   int
	}{
		{
			name:   "nothing pending",
			report: Report{Plan: &Plan{}},
			want:   ExitNoUpdates,
		},
		{
			name:   "no plan",
			report: Report{},
			want:   ExitNoUpdates,
		},
		{
			name: "committed",
			report: Report{Plan: pending, Packages: []PackageResult{{Units: []UnitResult{
				{Version: "1.0", Status: CaptureCommitted},
				{Version: "1.1", Err: failed},
			}}}},
			want: ExitCaptured,
		},
		{
			name: "only no-op",
			report: Report{Plan: pending, Packages: []PackageResult{{Units: []UnitResult{
				{Version: "1.0", Status: CaptureNoOp},
			}}}},
			want: ExitCaptured,
		},
		{
			name: "all failed",
			report: Report{Plan: pending, Packages: []PackageResult{{Units: []UnitResult{
				{Version: "1.0", Err: failed},
				{Version: "1.1", Err: failed},
			}}}},
			want: ExitAllFailed,
		},
		{
			name:   "package aborted",
			report: Report{Plan: pending, Packages: []PackageResult{{Err: failed}}},
			want:   ExitAllFailed,
		},
	}
	for _, tt := range tests {
		if got := tt.report.ExitCode(); got != tt.want {
			t.Errorf("%s: ExitCode() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestReportCounts(t *testing.T) {
	t.Parallel()

	r := Report{Packages: []PackageResult{
		{Units: []UnitResult{{Status: CaptureCommitted}, {Status: CaptureNoOp}, {Err: errors.New("x")}}},
		{Err: errors.New("aborted")},
	}}
	if r.Count(CaptureCommitted) != 1 || r.Count(CaptureNoOp) != 1 || r.Failed() != 2 || r.Recorded() != 2 {
		t.Errorf("counts = committed %d, noop %d, failed %d, recorded %d",
			r.Count(CaptureCommitted), r.Count(CaptureNoOp), r.Failed(), r.Recorded())
	}
}

func TestFilterUpdates(t *testing.T) {
	t.Parallel()

	updates := []Update{{Key: "acme/a"}, {Key: "acme/b"}, {Key: "zeta/c"}}
	if got := filterUpdates(updates, nil); len(got) != 3 {
		t.Errorf("no filter kept %d updates", len(got))
	}
	got := filterUpdates(updates, []string{"zeta/c", "acme/a", "nobody/x"})
	var keys []string
	for _, u := range got {
		keys = append(keys, u.Key)
	}
	if diff := cmp.Diff([]string{"acme/a", "zeta/c"}, keys); diff != "" {
		t.Errorf("filtered keys mismatch (-want +got):\n%s", diff)
	}
}

// newRunFixture serves an index listing acme/widgets 1.0 together with
// its artifact and returns a configuration mirroring it.
func newRunFixture(t *testing.T) *Config {
	t.Helper()

	artifact := buildZip(t, map[string]string{"widgets/widgets.php": "<?php // 1.0"})
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/packages.json":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"packages":{"acme/widgets":{"1.0":{"name":"acme/widgets","version":"1.0","type":"wordpress-plugin","dist":{"type":"zip","url":"%s/widgets-1.0.zip","shasum":"%s"}}}}}`,
				server.URL, sha1Hex(artifact))
		case "/widgets-1.0.zip":
			_, _ = w.Write(artifact)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	config := NewConfig()
	config.DataDir = t.TempDir()
	config.Hosting.Owner = "acme-mirror"
	config.Hosting.Token = "token"

	list := &SourceList{ComposerRepos: []SourceDescriptor{{
		Name:     "upstream",
		Vendor:   "acme",
		URL:      server.URL + "/packages.json",
		AuthType: AuthNone,
	}}}
	if err := SaveSources(config.SourcesPath(), list); err != nil {
		t.Fatal(err)
	}
	if err := NewLedgerStore(config.LedgerPath()).Save(NewLedger(Record{Slug: "widgets", Vendor: "acme", Type: TypePlugin})); err != nil {
		t.Fatal(err)
	}
	return config
}

func TestRunDryRun(t *testing.T) {
	t.Parallel()

	config := newRunFixture(t)
	config.Hosting.Token = ""

	report, err := Run(context.Background(), config, Options{DryRun: true, Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Plan.PendingCount() != 1 || len(report.Packages) != 0 {
		t.Errorf("pending %d, processed %d; want 1 pending and nothing processed",
			report.Plan.PendingCount(), len(report.Packages))
	}
	if len(report.Plan.Sources) != 1 || report.Plan.Sources[0].Outcome != OutcomeSuccess {
		t.Errorf("sources = %+v", report.Plan.Sources)
	}

	ledger, err := NewLedgerStore(config.LedgerPath()).Load()
	if err != nil {
		t.Fatal(err)
	}
	rec, _ := ledger.Get("acme/widgets")
	if len(rec.Tags) != 0 {
		t.Errorf("dry run changed the ledger: %+v", rec)
	}
}

func TestRunRequiresIdentity(t *testing.T) {
	t.Parallel()

	config := newRunFixture(t)
	config.Hosting.Token = ""

	if _, err := Run(context.Background(), config, Options{Quiet: true}); !errors.Is(err, ErrConfig) {
		t.Errorf("err = %v, want ErrConfig", err)
	}
}

func TestRunLocked(t *testing.T) {
	t.Parallel()

	config := newRunFixture(t)
	held := flock.New(filepath.Join(config.DataDir, lockFilename))
	locked, err := held.TryLock()
	if err != nil || !locked {
		t.Fatalf("TryLock() = %v, %v", locked, err)
	}
	defer func() {
		_ = held.Unlock()
	}()

	if _, err := Run(context.Background(), config, Options{DryRun: true}); !errors.Is(err, ErrLocked) {
		t.Errorf("err = %v, want ErrLocked", err)
	}
}

func TestRun(t *testing.T) {
	t.Parallel()
	requireGit(t)

	config := newRunFixture(t)
	provider := newFakeProvider(t)

	report, err := Run(context.Background(), config, Options{Quiet: true, Provider: provider})
	if err != nil {
		t.Fatal(err)
	}
	if report.Count(CaptureCommitted) != 1 || report.Failed() != 0 {
		t.Fatalf("committed %d, failed %d: %+v", report.Count(CaptureCommitted), report.Failed(), report.Packages)
	}
	if report.ExitCode() != ExitCaptured {
		t.Errorf("ExitCode() = %d, want %d", report.ExitCode(), ExitCaptured)
	}
	if diff := cmp.Diff([]string{"1.0"}, provider.tags("widgets")); diff != "" {
		t.Errorf("remote tags mismatch (-want +got):\n%s", diff)
	}

	report, err = Run(context.Background(), config, Options{Quiet: true, Provider: provider})
	if err != nil {
		t.Fatal(err)
	}
	if report.ExitCode() != ExitNoUpdates {
		t.Errorf("second run ExitCode() = %d, want %d", report.ExitCode(), ExitNoUpdates)
	}
}
