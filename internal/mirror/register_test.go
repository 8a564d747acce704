package mirror

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mirrorctl/pkgmirror/internal/composer"
)

func TestMissingPackages(t *testing.T) {
	t.Parallel()

	idx := testIndex(map[string][]string{
		"acme/widgets":       {"1.0"},
		"old-vendor/gadgets": {"1.0"},
		"acme/new-thing":     {"1.0"},
		"zeta/other":         {"1.0"},
	}, "zeta/other", "acme/widgets", "old-vendor/gadgets", "acme/new-thing")
	ledger := NewLedger(
		Record{Slug: "widgets", Vendor: "acme", Type: TypePlugin},
		Record{Slug: "gadgets", Vendor: "acme", Aliases: []string{"old-vendor/gadgets"}, Type: TypePlugin},
	)

	if diff := cmp.Diff([]string{"zeta/other", "acme/new-thing"}, MissingPackages(idx, ledger)); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}
}

func TestNewRecordFromIndex(t *testing.T) {
	t.Parallel()

	idx := composer.NewIndex()
	idx.Set("acme/theme", "2.0", composer.Version{Name: "acme/theme", Version: "2.0", Type: TypeTheme})
	idx.Set("acme/untyped", "1.0", composer.Version{Name: "acme/untyped", Version: "1.0"})
	idx.Set("noslash", "1.0", composer.Version{Name: "noslash", Version: "1.0", Type: TypePlugin})

	rec, err := NewRecordFromIndex(idx, "acme/theme")
	if err != nil {
		t.Fatal(err)
	}
	want := Record{
		Slug:    "theme",
		Vendor:  "acme",
		Tags:    []string{},
		Aliases: []string{"acme/theme"},
		Type:    TypeTheme,
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	if _, err := NewRecordFromIndex(idx, "acme/untyped"); err == nil {
		t.Error("a package without a declared type should be rejected")
	}
	if _, err := NewRecordFromIndex(idx, "noslash"); err == nil {
		t.Error("a key without a vendor should be rejected")
	}
}

func TestNewRecordAddsCanonicalAlias(t *testing.T) {
	t.Parallel()

	rec, err := NewRecord("oldacme/widgets", "acme", "widgets", TypePlugin)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"oldacme/widgets", "acme/widgets"}, rec.Aliases); diff != "" {
		t.Errorf("aliases mismatch (-want +got):\n%s", diff)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	store := NewLedgerStore(filepath.Join(t.TempDir(), "packages.json"))
	if err := store.Save(NewLedger(widgets())); err != nil {
		t.Fatal(err)
	}

	fresh, _ := NewRecord("acme/widgets", "acme", "widgets", TypePlugin)
	gadgets, _ := NewRecord("acme/gadgets", "acme", "gadgets", TypeTheme)
	l, err := Register(store, fresh, gadgets)
	if err != nil {
		t.Fatal(err)
	}
	if l.Len() != 2 {
		t.Errorf("Len() = %d, want 2", l.Len())
	}
	rec, _ := l.Get("acme/widgets")
	if diff := cmp.Diff(widgets(), rec); diff != "" {
		t.Errorf("registering an existing package replaced it (-want +got):\n%s", diff)
	}
}

func TestFilterKeys(t *testing.T) {
	t.Parallel()

	ledger := NewLedger(
		Record{Slug: "widgets", Vendor: "acme", Type: TypePlugin},
		Record{Slug: "gadgets", Vendor: "acme", Type: TypePlugin},
		Record{Slug: "thing", Vendor: "zeta", Type: TypeTheme},
	)

	tests := []struct {
		prefix string
		want   []string
	}{
		{prefix: "", want: []string{"acme/gadgets", "acme/widgets", "zeta/thing"}},
		{prefix: "/", want: []string{"acme/gadgets", "acme/widgets", "zeta/thing"}},
		{prefix: "acme/", want: []string{"acme/gadgets", "acme/widgets"}},
		{prefix: "nobody/", want: []string{}},
	}
	for _, tt := range tests {
		got := FilterKeys(ledger, tt.prefix)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("FilterKeys(%q) mismatch (-want +got):\n%s", tt.prefix, diff)
		}
	}
}
