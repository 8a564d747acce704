package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"

	"github.com/mirrorctl/pkgmirror/internal/mirror"
)

func TestAnalyzeUndecoded(t *testing.T) {
	t.Parallel()

	suggestions, unknown := analyzeUndecoded([]toml.Key{
		{"owner"},
		{"github", "token"},
		{"mystery"},
		{"log", "colour"},
	})
	wantSuggestions := []string{
		"Key 'owner' should be 'hosting.owner'",
		"Key 'github.token' should be 'hosting.token'",
	}
	if diff := cmp.Diff(wantSuggestions, suggestions); diff != "" {
		t.Errorf("suggestions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"mystery", "log.colour"}, unknown); diff != "" {
		t.Errorf("unknown mismatch (-want +got):\n%s", diff)
	}

	msg := formatUndecodedError([]toml.Key{{"token"}, {"mystery"}})
	for _, want := range []string{"hosting.token", "Additionally, found unknown keys: [mystery]"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message does not contain %q:\n%s", want, msg)
		}
	}
}

func TestFormatError(t *testing.T) {
	t.Parallel()

	err := errors.Wrap(errors.New("boom"), "capture widgets")
	if got := formatError(err, false); !strings.Contains(got, "capture widgets: boom") {
		t.Errorf("formatError() = %q", got)
	}
	if got := formatError(err, true); !strings.Contains(got, "main_test.go") {
		t.Errorf("verbose formatError() has no stack trace:\n%s", got)
	}
}

func TestValidators(t *testing.T) {
	t.Parallel()

	if notEmpty("") == nil || notEmpty("x") != nil {
		t.Error("notEmpty misclassified its input")
	}
	three := minLength(3)
	if three("ab") == nil || three("abc") != nil {
		t.Error("minLength(3) misclassified its input")
	}
}

func TestRenderPending(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	renderPending(&buf, nil)
	if !strings.Contains(buf.String(), "No pending updates.") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	renderPending(&buf, []mirror.Update{{
		Key:      "acme/widgets",
		Versions: []mirror.PendingVersion{{Label: "1.9"}, {Label: "1.10"}},
	}})
	out := strings.ToLower(buf.String())
	for _, want := range []string{"acme/widgets", "1.9 1.10", "pending"} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q:\n%s", want, out)
		}
	}
}

func TestRenderReport(t *testing.T) {
	t.Parallel()

	report := &mirror.Report{
		Plan: &mirror.Plan{},
		Packages: []mirror.PackageResult{
			{Package: "acme/widgets", Units: []mirror.UnitResult{
				{Package: "acme/widgets", Version: "1.0", Status: mirror.CaptureCommitted, Ref: "abc1234"},
				{Package: "acme/widgets", Version: "1.1", Err: errors.New("unpack failed")},
			}},
			{Package: "zeta/theme", Err: errors.New("create repository")},
		},
	}
	var buf bytes.Buffer
	renderReport(&buf, report)
	out := strings.ToLower(buf.String())
	for _, want := range []string{"abc1234", "failed: unpack failed", "aborted: create repository", "1 committed, 0 no-op, 2 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q:\n%s", want, out)
		}
	}
}
