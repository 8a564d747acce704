package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/ulikunitz/xz"
)

var sampleFiles = map[string]string{
	"widgets/":              "",
	"widgets/widgets.php":   "<?php // plugin",
	"widgets/readme.txt":    "=== Widgets ===",
	"widgets/assets/a.css":  "body{}",
	"widgets/.git/HEAD":     "ref: refs/heads/vendor",
	"widgets/composer.json": `{"name":"acme/widgets"}`,
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range sortedNames(files) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func buildTar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, name := range sortedNames(files) {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(files[name])), Typeflag: tar.TypeReg}
		if name[len(name)-1] == '/' {
			hdr = &tar.Header{Name: name, Mode: 0755, Typeflag: tar.TypeDir}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(files[name])); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func sortedNames(files map[string]string) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	// parents sort before children
	sort.Strings(names)
	return names
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func xzBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := xw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := xw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractFormats(t *testing.T) {
	t.Parallel()

	tarData := buildTar(t, sampleFiles)
	tests := []struct {
		name   string
		data   []byte
		format Format
	}{
		{"zip", buildZip(t, sampleFiles), FormatZip},
		{"tar", tarData, FormatTar},
		{"tar.gz", gzipBytes(t, tarData), FormatTarGzip},
		{"tar.xz", xzBytes(t, tarData), FormatTarXz},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Detect(tt.data); got != tt.format {
				t.Fatalf("Detect() = %v, want %v", got, tt.format)
			}

			dir := t.TempDir()
			src := filepath.Join(dir, "artifact")
			if err := os.WriteFile(src, tt.data, 0600); err != nil {
				t.Fatal(err)
			}
			dest := filepath.Join(dir, "unpack")
			if err := Extract(src, dest); err != nil {
				t.Fatal(err)
			}

			got, err := os.ReadFile(filepath.Join(dest, "widgets", "widgets.php"))
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != "<?php // plugin" {
				t.Errorf("widgets.php = %q", got)
			}
			if _, err := os.Stat(filepath.Join(dest, "widgets", "assets", "a.css")); err != nil {
				t.Errorf("nested file missing: %v", err)
			}
		})
	}
}

func TestExtractZipWithDataDescriptor(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("<?php echo 'widgets';\n", 4096)
	data := buildZip(t, map[string]string{
		"widgets/widgets.php":    big,
		"widgets/readme.txt":     "=== Widgets ===",
		"widgets/includes/a.php": "<?php",
	})

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range zr.File {
		if f.Flags&0x8 == 0 {
			t.Fatalf("%s was written without a data descriptor", f.Name)
		}
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "artifact")
	if err := os.WriteFile(src, data, 0600); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(dir, "unpack")
	if err := Extract(src, dest); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "widgets", "widgets.php"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != big {
		t.Errorf("widgets.php has %d bytes, want %d", len(got), len(big))
	}
	if _, err := os.Stat(filepath.Join(dest, "widgets", "includes", "a.php")); err != nil {
		t.Errorf("nested file missing: %v", err)
	}
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "evil.zip")
	if err := os.WriteFile(src, buildZip(t, map[string]string{"../escape.txt": "x"}), 0600); err != nil {
		t.Fatal(err)
	}
	if err := Extract(src, filepath.Join(dir, "unpack")); err == nil {
		t.Fatal("expected an error for a path escaping the destination")
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); !os.IsNotExist(err) {
		t.Error("entry was written outside the destination")
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "evil.tar")
	data := buildTar(t, map[string]string{"../escape.txt": "x"})
	if err := os.WriteFile(src, data, 0600); err != nil {
		t.Fatal(err)
	}
	if err := Extract(src, filepath.Join(dir, "unpack")); err == nil {
		t.Fatal("expected an error for a path escaping the destination")
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); !os.IsNotExist(err) {
		t.Error("entry was written outside the destination")
	}
}

func TestExtractUnknownFormat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "artifact")
	if err := os.WriteFile(src, []byte("<html>login required</html>"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := Extract(src, filepath.Join(dir, "unpack")); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}

func TestFindRoot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dirs    []string
		files   []string
		want    string
		wantErr bool
	}{
		{name: "expected slug", dirs: []string{"widgets", "other"}, want: "widgets"},
		{name: "sole directory", dirs: []string{"widgets-1.2.0"}, files: []string{"LICENSE"}, want: "widgets-1.2.0"},
		{name: "macos metadata ignored", dirs: []string{"__MACOSX", "widgets-pro"}, want: "widgets-pro"},
		{name: "no directories", files: []string{"widgets.php"}, wantErr: true},
		{name: "two candidates", dirs: []string{"a", "b"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dest := t.TempDir()
			for _, d := range tt.dirs {
				if err := os.Mkdir(filepath.Join(dest, d), 0755); err != nil {
					t.Fatal(err)
				}
			}
			for _, f := range tt.files {
				if err := os.WriteFile(filepath.Join(dest, f), nil, 0644); err != nil {
					t.Fatal(err)
				}
			}

			got, err := FindRoot(dest, "widgets")
			if tt.wantErr {
				if !errors.Is(err, ErrAmbiguousLayout) {
					t.Fatalf("FindRoot() error = %v, want ErrAmbiguousLayout", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != filepath.Join(dest, tt.want) {
				t.Errorf("FindRoot() = %q, want %q", got, filepath.Join(dest, tt.want))
			}
		})
	}
}
