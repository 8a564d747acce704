// Package archive unpacks distribution artifacts into a workspace.
package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/ulikunitz/xz"
)

// Format is the container format of an artifact.
type Format int

// Supported formats.
const (
	FormatUnknown Format = iota
	FormatZip
	FormatTar
	FormatTarGzip
	FormatTarXz
)

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTar:
		return "tar"
	case FormatTarGzip:
		return "tar.gz"
	case FormatTarXz:
		return "tar.xz"
	}
	return "unknown"
}

var (
	zipMagic  = []byte("PK\x03\x04")
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	tarMagic  = []byte("ustar")
)

const sniffLen = 512

// Detect identifies the format of an artifact from its leading bytes.
func Detect(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, zipMagic):
		return FormatZip
	case bytes.HasPrefix(head, gzipMagic):
		return FormatTarGzip
	case bytes.HasPrefix(head, xzMagic):
		return FormatTarXz
	case len(head) >= 262 && bytes.Equal(head[257:262], tarMagic):
		return FormatTar
	}
	return FormatUnknown
}

// Extract unpacks the artifact at src into dest, which is created if
// needed. The format is detected from the content, not the file name.
func Extract(src, dest string) error {
	f, err := os.Open(src) // #nosec G304 - src is a workspace file written by the downloader
	if err != nil {
		return errors.Wrap(err, "archive: open")
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close artifact", "path", src, "error", err)
		}
	}()

	br := bufio.NewReaderSize(f, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "archive: read header")
	}

	if err := os.MkdirAll(dest, 0750); err != nil {
		return errors.Wrap(err, "archive: create destination")
	}

	format := Detect(head)
	slog.Debug("extracting artifact", "path", src, "format", format.String())

	switch format {
	case FormatZip:
		st, err := f.Stat()
		if err != nil {
			return errors.Wrap(err, "archive: stat")
		}
		return extractZip(f, st.Size(), dest)
	case FormatTar:
		return extractTar(br, dest)
	case FormatTarGzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return errors.Wrap(err, "archive: gzip")
		}
		defer gz.Close()
		return extractTar(gz, dest)
	case FormatTarXz:
		xr, err := xz.NewReader(br)
		if err != nil {
			return errors.Wrap(err, "archive: xz")
		}
		return extractTar(xr, dest)
	}
	return errors.Newf("archive: unsupported artifact format in %s", filepath.Base(src))
}

// safeTarget resolves name inside dest and rejects entries that would
// escape it.
func safeTarget(dest, name string) (string, error) {
	name = strings.TrimLeft(filepath.FromSlash(name), string(filepath.Separator))
	target := filepath.Join(dest, name)
	root := filepath.Clean(dest)
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", errors.Newf("archive: entry %q escapes the destination", name)
	}
	return target, nil
}

func fileMode(mode os.FileMode) os.FileMode {
	if mode&0o111 != 0 {
		return 0755
	}
	return 0644
}

func writeFile(target string, mode os.FileMode, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode(mode)) // #nosec G304 - target checked by safeTarget
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil { // #nosec G110 - artifacts come from configured sources
		_ = out.Close()
		return err
	}
	return out.Close()
}

// extractZip reads the central directory, so entries written with a
// trailing data descriptor are sized correctly.
func extractZip(r io.ReaderAt, size int64, dest string) error {
	zr, err := zip.NewReader(r, size)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return errors.Wrap(err, "archive: read zip")
	}
	for _, entry := range zr.File {
		target, err := safeTarget(dest, entry.Name)
		if err != nil {
			return err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0750); err != nil {
				return errors.Wrap(err, "archive: create directory")
			}
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return errors.Wrapf(err, "archive: open zip entry %s", entry.Name)
		}
		err = writeFile(target, entry.Mode(), rc)
		_ = rc.Close()
		if err != nil {
			return errors.Wrapf(err, "archive: write %s", entry.Name)
		}
	}
	return nil
}

func extractTar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "archive: read tar entry")
		}

		target, err := safeTarget(dest, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0750); err != nil {
				return errors.Wrap(err, "archive: create directory")
			}
		case tar.TypeReg:
			if err := writeFile(target, header.FileInfo().Mode(), tr); err != nil {
				return errors.Wrapf(err, "archive: write %s", header.Name)
			}
		default:
			slog.Debug("skipping tar entry", "name", header.Name, "type", header.Typeflag)
		}
	}
}
