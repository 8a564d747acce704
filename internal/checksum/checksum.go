// Package checksum computes and verifies digests of downloaded artifacts.
package checksum

import (
	"bytes"
	"crypto/sha1" // #nosec G505 - SHA1 is what composer indexes publish as dist shasum
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrMismatch is returned when an artifact does not match its published
// digest.
var ErrMismatch = errors.New("checksum mismatch")

// Sum holds the size and digests of one artifact.
type Sum struct {
	Size   int64
	SHA1   []byte
	SHA256 []byte
}

// SHA1Hex returns the hex encoded SHA1 digest.
func (s *Sum) SHA1Hex() string {
	return hex.EncodeToString(s.SHA1)
}

// SHA256Hex returns the hex encoded SHA256 digest.
func (s *Sum) SHA256Hex() string {
	return hex.EncodeToString(s.SHA256)
}

// Verify compares s with a published digest. The digest is matched by
// length: 40 hex digits are SHA1, 64 are SHA256. An empty digest always
// verifies.
func (s *Sum) Verify(published string) error {
	published = strings.ToLower(strings.TrimSpace(published))
	if published == "" {
		return nil
	}
	want, err := hex.DecodeString(published)
	if err != nil {
		return errors.Wrapf(err, "published digest %q", published)
	}

	var got []byte
	switch len(want) {
	case sha1.Size:
		got = s.SHA1
	case sha256.Size:
		got = s.SHA256
	default:
		return errors.Newf("published digest %q has unsupported length", published)
	}
	if !bytes.Equal(got, want) {
		return errors.Mark(errors.Newf("want %s, got %s", published, hex.EncodeToString(got)), ErrMismatch)
	}
	return nil
}

// Copy copies from src to dst until either EOF is reached on src or an
// error occurs, and returns the Sum calculated while copying.
func Copy(dst io.Writer, src io.Reader) (*Sum, error) {
	sha1hash := sha1.New() // #nosec G401 - see import
	sha256hash := sha256.New()

	w := io.MultiWriter(sha1hash, sha256hash, dst)
	n, err := io.Copy(w, src)
	if err != nil {
		return nil, err
	}

	return &Sum{
		Size:   n,
		SHA1:   sha1hash.Sum(nil),
		SHA256: sha256hash.Sum(nil),
	}, nil
}
