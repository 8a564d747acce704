package mirror

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/mirrorctl/pkgmirror/internal/checksum"
)

// Downloader fetches distribution artifacts into the workspace.
//
// Transport errors and 5xx responses are retried; any other non-2xx
// response fails at once.
type Downloader struct {
	client  *retryablehttp.Client
	timeout time.Duration
	quiet   bool
}

// NewDownloader creates a Downloader. Each download is bounded by timeout
// when it is positive; quiet disables the progress bar.
func NewDownloader(maxRetries int, timeout time.Duration, quiet bool) *Downloader {
	client := retryablehttp.NewClient()
	client.HTTPClient = clonedTransport()
	client.Logger = slog.Default()
	client.RetryMax = maxRetries
	client.RetryWaitMin = time.Second
	client.RetryWaitMax = 30 * time.Second

	return &Downloader{
		client:  client,
		timeout: timeout,
		quiet:   quiet,
	}
}

// Download writes the artifact at rawURL to dest and returns its size and
// digests. Failures are marked with ErrFetch.
func (d *Downloader) Download(ctx context.Context, rawURL string, auth *BasicAuth, dest string) (*checksum.Sum, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "build request"), ErrFetch)
	}
	if auth != nil {
		req.SetBasicAuth(auth.Username, auth.Password)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "download"), ErrFetch)
	}
	defer closeRespBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Mark(errors.Newf("download: status %d", resp.StatusCode), ErrFetch)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600) // #nosec G304 - dest is inside the workspace
	if err != nil {
		return nil, err
	}

	var body io.Reader = resp.Body
	var bar *pb.ProgressBar
	if !d.quiet {
		bar = pb.Full.New(0).
			SetTotal(resp.ContentLength).
			Set(pb.Bytes, true).
			SetWriter(os.Stderr).
			Start()
		body = bar.NewProxyReader(resp.Body)
	}

	sum, err := checksum.Copy(f, body)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		closeAndRemoveFile(f)
		return nil, errors.Mark(errors.Wrap(err, "download body"), ErrFetch)
	}
	if err := f.Sync(); err != nil {
		closeAndRemoveFile(f)
		return nil, errors.Wrap(err, "sync artifact")
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	slog.Debug("artifact downloaded", "bytes", sum.Size, "sha256", sum.SHA256Hex())
	return sum, nil
}

// closeRespBody closes HTTP response body.
func closeRespBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", "error", err)
	}
}

// closeAndRemoveFile closes and removes a temporary file.
func closeAndRemoveFile(f *os.File) {
	filename := f.Name()
	if err := f.Close(); err != nil {
		slog.Warn("failed to close temp file", "file", filename, "error", err)
	}
	if err := os.Remove(filename); err != nil {
		slog.Warn("failed to remove temp file", "file", filename, "error", err)
	}
}

// clonedTransport creates a new HTTP client with its own transport.
func clonedTransport() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxIdleConnsPerHost = 10
	tr.IdleConnTimeout = 90 * time.Second

	return &http.Client{
		Transport: tr,
		Timeout:   0, // no timeout; timeout is controlled by context
	}
}
