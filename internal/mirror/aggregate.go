package mirror

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/pkgmirror/internal/composer"
)

// maxIndexSize bounds the size of one source listing.
const maxIndexSize = 64 << 20

// Outcome classifies the response of a source.
type Outcome int

// Source outcomes.
const (
	OutcomeSuccess Outcome = iota
	OutcomeBadRequest
	OutcomeUnauthorized
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeBadRequest:
		return "bad_request"
	case OutcomeUnauthorized:
		return "unauthorized"
	}
	return "unknown"
}

// Classify maps an HTTP status to an Outcome. Transport failures are
// reported with status 0 and classify as OutcomeUnknown.
func Classify(status int) Outcome {
	switch status {
	case http.StatusOK, http.StatusCreated:
		return OutcomeSuccess
	case http.StatusBadRequest:
		return OutcomeBadRequest
	case http.StatusUnauthorized:
		return OutcomeUnauthorized
	}
	return OutcomeUnknown
}

// FetchResult is the result of querying one source. Index is set only
// for OutcomeSuccess.
type FetchResult struct {
	Source  string
	Outcome Outcome
	Status  int
	Index   *composer.Index
	Err     error
}

// Aggregator queries sources and merges their listings.
type Aggregator struct {
	client  *http.Client
	timeout time.Duration
}

// NewAggregator returns an Aggregator. Each request is bounded by timeout
// when it is positive.
func NewAggregator(client *http.Client, timeout time.Duration) *Aggregator {
	if client == nil {
		client = clonedTransport()
	}
	return &Aggregator{client: client, timeout: timeout}
}

// Fetch issues one request to src and classifies the response. It never
// retries.
func (a *Aggregator) Fetch(ctx context.Context, src SourceDescriptor) FetchResult {
	res := FetchResult{Source: src.Name, Outcome: OutcomeUnknown}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		res.Err = errors.Wrapf(err, "source %s", src.Name)
		return res
	}
	req.Header.Set("Accept", "application/json")
	if src.UsesBasicAuth() {
		req.SetBasicAuth(src.Auth.Username, src.Auth.Password)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		res.Err = errors.Wrapf(err, "source %s", src.Name)
		return res
	}
	defer closeRespBody(resp)

	res.Status = resp.StatusCode
	res.Outcome = Classify(resp.StatusCode)
	if res.Outcome != OutcomeSuccess {
		res.Err = errors.Newf("source %s: status %d", src.Name, resp.StatusCode)
		return res
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxIndexSize))
	if err != nil {
		res.Outcome = OutcomeUnknown
		res.Err = errors.Wrapf(err, "source %s: read body", src.Name)
		return res
	}
	idx, err := composer.ParseIndex(data)
	if err != nil {
		res.Outcome = OutcomeUnknown
		res.Err = errors.Wrapf(err, "source %s", src.Name)
		return res
	}
	res.Index = idx
	return res
}

// Aggregate queries sources one at a time in order and merges the
// successful listings. Failing sources are logged and skipped; when two
// sources publish the same package and version label, the later source
// wins.
func (a *Aggregator) Aggregate(ctx context.Context, sources []SourceDescriptor) (*composer.Index, []FetchResult) {
	unified := composer.NewIndex()
	results := make([]FetchResult, 0, len(sources))

	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}
		slog.Info("fetching source", "source", src.Name, "vendor", src.Vendor, "auth", src.AuthType)
		res := a.Fetch(ctx, src)
		results = append(results, res)

		if res.Outcome != OutcomeSuccess {
			slog.Warn("skipping source", "source", src.Name, "outcome", res.Outcome.String(),
				"status", res.Status, "error", res.Err)
			continue
		}
		slog.Info("source fetched", "source", src.Name, "packages", res.Index.Len())
		unified.Merge(res.Index)
	}
	return unified, results
}
