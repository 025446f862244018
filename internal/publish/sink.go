package publish

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/defi-org-code/ton-validator-reporter/internal/metrics"
)

// Sink posts the metrics document to a remote collector. It is best effort:
// callers log the error and move on.
type Sink struct {
	url    string
	gzip   bool
	client *http.Client
}

// NewSink returns nil when url is empty.
func NewSink(url string, timeout time.Duration, compress bool) *Sink {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sink{url: url, gzip: compress, client: &http.Client{Timeout: timeout}}
}

// Send posts m once. A nil Sink is a no-op.
func (s *Sink) Send(ctx context.Context, m *metrics.Snapshot) error {
	if s == nil {
		return nil
	}
	body, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "encode metrics")
	}

	var reader io.Reader = bytes.NewReader(body)
	if s.gzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return errors.Wrap(err, "gzip metrics")
		}
		if err := zw.Close(); err != nil {
			return errors.Wrap(err, "gzip metrics")
		}
		reader = &buf
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, reader)
	if err != nil {
		return errors.Wrap(err, "build sink request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post metrics")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("metrics sink returned %s", resp.Status)
	}
	return nil
}
