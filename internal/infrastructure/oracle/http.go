package oracle

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"bundlerelay/internal/domain"
)

const maxBodyBytes = 1 << 20

func newHTTPClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// getJSON performs one GET and decodes the body. Every failure is reported as
// ErrOracleUnavailable with the cause attached.
func getJSON(ctx context.Context, client *http.Client, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrapf(domain.ErrOracleUnavailable, "build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(domain.ErrOracleUnavailable, "request %s: %v", redact(endpoint), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return errors.Wrapf(domain.ErrOracleUnavailable, "request %s: http status %d", redact(endpoint), resp.StatusCode)
	}

	decoder := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes))
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return errors.Wrapf(domain.ErrOracleUnavailable, "decode %s: %v", redact(endpoint), err)
	}
	return nil
}

func redact(endpoint string) string {
	if idx := strings.IndexByte(endpoint, '?'); idx >= 0 {
		return endpoint[:idx]
	}
	return endpoint
}
