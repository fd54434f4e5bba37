// Package urlsource fetches a remote CIDR/IP list (the -ipurl flag) over
// HTTPS, retrying transient failures before falling back to whatever the
// caller already has (e.g. a single -ip value).
package urlsource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const maxRetries = 3

// Fetch retrieves url's body as text, retrying up to maxRetries times, one
// second apart, on network errors and 5xx responses. 4xx responses
// are not retried — they indicate the URL itself is wrong.
func Fetch(ctx context.Context, url string) (string, error) {
	var body string

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("urlsource: invalid URL %q: %w", url, err))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("urlsource: fetch %q: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("urlsource: %q returned %s", url, resp.Status))
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("urlsource: %q returned %s", url, resp.Status)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return fmt.Errorf("urlsource: read body: %w", err)
		}
		body = string(data)
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), maxRetries)
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return "", err
	}
	return body, nil
}
