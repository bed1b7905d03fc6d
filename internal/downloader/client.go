package downloader

import (
	"fmt"
	"net/http"
	"time"

	"github.com/italolelis/batch_downloader/internal/transfer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewHTTPClient builds the session shared by every transfer of a batch. The
// timeout bounds each request from dial to the last body byte; the redirect
// bound surfaces as transfer.ErrTooManyRedirects.
func NewHTTPClient(timeout time.Duration, maxRedirects int, base http.RoundTripper) *http.Client {
	if base == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.MaxIdleConnsPerHost = 100

		base = tr
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(base),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("stopped after %d redirects: %w", maxRedirects, transfer.ErrTooManyRedirects)
			}

			return nil
		},
	}
}
