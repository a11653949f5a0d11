package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"detection-quant-bench/internal/core/domain"
	ports "detection-quant-bench/internal/core/ports/output"
)

type httpRegistry struct {
	httpClient *http.Client
	baseURL    string
	prefix     string
}

// NewHTTPRegistry serves keys from GET <baseURL>/<prefix><key>.
func NewHTTPRegistry(baseURL, prefix string, timeout time.Duration) ports.ModelRegistry {
	return &httpRegistry{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		prefix:  prefix,
	}
}

func (r *httpRegistry) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/%s%s", r.baseURL, r.prefix, strings.TrimLeft(key, "/"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create registry request: %w", err)
	}

	log.WithFields(log.Fields{
		"method": http.MethodGet,
		"url":    url,
	}).Debug("fetching from registry")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", domain.ErrBlobNotFound, key)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("registry returned %s for %s", resp.Status, key)
	}
	return resp.Body, nil
}
