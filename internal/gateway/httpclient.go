package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/orang2bejo/Nakes-Link-sub000/internal/domain"
)

// collaborator is a thin JSON client for a provider endpoint with a
// bounded per-call latency. Calls past the timeout fail with
// GatewayTimeout; every other transport fault maps to NetworkError.
type collaborator struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

func newCollaborator(baseURL, apiKey string, timeout time.Duration, log zerolog.Logger) *collaborator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &collaborator{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

func (c *collaborator) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Basic "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("provider call failed")
		return translateTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("provider rejected request")
		if resp.StatusCode == http.StatusServiceUnavailable {
			return domain.ErrGatewayUnavailable
		}
		return fmt.Errorf("%w: provider status %d", domain.ErrNetwork, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: malformed provider response", domain.ErrNetwork)
		}
	}
	return nil
}

func (c *collaborator) postJSON(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *collaborator) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// healthy issues a cheap probe against the provider's health path.
func (c *collaborator) healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}
