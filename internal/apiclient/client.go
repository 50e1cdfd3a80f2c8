// Package apiclient talks to a running snomed-consensus server.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/joelkehle/snomed-consensus/internal/consensus"
	"github.com/joelkehle/snomed-consensus/internal/terminology"
	"github.com/joelkehle/snomed-consensus/internal/usage"
)

// APIError is the decoded error envelope of a failed call.
type APIError struct {
	Status    int
	Code      string
	Message   string
	Transient bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient uses timeout for whole requests; normalization of a long note
// can take minutes.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		blob, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(blob)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, blob)
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func decodeError(status int, blob []byte) error {
	var env struct {
		Error struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			Transient bool   `json:"transient"`
		} `json:"error"`
	}
	apiErr := &APIError{Status: status}
	if json.Unmarshal(blob, &env) == nil && env.Error.Code != "" {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Transient = env.Error.Transient
		return apiErr
	}
	apiErr.Code = http.StatusText(status)
	apiErr.Message = strings.TrimSpace(string(blob))
	return apiErr
}

func (c *Client) Normalize(ctx context.Context, req consensus.Request) (consensus.Result, error) {
	var resp struct {
		Result consensus.Result `json:"result"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/normalize", req, &resp); err != nil {
		return consensus.Result{}, err
	}
	return resp.Result, nil
}

// Health reports the server's terminology status. A 503 from an unloadable
// snapshot is returned as stats with ok=false, not as an error.
func (c *Client) Health(ctx context.Context) (terminology.Stats, bool, error) {
	var resp struct {
		OK          bool              `json:"ok"`
		Terminology terminology.Stats `json:"terminology"`
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return resp.Terminology, false, err
	}
	r, err := c.http.Do(req)
	if err != nil {
		return resp.Terminology, false, err
	}
	defer r.Body.Close()
	if r.StatusCode != http.StatusOK && r.StatusCode != http.StatusServiceUnavailable {
		blob, _ := io.ReadAll(r.Body)
		return resp.Terminology, false, decodeError(r.StatusCode, blob)
	}
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		return resp.Terminology, false, fmt.Errorf("decode health: %w", err)
	}
	return resp.Terminology, resp.OK, nil
}

func (c *Client) Usage(ctx context.Context) (usage.Stats, error) {
	var resp struct {
		Usage usage.Stats `json:"usage"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/usage", nil, &resp); err != nil {
		return usage.Stats{}, err
	}
	return resp.Usage, nil
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
