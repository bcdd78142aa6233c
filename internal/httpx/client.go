package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
)

const (
	messageNotFound    = "Resource not found"
	messageServerError = "Server error. Please try again later."
)

type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
}

func New(timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  "sideshift-bridge/1.0",
	}
}

// DoJSON sends req and decodes a 2xx JSON body into out. Non-2xx responses
// become *clierr.Error values whose Message is display-ready. Only idempotent
// methods are retried.
func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	retries := c.retries
	if !idempotent(req.Method) {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, clierr.Wrap(clierr.CodeNetwork, ctx.Err().Error(), ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		cloneReq := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, clierr.Wrap(clierr.CodeInternal, "clone request body", err)
			}
			cloneReq.Body = body
		}

		resp, err := c.httpClient.Do(cloneReq)
		if err != nil {
			lastErr = mapNetError(err)
			if attempt < retries && ctx.Err() == nil {
				continue
			}
			return nil, lastErr
		}

		buf, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return resp.Header, mapNetError(readErr)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = statusError(resp.StatusCode, buf)
			if retryableStatus(resp.StatusCode) && attempt < retries {
				continue
			}
			return resp.Header, lastErr
		}

		if out == nil {
			return resp.Header, nil
		}
		if len(bytes.TrimSpace(buf)) == 0 {
			return resp.Header, &clierr.Error{Code: clierr.CodeServer, Message: "backend returned empty response", Status: resp.StatusCode}
		}
		if err := json.Unmarshal(buf, out); err != nil {
			return resp.Header, &clierr.Error{Code: clierr.CodeServer, Message: "decode backend JSON", Status: resp.StatusCode, Cause: err}
		}
		return resp.Header, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, clierr.New(clierr.CodeNetwork, "request failed")
}

func DoBodyJSON(ctx context.Context, c *Client, method, url string, body []byte, headers map[string]string, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.DoJSON(ctx, req, out)
}

// NormalizeMessage picks the display message for a failed response: the body's
// error field, then a canned message for 404 and 500, then the generic status text.
func NormalizeMessage(status int, body []byte) string {
	if msg := bodyErrorMessage(body); msg != "" {
		return msg
	}
	switch status {
	case http.StatusNotFound:
		return messageNotFound
	case http.StatusInternalServerError:
		return messageServerError
	}
	return fmt.Sprintf("Request failed with status code %d", status)
}

func statusError(status int, body []byte) *clierr.Error {
	code := clierr.CodeValidation
	switch {
	case status == http.StatusNotFound:
		code = clierr.CodeNotFound
	case status == http.StatusTooManyRequests:
		code = clierr.CodeRateLimited
	case status >= http.StatusInternalServerError:
		code = clierr.CodeServer
	case status < 400:
		code = clierr.CodeServer
	}
	return &clierr.Error{Code: code, Message: NormalizeMessage(status, body), Status: status}
}

func bodyErrorMessage(body []byte) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	var payload struct {
		Error any `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	switch v := payload.Error.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if msg, ok := v["message"].(string); ok {
			return strings.TrimSpace(msg)
		}
	}
	return ""
}

func mapNetError(err error) error {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = "network error"
	}
	return clierr.Wrap(clierr.CodeNetwork, msg, err)
}

func idempotent(method string) bool {
	switch strings.ToUpper(method) {
	case "", http.MethodGet, http.MethodHead:
		return true
	default:
		return false
	}
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func backoff(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}
