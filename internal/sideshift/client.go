package sideshift

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
	"github.com/ggonzalez94/sideshift-bridge/internal/httpx"
)

// DefaultBaseURL is the local development backend.
const DefaultBaseURL = "http://localhost:3001"

// Client talks to the bridge backend's SideShift proxy. It holds no state and
// does not retry on its own beyond what the transport is configured for.
type Client struct {
	http    *httpx.Client
	baseURL string
}

func New(httpClient *httpx.Client, baseURL string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: httpClient, baseURL: baseURL}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) SupportedAssets(ctx context.Context) (SupportedAssetsResponse, error) {
	var out SupportedAssetsResponse
	if err := c.get(ctx, "/api/sideshift/supported-assets", nil, &out); err != nil {
		return SupportedAssetsResponse{}, err
	}
	return out, nil
}

// PairInfo fetches bounds and rate. Empty networks are left out of the query.
func (c *Client) PairInfo(ctx context.Context, depositCoin, settleCoin, depositNetwork, settleNetwork string) (PairInfo, error) {
	if strings.TrimSpace(depositCoin) == "" || strings.TrimSpace(settleCoin) == "" {
		return PairInfo{}, clierr.New(clierr.CodeUsage, "deposit and settle coins are required")
	}
	vals := url.Values{}
	if strings.TrimSpace(depositNetwork) != "" {
		vals.Set("depositNetwork", depositNetwork)
	}
	if strings.TrimSpace(settleNetwork) != "" {
		vals.Set("settleNetwork", settleNetwork)
	}
	path := "/api/sideshift/pair/" + url.PathEscape(depositCoin) + "/" + url.PathEscape(settleCoin)

	var out PairInfo
	if err := c.get(ctx, path, vals, &out); err != nil {
		return PairInfo{}, err
	}
	return out, nil
}

func (c *Client) CreateShift(ctx context.Context, req ShiftRequest) (ShiftResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ShiftResponse{}, clierr.Wrap(clierr.CodeInternal, "encode shift request", err)
	}
	var out ShiftResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/api/sideshift/create-shift", body, nil, &out); err != nil {
		return ShiftResponse{}, err
	}
	return out, nil
}

func (c *Client) ShiftStatus(ctx context.Context, shiftID string) (ShiftStatusResponse, error) {
	if strings.TrimSpace(shiftID) == "" {
		return ShiftStatusResponse{}, clierr.New(clierr.CodeUsage, "shift id is required")
	}
	var out ShiftStatusResponse
	if err := c.get(ctx, "/api/sideshift/shift-status/"+url.PathEscape(shiftID), nil, &out); err != nil {
		return ShiftStatusResponse{}, err
	}
	return out, nil
}

func (c *Client) UserShifts(ctx context.Context, address string) ([]Shift, error) {
	if strings.TrimSpace(address) == "" {
		return nil, clierr.New(clierr.CodeUsage, "address is required")
	}
	var out UserShiftsResponse
	if err := c.get(ctx, "/api/sideshift/user/"+url.PathEscape(address), nil, &out); err != nil {
		return nil, err
	}
	if out.Shifts == nil {
		out.Shifts = []Shift{}
	}
	return out.Shifts, nil
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	if err := c.get(ctx, "/health", nil, &out); err != nil {
		return Health{}, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, vals url.Values, out any) error {
	target := c.baseURL + path
	if len(vals) > 0 {
		target += "?" + vals.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	_, err = c.http.DoJSON(ctx, req, out)
	return err
}
