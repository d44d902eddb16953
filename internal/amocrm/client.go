// Package amocrm is a typed client for the amoCRM v4 REST API, covering the
// read surface this service needs: deals (leads), their related contacts and
// companies, account users, pipelines and custom field definitions.
package amocrm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MaxPageSize is the largest page size the leads listing accepts.
const MaxPageSize = 250

// APIError is a non-2xx response from the CRM.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("amocrm: status %d: %s", e.StatusCode, e.Body)
}

// TokenPair is an OAuth access/refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Config configures a Client.
type Config struct {
	// Domain is the account host, e.g. "example.amocrm.ru".
	Domain       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AccessToken  string
	RefreshToken string

	// BaseURL overrides the https://{Domain} origin; used by tests.
	BaseURL string

	// OnTokenRefresh, when set, receives every refreshed token pair so the
	// caller can persist it.
	OnTokenRefresh func(TokenPair)

	// HTTPClient overrides the default client (30s timeout).
	HTTPClient *http.Client
}

// Client talks to one amoCRM account. Safe for concurrent use; the token
// pair is guarded so a refresh triggered by one request is visible to all.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://" + cfg.Domain
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		cfg:          cfg,
		baseURL:      strings.TrimRight(base, "/"),
		httpClient:   hc,
		accessToken:  cfg.AccessToken,
		refreshToken: cfg.RefreshToken,
	}
}

// GetDeal fetches one deal with contacts and custom field values expanded.
func (c *Client) GetDeal(ctx context.Context, id int64) (*Deal, error) {
	var deal Deal
	path := fmt.Sprintf("/api/v4/leads/%d?with=contacts,custom_fields_values", id)
	if err := c.get(ctx, path, &deal); err != nil {
		return nil, err
	}
	return &deal, nil
}

// ListDealsOptions narrows a ListDeals call.
type ListDealsOptions struct {
	PipelineID  int64 // filter[pipeline_id], 0 = all pipelines
	CreatedFrom int64 // filter[created_at][from], Unix seconds, 0 = all time
}

type dealsPage struct {
	Embedded struct {
		Leads []Deal `json:"leads"`
	} `json:"_embedded"`
}

// ListDeals returns one page of the deal listing, all pipelines and all
// stages including closed ones. An empty slice means the listing is
// exhausted (the API returns 204 past the last page).
func (c *Client) ListDeals(ctx context.Context, page, limit int, opts ListDealsOptions) ([]Deal, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	q := url.Values{}
	q.Set("with", "contacts,custom_fields_values")
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	if opts.PipelineID != 0 {
		q.Set("filter[pipeline_id]", strconv.FormatInt(opts.PipelineID, 10))
	}
	if opts.CreatedFrom != 0 {
		q.Set("filter[created_at][from]", strconv.FormatInt(opts.CreatedFrom, 10))
	}

	var resp dealsPage
	if err := c.get(ctx, "/api/v4/leads?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Embedded.Leads, nil
}

// GetContacts fetches contacts in bulk by ID, with custom field values.
func (c *Client) GetContacts(ctx context.Context, ids []int64) ([]Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var resp struct {
		Embedded struct {
			Contacts []Contact `json:"contacts"`
		} `json:"_embedded"`
	}
	path := "/api/v4/contacts?id=" + joinIDs(ids) + "&with=custom_fields_values"
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Embedded.Contacts, nil
}

// GetCompanies fetches companies in bulk by ID.
func (c *Client) GetCompanies(ctx context.Context, ids []int64) ([]Company, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var resp struct {
		Embedded struct {
			Companies []Company `json:"companies"`
		} `json:"_embedded"`
	}
	if err := c.get(ctx, "/api/v4/companies?id="+joinIDs(ids), &resp); err != nil {
		return nil, err
	}
	return resp.Embedded.Companies, nil
}

// GetUsers returns all account users.
func (c *Client) GetUsers(ctx context.Context) ([]User, error) {
	var resp struct {
		Embedded struct {
			Users []User `json:"users"`
		} `json:"_embedded"`
	}
	if err := c.get(ctx, "/api/v4/users", &resp); err != nil {
		return nil, err
	}
	return resp.Embedded.Users, nil
}

// GetPipelines returns all lead pipelines with their statuses.
func (c *Client) GetPipelines(ctx context.Context) ([]Pipeline, error) {
	var resp struct {
		Embedded struct {
			Pipelines []Pipeline `json:"pipelines"`
		} `json:"_embedded"`
	}
	if err := c.get(ctx, "/api/v4/leads/pipelines", &resp); err != nil {
		return nil, err
	}
	return resp.Embedded.Pipelines, nil
}

// GetCustomFields returns the lead custom field definitions.
func (c *Client) GetCustomFields(ctx context.Context) ([]CustomFieldDef, error) {
	var resp struct {
		Embedded struct {
			CustomFields []CustomFieldDef `json:"custom_fields"`
		} `json:"_embedded"`
	}
	if err := c.get(ctx, "/api/v4/leads/custom_fields", &resp); err != nil {
		return nil, err
	}
	return resp.Embedded.CustomFields, nil
}

// get performs an authorized GET and decodes the JSON body into out.
// On a 401 it refreshes the token pair and retries exactly once; a second
// 401 is returned to the caller. A 204 leaves out untouched.
func (c *Client) get(ctx context.Context, path string, out any) error {
	status, body, err := c.do(ctx, path)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized {
		slog.Info("access token expired, refreshing")
		if err := c.refreshAccessToken(ctx); err != nil {
			return err
		}
		status, body, err = c.do(ctx, path)
		if err != nil {
			return err
		}
	}

	switch {
	case status == http.StatusNoContent:
		return nil
	case status >= 400:
		return &APIError{StatusCode: status, Body: truncate(string(body), 512)}
	}

	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("amocrm: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("amocrm: build request: %w", err)
	}
	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("amocrm: %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("amocrm: read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// refreshAccessToken exchanges the refresh token for a new pair.
func (c *Client) refreshAccessToken(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.refreshToken
	c.mu.Unlock()

	payload, err := json.Marshal(map[string]string{
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
		"grant_type":    "refresh_token",
		"refresh_token": refresh,
		"redirect_uri":  c.cfg.RedirectURI,
	})
	if err != nil {
		return fmt.Errorf("amocrm: marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/oauth2/access_token", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("amocrm: build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("amocrm: refresh token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("amocrm: read refresh response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	var pair TokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return fmt.Errorf("amocrm: decode refresh response: %w", err)
	}

	c.mu.Lock()
	c.accessToken = pair.AccessToken
	c.refreshToken = pair.RefreshToken
	c.mu.Unlock()

	slog.Info("access token refreshed")
	if c.cfg.OnTokenRefresh != nil {
		c.cfg.OnTokenRefresh(pair)
	}
	return nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
