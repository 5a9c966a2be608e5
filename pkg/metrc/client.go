package metrc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout        = 60 * time.Second
	responseBodyReadLimit = 4 << 20
)

// ClientConfig is the per-invocation configuration of a Client. Values are
// copied into the client; nothing is shared between instances.
type ClientConfig struct {
	// APIKey is the vendor (software integrator) key for the state.
	APIKey string
	// UserKey is the licensee key stored on the integration.
	UserKey string
	// State is the vendor state code used to pick the regional host.
	State   string
	Sandbox bool
	Debug   bool
	// BaseURL overrides the host derived from the templates.
	BaseURL                string
	BaseURLTemplate        string
	SandboxBaseURLTemplate string
	Timeout                time.Duration
	HTTPClient             *http.Client
}

// Client is a thin transport to the Metrc REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	userKey    string
	debug      bool
}

// NewClient validates cfg and builds a client for it.
func NewClient(cfg ClientConfig) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, &MissingConfiguration{Setting: "api key", State: cfg.State}
	}
	userKey := strings.TrimSpace(cfg.UserKey)
	if userKey == "" {
		return nil, &MissingConfiguration{Setting: "user key", State: cfg.State}
	}

	baseURL, err := resolveBaseURL(cfg)
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		userKey:    userKey,
		debug:      cfg.Debug,
	}, nil
}

func resolveBaseURL(cfg ClientConfig) (string, error) {
	if trimmed := strings.TrimSpace(cfg.BaseURL); trimmed != "" {
		return strings.TrimRight(trimmed, "/"), nil
	}
	state := strings.ToLower(strings.TrimSpace(cfg.State))
	if state == "" {
		return "", &MissingConfiguration{Setting: "state"}
	}
	template := cfg.BaseURLTemplate
	if cfg.Sandbox {
		template = cfg.SandboxBaseURLTemplate
	}
	if template == "" {
		return "", &MissingConfiguration{Setting: "base url template", State: cfg.State}
	}
	return strings.TrimRight(fmt.Sprintf(template, state), "/"), nil
}

// BaseURL returns the host the client dispatches to.
func (c *Client) BaseURL() string {
	if c == nil {
		return ""
	}
	return c.baseURL
}

// URI renders the full request URI for an operation, without credentials.
func (c *Client) URI(license string, op Operation) string {
	u := c.baseURL + op.Path
	query := op.query(license)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Do dispatches op for the given license and returns the raw response body.
// Transport failures, throttling and server errors come back as
// *RequestError; 401 and 403 as *AuthenticationError; other non-2xx
// responses as *ResponseError.
func (c *Client) Do(ctx context.Context, license string, op Operation) ([]byte, error) {
	if c == nil {
		return nil, &MissingConfiguration{Setting: "client"}
	}
	if strings.TrimSpace(license) == "" {
		return nil, &MissingParameter{Operation: op.Name, Parameter: "licenseNumber"}
	}
	if op.Method == "" || op.Path == "" {
		return nil, &MissingParameter{Operation: op.Name, Parameter: "path"}
	}

	var body io.Reader
	if op.Body != nil {
		payload, err := json.Marshal(op.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", op.Name, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, op.Method, c.URI(license, op), body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op.Name, err)
	}
	req.SetBasicAuth(c.apiKey, c.userKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RequestError{Operation: op.Name, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return nil, &RequestError{Operation: op.Name, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return nil, &RequestError{Operation: op.Name, StatusCode: resp.StatusCode, Body: string(payload)}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthenticationError{Operation: op.Name, StatusCode: resp.StatusCode, Body: string(payload)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ResponseError{Operation: op.Name, StatusCode: resp.StatusCode, Body: string(payload)}
	}
	return payload, nil
}

// Operation is a single Metrc endpoint invocation.
type Operation struct {
	Name   string
	Method string
	Path   string
	Query  url.Values
	Body   any
}

func (o Operation) query(license string) url.Values {
	values := url.Values{}
	for key, vals := range o.Query {
		for _, v := range vals {
			values.Add(key, v)
		}
	}
	if license != "" {
		values.Set("licenseNumber", license)
	}
	return values
}

// Args is the list of arguments an operation carries, used for debug output.
func (o Operation) Args() []any {
	args := []any{}
	for key, vals := range o.Query {
		args = append(args, map[string][]string{key: vals})
	}
	if o.Body != nil {
		args = append(args, o.Body)
	}
	return args
}

func CreatePlantBatchPackage(payload any) Operation {
	return Operation{
		Name:   "create_plant_batch_package",
		Method: http.MethodPost,
		Path:   "/plantbatches/v1/createpackages",
		Body:   payload,
	}
}

// CreateHarvestPackage targets the testing endpoint when testing is set, so
// that test batches create packages flagged for lab sampling.
func CreateHarvestPackage(payload any, testing bool) Operation {
	path := "/harvests/v1/create/packages"
	if testing {
		path += "/testing"
	}
	return Operation{
		Name:   "create_harvest_package",
		Method: http.MethodPost,
		Path:   path,
		Body:   payload,
	}
}

func GetHarvest(id int64) Operation {
	return Operation{
		Name:   "get_harvest",
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/harvests/v1/%d", id),
	}
}

func FinishHarvest(payload []FinishHarvestEntry) Operation {
	return Operation{
		Name:   "finish_harvest",
		Method: http.MethodPost,
		Path:   "/harvests/v1/finish",
		Body:   payload,
	}
}

func ListHarvests() Operation {
	return Operation{
		Name:   "list_harvests",
		Method: http.MethodGet,
		Path:   "/harvests/v1/active",
	}
}

// Get builds a generic read against /<resource>/v1/<segments...>.
func Get(resource string, segments ...string) Operation {
	parts := []string{"", url.PathEscape(resource), "v1"}
	for _, s := range segments {
		parts = append(parts, url.PathEscape(s))
	}
	return Operation{
		Name:   "get_" + strings.Join(append([]string{resource}, segments...), "_"),
		Method: http.MethodGet,
		Path:   strings.Join(parts, "/"),
	}
}

// FinishHarvestEntry is one element of the finish harvest payload.
type FinishHarvestEntry struct {
	ID         int64  `json:"Id"`
	ActualDate string `json:"ActualDate"`
}

// Harvest is the subset of the harvest resource the service reads.
type Harvest struct {
	ID            int64       `json:"Id"`
	Name          string      `json:"Name"`
	CurrentWeight json.Number `json:"CurrentWeight"`
	UnitOfWeight  string      `json:"UnitOfWeightName,omitempty"`
}

// ItemCategory is an entry of /items/v1/categories.
type ItemCategory struct {
	Name              string `json:"Name"`
	ProductCategory   string `json:"ProductCategoryType,omitempty"`
	QuantityType      string `json:"QuantityType,omitempty"`
	RequiresStrain    bool   `json:"RequiresStrain,omitempty"`
	RequiresUnitCount bool   `json:"RequiresUnitCount,omitempty"`
}

// Debug reports whether response bodies should be logged.
func (c *Client) Debug() bool {
	return c != nil && c.debug
}
