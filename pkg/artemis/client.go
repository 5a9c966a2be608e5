package artemis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/packfinderz-compliance/pkg/errors"
)

const (
	defaultBaseURL              = "https://portal.artemisag.com"
	apiPrefix                   = "/api/v3"
	responseBodyReadLimit int64 = 4 << 20
)

var errTokenRequired = errors.New("artemis access token is required")

// Config scopes a client to one account token and one facility.
type Config struct {
	BaseURL    string
	Token      string
	FacilityID string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client reads batches, resource units, zones and completions from the
// Artemis JSON:API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	facilityID string
}

func NewClient(cfg Config) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errTokenRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
		facilityID: strings.TrimSpace(cfg.FacilityID),
	}, nil
}

// FacilityID returns the facility the client is scoped to.
func (c *Client) FacilityID() string {
	return c.facilityID
}

// GetBatch fetches a batch of the scoped facility. Barcodes, seeding unit,
// zone and completions are always included; extra includes are appended.
func (c *Client) GetBatch(ctx context.Context, batchID string, include ...string) (*Batch, error) {
	if strings.TrimSpace(batchID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAttributes, "batch id is required")
	}
	includes := mergeIncludes([]string{"barcodes", "seeding_unit", "zone", "completions"}, include)
	doc, err := c.get(ctx, c.facilityPath("batches", batchID), url.Values{"include": {strings.Join(includes, ",")}})
	if err != nil {
		return nil, err
	}
	res, err := doc.single()
	if err != nil {
		return nil, err
	}
	return decodeBatch(res, doc.included)
}

func (c *Client) GetResourceUnit(ctx context.Context, id string) (*ResourceUnit, error) {
	if strings.TrimSpace(id) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAttributes, "resource unit id is required")
	}
	doc, err := c.get(ctx, c.facilityPath("resource_units", id), url.Values{"include": {"crop_variety"}})
	if err != nil {
		return nil, err
	}
	res, err := doc.single()
	if err != nil {
		return nil, err
	}
	return decodeResourceUnit(res, doc.included)
}

func (c *Client) GetResourceUnits(ctx context.Context) ([]ResourceUnit, error) {
	doc, err := c.get(ctx, c.facilityPath("resource_units"), url.Values{"include": {"crop_variety"}})
	if err != nil {
		return nil, err
	}
	list, err := doc.list()
	if err != nil {
		return nil, err
	}
	out := make([]ResourceUnit, 0, len(list))
	for _, res := range list {
		unit, err := decodeResourceUnit(res, doc.included)
		if err != nil {
			return nil, err
		}
		out = append(out, *unit)
	}
	return out, nil
}

func (c *Client) GetZone(ctx context.Context, id string) (*Zone, error) {
	if strings.TrimSpace(id) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAttributes, "zone id is required")
	}
	doc, err := c.get(ctx, c.facilityPath("zones", id), nil)
	if err != nil {
		return nil, err
	}
	res, err := doc.single()
	if err != nil {
		return nil, err
	}
	var attrs struct {
		Name string `json:"name"`
	}
	if err := res.decodeAttributes(&attrs); err != nil {
		return nil, err
	}
	return &Zone{ID: res.ID, Name: attrs.Name}, nil
}

func (c *Client) GetFacility(ctx context.Context) (*Facility, error) {
	doc, err := c.get(ctx, c.facilityPath(), nil)
	if err != nil {
		return nil, err
	}
	res, err := doc.single()
	if err != nil {
		return nil, err
	}
	var attrs struct {
		Name     string `json:"name"`
		Timezone string `json:"timezone"`
	}
	if err := res.decodeAttributes(&attrs); err != nil {
		return nil, err
	}
	return &Facility{ID: res.ID, Name: attrs.Name, Timezone: attrs.Timezone}, nil
}

// GetChildCompletions lists completions whose parent is completionID.
func (c *Client) GetChildCompletions(ctx context.Context, completionID string) ([]Completion, error) {
	return c.listCompletions(ctx, url.Values{"filter[parent_id]": {completionID}})
}

// GetRelatedCompletions lists completions related to completionID.
func (c *Client) GetRelatedCompletions(ctx context.Context, completionID string) ([]Completion, error) {
	return c.listCompletions(ctx, url.Values{"filter[related_to]": {completionID}})
}

func (c *Client) listCompletions(ctx context.Context, query url.Values) ([]Completion, error) {
	doc, err := c.get(ctx, c.facilityPath("completions"), query)
	if err != nil {
		return nil, err
	}
	list, err := doc.list()
	if err != nil {
		return nil, err
	}
	out := make([]Completion, 0, len(list))
	for _, res := range list {
		completion, err := decodeCompletion(res)
		if err != nil {
			return nil, err
		}
		out = append(out, completion)
	}
	return out, nil
}

func (c *Client) facilityPath(segments ...string) string {
	parts := []string{apiPrefix, "facilities", url.PathEscape(c.facilityID)}
	for _, s := range segments {
		parts = append(parts, url.PathEscape(s))
	}
	return strings.Join(parts, "/")
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (*document, error) {
	if c.facilityID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAttributes, "facility id is required")
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build artemis request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.api+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute artemis request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read artemis response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "artemis resource %s not found", path)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, pkgerrors.Newf(pkgerrors.CodeDependency, "artemis %s returned %d", path, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, pkgerrors.Newf(pkgerrors.CodeInvalidAttributes, "artemis %s returned %d: %s", path, resp.StatusCode, truncate(string(body), 360))
	}

	var doc document
	if err := decodeJSON(body, &doc); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode artemis response")
	}
	doc.indexIncluded()
	return &doc, nil
}

func decodeJSON(data []byte, dest any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(dest)
}

func mergeIncludes(base []string, extra []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(base)+len(extra))
	for _, group := range [][]string{base, extra} {
		for _, inc := range group {
			for _, part := range strings.Split(inc, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				if _, ok := seen[part]; ok {
					continue
				}
				seen[part] = struct{}{}
				out = append(out, part)
			}
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func errUnexpectedShape(kind string) error {
	return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("artemis response is not a %s", kind))
}
