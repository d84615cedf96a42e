// Package cloudflare implements provision.DNSProvider on top of the
// Cloudflare v4 REST API: zones, DNS records and Workers routes.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"customdomains/internal/provision"
)

// DefaultBaseURL is the public Cloudflare API endpoint.
const DefaultBaseURL = "https://api.cloudflare.com/client/v4"

// Error codes Cloudflare returns when the resource being created exists.
const (
	CodeZoneExists       = 1061
	CodeDuplicatePattern = 10020
)

const recordsPerPage = 100

var _ provision.DNSProvider = (*Client)(nil)

// Client talks to one Cloudflare account.
type Client struct {
	baseURL   string
	apiToken  string
	accountID string
	client    *http.Client
	log       *zap.Logger
}

// Settings holds the connection settings for a Client.
type Settings struct {
	APIToken  string
	AccountID string
	BaseURL   string
}

// New creates a Cloudflare client. APIToken and AccountID are required.
func New(settings Settings, httpClient *http.Client, log *zap.Logger) (*Client, error) {
	if settings.APIToken == "" {
		return nil, fmt.Errorf("cloudflare: missing required setting 'api_token'")
	}
	if settings.AccountID == "" {
		return nil, fmt.Errorf("cloudflare: missing required setting 'account_id'")
	}
	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiToken:  settings.APIToken,
		accountID: settings.AccountID,
		client:    httpClient,
		log:       log,
	}, nil
}

// ResponseError is one entry of the "errors" array of an API response.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// APIError is returned for any response that is not a 2xx with success:true.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Errors     []ResponseError
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("cloudflare: %s %s returned status %d", e.Method, e.Path, e.StatusCode)
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, re := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s (code %d)", re.Message, re.Code))
	}
	return fmt.Sprintf("cloudflare: %s %s: %s", e.Method, e.Path, strings.Join(msgs, "; "))
}

// HasCode reports whether the response carried the given error code.
func (e *APIError) HasCode(code int) bool {
	for _, re := range e.Errors {
		if re.Code == code {
			return true
		}
	}
	return false
}

type envelope struct {
	Success    bool            `json:"success"`
	Errors     []ResponseError `json:"errors"`
	Result     json.RawMessage `json:"result"`
	ResultInfo *resultInfo     `json:"result_info"`
}

type resultInfo struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
	Count      int `json:"count"`
	TotalCount int `json:"total_count"`
}

// do executes a request and decodes the envelope's result into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) (*resultInfo, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("cloudflare: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: read %s %s response: %w", method, path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode/100 != 2 {
			return nil, &APIError{Method: method, Path: path, StatusCode: resp.StatusCode}
		}
		return nil, fmt.Errorf("cloudflare: decode %s %s response: %w", method, path, err)
	}
	if resp.StatusCode/100 != 2 || !env.Success {
		return nil, &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Errors: env.Errors}
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return nil, fmt.Errorf("cloudflare: decode %s %s result: %w", method, path, err)
		}
	}
	return env.ResultInfo, nil
}

// Classify maps the zone-exists and duplicate-pattern codes to
// provision.Duplicate for their steps. Everything else is fatal.
func (c *Client) Classify(step provision.Step, err error) provision.ErrorClass {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return provision.Fatal
	}
	switch step {
	case provision.StepZone:
		if apiErr.HasCode(CodeZoneExists) {
			return provision.Duplicate
		}
	case provision.StepRoute:
		if apiErr.HasCode(CodeDuplicatePattern) {
			return provision.Duplicate
		}
	}
	return provision.Fatal
}

type zone struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Status      string   `json:"status"`
	NameServers []string `json:"name_servers"`
}

func (z zone) toZone() provision.Zone {
	return provision.Zone{ID: z.ID, Name: z.Name, Status: z.Status, NameServers: z.NameServers}
}

// CreateZone adds a full-setup zone for domain to the account.
func (c *Client) CreateZone(ctx context.Context, domain string) (provision.Zone, error) {
	c.log.Info("creating zone", zap.String("domain", domain))

	body := map[string]interface{}{
		"name":    domain,
		"account": map[string]string{"id": c.accountID},
		"type":    "full",
	}
	var z zone
	if _, err := c.do(ctx, http.MethodPost, "/zones", nil, body, &z); err != nil {
		return provision.Zone{}, err
	}

	c.log.Info("zone created", zap.String("zone_id", z.ID), zap.String("status", z.Status))
	return z.toZone(), nil
}

// FindZone looks up the account's zone named domain.
func (c *Client) FindZone(ctx context.Context, domain string) (provision.Zone, bool, error) {
	q := url.Values{}
	q.Set("name", domain)
	q.Set("account.id", c.accountID)

	var zones []zone
	if _, err := c.do(ctx, http.MethodGet, "/zones", q, nil, &zones); err != nil {
		return provision.Zone{}, false, err
	}
	for _, z := range zones {
		if strings.EqualFold(z.Name, domain) {
			return z.toZone(), true, nil
		}
	}
	return provision.Zone{}, false, nil
}

type dnsRecord struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Proxied bool   `json:"proxied"`
	TTL     int    `json:"ttl,omitempty"`
}

func (r dnsRecord) toRecord() provision.DNSRecord {
	return provision.DNSRecord{ID: r.ID, Type: r.Type, Name: r.Name, Content: r.Content, Proxied: r.Proxied}
}

// ListRecords returns every DNS record of the zone, following pagination.
func (c *Client) ListRecords(ctx context.Context, zoneID string) ([]provision.DNSRecord, error) {
	path := "/zones/" + url.PathEscape(zoneID) + "/dns_records"

	var records []provision.DNSRecord
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("per_page", strconv.Itoa(recordsPerPage))
		q.Set("page", strconv.Itoa(page))

		var batch []dnsRecord
		info, err := c.do(ctx, http.MethodGet, path, q, nil, &batch)
		if err != nil {
			return nil, err
		}
		for _, r := range batch {
			records = append(records, r.toRecord())
		}
		if info == nil || page >= info.TotalPages || len(batch) == 0 {
			break
		}
	}
	return records, nil
}

// CreateRecord adds a record to the zone. TTL is left to Cloudflare ("auto").
func (c *Client) CreateRecord(ctx context.Context, zoneID string, record provision.DNSRecord) (provision.DNSRecord, error) {
	c.log.Info("creating record", zap.String("zone_id", zoneID), zap.String("type", record.Type), zap.String("name", record.Name))

	body := dnsRecord{
		Type:    record.Type,
		Name:    record.Name,
		Content: record.Content,
		Proxied: record.Proxied,
		TTL:     1,
	}
	var created dnsRecord
	if _, err := c.do(ctx, http.MethodPost, "/zones/"+url.PathEscape(zoneID)+"/dns_records", nil, body, &created); err != nil {
		return provision.DNSRecord{}, err
	}

	c.log.Info("record created", zap.String("record_id", created.ID))
	return created.toRecord(), nil
}

type workerRoute struct {
	ID      string `json:"id,omitempty"`
	Pattern string `json:"pattern"`
	Script  string `json:"script,omitempty"`
}

func (r workerRoute) toRule() provision.RoutingRule {
	return provision.RoutingRule{ID: r.ID, Pattern: r.Pattern, Target: r.Script}
}

// CreateRoute binds rule.Pattern to the Worker script rule.Target.
func (c *Client) CreateRoute(ctx context.Context, zoneID string, rule provision.RoutingRule) (provision.RoutingRule, error) {
	c.log.Info("creating worker route", zap.String("zone_id", zoneID), zap.String("pattern", rule.Pattern), zap.String("script", rule.Target))

	var created workerRoute
	body := workerRoute{Pattern: rule.Pattern, Script: rule.Target}
	if _, err := c.do(ctx, http.MethodPost, "/zones/"+url.PathEscape(zoneID)+"/workers/routes", nil, body, &created); err != nil {
		return provision.RoutingRule{}, err
	}
	// the create response only carries the id
	if created.Pattern == "" {
		created.Pattern = rule.Pattern
		created.Script = rule.Target
	}

	c.log.Info("worker route created", zap.String("route_id", created.ID))
	return created.toRule(), nil
}

// ListRoutes returns the Workers routes of the zone.
func (c *Client) ListRoutes(ctx context.Context, zoneID string) ([]provision.RoutingRule, error) {
	var routes []workerRoute
	if _, err := c.do(ctx, http.MethodGet, "/zones/"+url.PathEscape(zoneID)+"/workers/routes", nil, nil, &routes); err != nil {
		return nil, err
	}
	rules := make([]provision.RoutingRule, 0, len(routes))
	for _, r := range routes {
		rules = append(rules, r.toRule())
	}
	return rules, nil
}
