package cloudflare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"customdomains/internal/provision"
	"customdomains/internal/util"
)

// fakeAPI is a minimal stateful stand-in for the Cloudflare endpoints the
// client uses.
type fakeAPI struct {
	mu      sync.Mutex
	zones   map[string]zone
	records map[string][]dnsRecord
	routes  map[string][]workerRoute
	created int
	pages   int
	auth    string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		zones:   map[string]zone{},
		records: map[string][]dnsRecord{},
		routes:  map[string][]workerRoute{},
	}
}

func writeEnvelope(w http.ResponseWriter, status int, result interface{}, info *resultInfo, errs ...ResponseError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	raw, _ := json.Marshal(result)
	_ = json.NewEncoder(w).Encode(envelope{
		Success:    len(errs) == 0,
		Errors:     errs,
		Result:     raw,
		ResultInfo: info,
	})
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = r.Header.Get("Authorization")

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "zones":
		var body struct {
			Name    string            `json:"name"`
			Account map[string]string `json:"account"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := f.zones[body.Name]; ok {
			writeEnvelope(w, http.StatusBadRequest, nil, nil, ResponseError{Code: CodeZoneExists, Message: body.Name + " already exists"})
			return
		}
		z := zone{ID: "zone-abc123", Name: body.Name, Status: "pending", NameServers: []string{"ns1.cloudflare.com", "ns2.cloudflare.com"}}
		f.zones[body.Name] = z
		writeEnvelope(w, http.StatusOK, z, nil)

	case r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "zones":
		var out []zone
		if z, ok := f.zones[r.URL.Query().Get("name")]; ok {
			out = append(out, z)
		}
		writeEnvelope(w, http.StatusOK, out, &resultInfo{Page: 1, TotalPages: 1})

	case len(parts) == 3 && parts[2] == "dns_records" && r.Method == http.MethodGet:
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		f.pages++
		all := f.records[parts[1]]
		// two records per page so pagination is exercised
		start, end := (page-1)*2, page*2
		if start > len(all) {
			start = len(all)
		}
		if end > len(all) {
			end = len(all)
		}
		total := (len(all) + 1) / 2
		writeEnvelope(w, http.StatusOK, all[start:end], &resultInfo{Page: page, TotalPages: total})

	case len(parts) == 3 && parts[2] == "dns_records" && r.Method == http.MethodPost:
		var rec dnsRecord
		_ = json.NewDecoder(r.Body).Decode(&rec)
		f.created++
		rec.ID = fmt.Sprintf("rec-%d", f.created)
		if rec.Name == "www" {
			rec.Name = "www." + rec.Content
		}
		f.records[parts[1]] = append(f.records[parts[1]], rec)
		writeEnvelope(w, http.StatusOK, rec, nil)

	case len(parts) == 4 && parts[2] == "workers" && parts[3] == "routes" && r.Method == http.MethodPost:
		var route workerRoute
		_ = json.NewDecoder(r.Body).Decode(&route)
		for _, existing := range f.routes[parts[1]] {
			if existing.Pattern == route.Pattern {
				writeEnvelope(w, http.StatusConflict, nil, nil, ResponseError{Code: CodeDuplicatePattern, Message: "A route with the same pattern already exists."})
				return
			}
		}
		f.created++
		route.ID = "route-xyz789"
		f.routes[parts[1]] = append(f.routes[parts[1]], route)
		writeEnvelope(w, http.StatusOK, map[string]string{"id": route.ID}, nil)

	case len(parts) == 4 && parts[2] == "workers" && parts[3] == "routes" && r.Method == http.MethodGet:
		writeEnvelope(w, http.StatusOK, f.routes[parts[1]], nil)

	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Settings{APIToken: "token", AccountID: "acct-1", BaseURL: srv.URL}, srv.Client(), nil)
	require.NoError(t, err)
	return c
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Settings{AccountID: "acct"}, nil, nil)
	assert.ErrorContains(t, err, "api_token")

	_, err = New(Settings{APIToken: "token"}, nil, nil)
	assert.ErrorContains(t, err, "account_id")

	c, err := New(Settings{APIToken: "token", AccountID: "acct"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
}

func TestCreateZoneAndDuplicate(t *testing.T) {
	api := newFakeAPI()
	c := newTestClient(t, api)
	ctx := context.Background()

	z, err := c.CreateZone(ctx, "example.xyz")
	require.NoError(t, err)
	assert.Equal(t, "zone-abc123", z.ID)
	assert.Equal(t, []string{"ns1.cloudflare.com", "ns2.cloudflare.com"}, z.NameServers)
	assert.Equal(t, "Bearer token", api.auth)

	_, err = c.CreateZone(ctx, "example.xyz")
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.HasCode(CodeZoneExists))
	assert.Contains(t, err.Error(), "example.xyz already exists")
	assert.Equal(t, provision.Duplicate, c.Classify(provision.StepZone, err))
	assert.Equal(t, provision.Fatal, c.Classify(provision.StepRoute, err))

	found, ok, err := c.FindZone(ctx, "example.xyz")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, z, found)

	_, ok, err = c.FindZone(ctx, "missing.xyz")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListRecordsFollowsPages(t *testing.T) {
	api := newFakeAPI()
	api.records["zone-1"] = []dnsRecord{
		{ID: "1", Type: "A", Name: "example.xyz", Content: "192.0.2.1"},
		{ID: "2", Type: "CNAME", Name: "www.example.xyz", Content: "example.xyz"},
		{ID: "3", Type: "TXT", Name: "example.xyz", Content: "v=spf1 -all"},
	}
	c := newTestClient(t, api)

	records, err := c.ListRecords(context.Background(), "zone-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "3", records[2].ID)
	assert.Equal(t, 2, api.pages)
}

func TestCreateRecord(t *testing.T) {
	api := newFakeAPI()
	c := newTestClient(t, api)

	rec, err := c.CreateRecord(context.Background(), "zone-1", provision.DNSRecord{Type: "A", Name: "example.xyz", Content: "192.0.2.1", Proxied: true})
	require.NoError(t, err)
	assert.Equal(t, "rec-1", rec.ID)
	assert.True(t, api.records["zone-1"][0].Proxied)
	assert.Equal(t, 1, api.records["zone-1"][0].TTL)
}

func TestCreateRouteAndDuplicate(t *testing.T) {
	api := newFakeAPI()
	c := newTestClient(t, api)
	ctx := context.Background()

	rule, err := c.CreateRoute(ctx, "zone-1", provision.RoutingRule{Pattern: "example.xyz/*", Target: "chat-widget"})
	require.NoError(t, err)
	assert.Equal(t, provision.RoutingRule{ID: "route-xyz789", Pattern: "example.xyz/*", Target: "chat-widget"}, rule)

	_, err = c.CreateRoute(ctx, "zone-1", provision.RoutingRule{Pattern: "example.xyz/*", Target: "chat-widget"})
	require.Error(t, err)
	assert.Equal(t, provision.Duplicate, c.Classify(provision.StepRoute, err))

	rules, err := c.ListRoutes(ctx, "zone-1")
	require.NoError(t, err)
	assert.Equal(t, []provision.RoutingRule{rule}, rules)
}

func TestNonDuplicateErrorsAreFatal(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusForbidden, nil, nil, ResponseError{Code: 10000, Message: "Authentication error"})
	}))

	_, err := c.CreateZone(context.Background(), "example.xyz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Authentication error")
	assert.Equal(t, provision.Fatal, c.Classify(provision.StepZone, err))
	assert.Equal(t, provision.Fatal, c.Classify(provision.StepZone, errors.New("timeout")))
}

func TestNonJSONErrorResponse(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))

	_, err := c.ListRoutes(context.Background(), "zone-1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

// The scenario from the provisioning contract, end to end against the fake API.
func TestProvisionAgainstFakeAPI(t *testing.T) {
	api := newFakeAPI()
	c := newTestClient(t, api)
	reg := &recordingRegistrar{}
	p, err := provision.New(c, reg, provision.Options{RouteTarget: "chat-widget"})
	require.NoError(t, err)
	ctx := context.Background()

	first, err := p.ProvisionDomain(ctx, "example.xyz")
	require.NoError(t, err)
	assert.Equal(t, "zone-abc123", first.ZoneID)
	assert.Equal(t, "route-xyz789", first.RouteID)
	assert.Equal(t, "rec-1", first.ARecordID)
	assert.Equal(t, "rec-2", first.CNAMERecordID)
	createdAfterFirst := api.created

	second, err := p.ProvisionDomain(ctx, "example.xyz")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, createdAfterFirst, api.created)
	assert.Len(t, reg.calls, 2)
}

func TestTimeoutIsFatalStepError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	httpClient := util.NewHTTPClient(50*time.Millisecond, false, nil)
	c, err := New(Settings{APIToken: "token", AccountID: "acct-1", BaseURL: srv.URL}, httpClient, nil)
	require.NoError(t, err)
	reg := &recordingRegistrar{}
	p, err := provision.New(c, reg, provision.Options{RouteTarget: "chat-widget"})
	require.NoError(t, err)

	_, err = p.ProvisionDomain(context.Background(), "example.xyz")
	require.Error(t, err)
	step, ok := provision.FailedStep(err)
	require.True(t, ok)
	assert.Equal(t, provision.StepZone, step)
	assert.Equal(t, provision.Fatal, c.Classify(provision.StepZone, errors.Unwrap(err)))
	assert.Empty(t, reg.calls)
}

type recordingRegistrar struct {
	calls [][]string
}

func (r *recordingRegistrar) SetNameservers(_ context.Context, _ string, ns []string) error {
	r.calls = append(r.calls, ns)
	return nil
}
