// Package namecom sets domain nameservers through the Name.com v4 API.
package namecom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"customdomains/internal/provision"
	"customdomains/internal/registrar"
)

// DefaultBaseURL is the production API. The sandbox lives at
// https://api.dev.name.com.
const DefaultBaseURL = "https://api.name.com"

func init() {
	registrar.Register("namecom", func(log *zap.Logger, client *http.Client, settings map[string]string) (provision.Registrar, error) {
		return New(log, client, settings)
	})
}

// Registrar implements provision.Registrar for Name.com.
type Registrar struct {
	baseURL  string
	username string
	token    string
	client   *http.Client
	log      *zap.Logger
}

// New creates a Name.com registrar from the given settings map.
// Required settings: username, token. Optional settings: base_url.
func New(log *zap.Logger, client *http.Client, settings map[string]string) (*Registrar, error) {
	username := settings["username"]
	if username == "" {
		return nil, fmt.Errorf("namecom: missing required setting 'username'")
	}
	token := settings["token"]
	if token == "" {
		return nil, fmt.Errorf("namecom: missing required setting 'token'")
	}
	baseURL := settings["base_url"]
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registrar{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		token:    token,
		client:   client,
		log:      log,
	}, nil
}

// APIError carries the status and message of a failed Name.com call.
type APIError struct {
	StatusCode int
	Message    string `json:"message"`
	Details    string `json:"details"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return fmt.Sprintf("namecom: status %d: %s", e.StatusCode, msg)
}

// SetNameservers replaces the nameservers of domain with the given list.
func (r *Registrar) SetNameservers(ctx context.Context, domain string, nameservers []string) error {
	r.log.Info("setting nameservers", zap.String("domain", domain), zap.Strings("nameservers", nameservers))

	data, err := json.Marshal(map[string][]string{"nameservers": nameservers})
	if err != nil {
		return fmt.Errorf("namecom: marshal request body: %w", err)
	}

	u := r.baseURL + "/v4/domains/" + url.PathEscape(domain) + ":setNameservers"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("namecom: build request: %w", err)
	}
	req.SetBasicAuth(r.username, r.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("namecom: setNameservers %s: %w", domain, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		body, _ := io.ReadAll(resp.Body)
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}

	r.log.Info("nameservers set", zap.String("domain", domain))
	return nil
}
