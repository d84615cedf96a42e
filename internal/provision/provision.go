// Package provision brings a purchased custom domain online.
//
// ProvisionDomain runs four steps in a fixed order: ensure the DNS zone,
// ensure the apex A and www CNAME records, ensure the routing rule that
// binds "<domain>/*" to the widget worker, and point the registrar at the
// zone's nameservers. Every step looks before it creates, so a call may be
// repeated any number of times and converges on the same resources.
//
// There is no rollback. When a step fails, resources created by earlier
// steps stay in place and the error is returned to the caller. Recovery is
// done by calling ProvisionDomain again, which reuses what already exists
// and resumes from the first missing piece.
package provision

import "context"

// Zone is a DNS hosting zone at the DNS provider.
type Zone struct {
	ID          string
	Name        string
	Status      string // pending, active, moved or deleted
	NameServers []string
}

// DNSRecord is a single record inside a zone.
type DNSRecord struct {
	ID      string
	Type    string
	Name    string
	Content string
	Proxied bool
}

// RoutingRule binds a URL pattern to a compute target.
type RoutingRule struct {
	ID      string
	Pattern string
	Target  string
}

// Result identifies every resource backing a provisioned domain.
type Result struct {
	ZoneID        string   `json:"zoneId"`
	ZoneStatus    string   `json:"zoneStatus"`
	Nameservers   []string `json:"nameservers"`
	RouteID       string   `json:"routeId"`
	ARecordID     string   `json:"aRecordId"`
	CNAMERecordID string   `json:"cnameRecordId"`
}

// Step names one stage of the provisioning pipeline.
type Step string

const (
	StepZone        Step = "zone"
	StepRecords     Step = "records"
	StepRoute       Step = "route"
	StepNameservers Step = "nameservers"
)

// ErrorClass is the outcome of classifying a provider error.
type ErrorClass int

const (
	// Fatal errors abort the run.
	Fatal ErrorClass = iota
	// Duplicate means the resource already exists and can be looked up.
	Duplicate
)

func (c ErrorClass) String() string {
	if c == Duplicate {
		return "duplicate"
	}
	return "fatal"
}

// DNSProvider is the zone, record and routing API of a DNS/CDN provider.
type DNSProvider interface {
	CreateZone(ctx context.Context, domain string) (Zone, error)
	// FindZone looks a zone up by name. The bool is false when no zone exists.
	FindZone(ctx context.Context, domain string) (Zone, bool, error)
	ListRecords(ctx context.Context, zoneID string) ([]DNSRecord, error)
	CreateRecord(ctx context.Context, zoneID string, record DNSRecord) (DNSRecord, error)
	CreateRoute(ctx context.Context, zoneID string, rule RoutingRule) (RoutingRule, error)
	ListRoutes(ctx context.Context, zoneID string) ([]RoutingRule, error)

	// Classify reports whether err, returned by the given step, is the
	// provider's "already exists" answer for that step.
	Classify(step Step, err error) ErrorClass
}

// Registrar sets the authoritative nameservers of a registered domain.
// SetNameservers replaces the whole list.
type Registrar interface {
	SetNameservers(ctx context.Context, domain string, nameservers []string) error
}
