package provision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"go.uber.org/zap"

	"customdomains/internal/metrics"
)

// DefaultPlaceholderIP is the address of the proxied apex A record. Proxied
// traffic never reaches it; the routing rule answers every request.
const DefaultPlaceholderIP = "192.0.2.1"

// Options configures a Provisioner.
type Options struct {
	// RouteTarget is the compute target (worker script) bound to "<domain>/*".
	RouteTarget string
	// PlaceholderIP is the content of the apex A record.
	PlaceholderIP string
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// Provisioner orchestrates the provisioning steps for one domain at a time.
// It keeps no state between calls and may be shared by concurrent callers
// working on different domains.
type Provisioner struct {
	dns           DNSProvider
	registrar     Registrar
	routeTarget   string
	placeholderIP string
	log           *zap.Logger
	metrics       *metrics.Metrics
}

// New validates opts and creates a Provisioner.
func New(dns DNSProvider, registrar Registrar, opts Options) (*Provisioner, error) {
	if dns == nil {
		return nil, fmt.Errorf("provision: DNS provider is required")
	}
	if registrar == nil {
		return nil, fmt.Errorf("provision: registrar is required")
	}
	if strings.TrimSpace(opts.RouteTarget) == "" {
		return nil, fmt.Errorf("provision: route target is required")
	}
	ip := opts.PlaceholderIP
	if ip == "" {
		ip = DefaultPlaceholderIP
	}
	if !govalidator.IsIPv4(ip) {
		return nil, fmt.Errorf("provision: placeholder IP %q is not an IPv4 address", ip)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Provisioner{
		dns:           dns,
		registrar:     registrar,
		routeTarget:   opts.RouteTarget,
		placeholderIP: ip,
		log:           log,
		metrics:       opts.Metrics,
	}, nil
}

// ProvisionDomain ensures the zone, DNS records, routing rule and nameserver
// delegation for domain, in that order. Any error other than a recovered
// duplicate aborts the remaining steps and is returned as a *StepError.
func (p *Provisioner) ProvisionDomain(ctx context.Context, domain string) (Result, error) {
	d, err := ValidateDomain(domain)
	if err != nil {
		return Result{}, err
	}
	log := p.log.With(zap.String("domain", d))
	log.Info("provisioning domain")

	res, err := p.run(ctx, log, d)
	if err != nil {
		step, _ := FailedStep(err)
		log.Error("provisioning failed", zap.String("step", string(step)), zap.Error(err))
		p.metrics.ObserveRun("failed")
		return Result{}, err
	}

	log.Info("domain provisioned",
		zap.String("zone_id", res.ZoneID),
		zap.String("route_id", res.RouteID),
		zap.Strings("nameservers", res.Nameservers),
	)
	p.metrics.ObserveRun("succeeded")
	return res, nil
}

func (p *Provisioner) run(ctx context.Context, log *zap.Logger, domain string) (Result, error) {
	zone, err := p.EnsureZone(ctx, domain)
	if err != nil {
		return Result{}, err
	}
	log.Info("zone ready", zap.String("zone_id", zone.ID), zap.String("zone_status", zone.Status))

	aID, cnameID, err := p.EnsureRecords(ctx, zone.ID, domain)
	if err != nil {
		return Result{}, err
	}
	log.Info("records ready", zap.String("a_record_id", aID), zap.String("cname_record_id", cnameID))

	route, err := p.EnsureRoute(ctx, zone.ID, domain)
	if err != nil {
		return Result{}, err
	}
	log.Info("route ready", zap.String("route_id", route.ID), zap.String("pattern", route.Pattern))

	if err := p.DelegateNameservers(ctx, domain, zone.NameServers); err != nil {
		return Result{}, err
	}

	return Result{
		ZoneID:        zone.ID,
		ZoneStatus:    zone.Status,
		Nameservers:   zone.NameServers,
		RouteID:       route.ID,
		ARecordID:     aID,
		CNAMERecordID: cnameID,
	}, nil
}

// EnsureZone creates the zone for domain, or returns the existing one when
// the provider reports it already exists.
func (p *Provisioner) EnsureZone(ctx context.Context, domain string) (Zone, error) {
	defer p.metrics.ObserveStep(string(StepZone), time.Now())

	zone, err := p.dns.CreateZone(ctx, domain)
	if err == nil {
		return zone, nil
	}
	if p.dns.Classify(StepZone, err) != Duplicate {
		return Zone{}, &StepError{Domain: domain, Step: StepZone, Err: err}
	}

	p.log.Info("zone already exists, looking it up", zap.String("domain", domain))
	p.metrics.ObserveDuplicate(string(StepZone))
	zone, found, err := p.dns.FindZone(ctx, domain)
	if err != nil {
		return Zone{}, &StepError{Domain: domain, Step: StepZone, Err: err}
	}
	if !found {
		return Zone{}, &StepError{Domain: domain, Step: StepZone, Err: fmt.Errorf("zone %s: %w", domain, ErrLookupInconsistent)}
	}
	return zone, nil
}

// EnsureRecords makes sure the zone has the apex A record and the www CNAME
// and returns their ids. Existing records are reused; nothing is created
// when both are present.
func (p *Provisioner) EnsureRecords(ctx context.Context, zoneID, domain string) (aID, cnameID string, err error) {
	defer p.metrics.ObserveStep(string(StepRecords), time.Now())

	records, err := p.dns.ListRecords(ctx, zoneID)
	if err != nil {
		return "", "", &StepError{Domain: domain, Step: StepRecords, Err: err}
	}

	for _, r := range records {
		switch {
		case aID == "" && isApexA(r, domain):
			aID = r.ID
		case cnameID == "" && isWWWCNAME(r, domain):
			cnameID = r.ID
		}
	}

	if aID == "" {
		created, err := p.dns.CreateRecord(ctx, zoneID, DNSRecord{
			Type:    "A",
			Name:    domain,
			Content: p.placeholderIP,
			Proxied: true,
		})
		if err != nil {
			return "", "", &StepError{Domain: domain, Step: StepRecords, Err: fmt.Errorf("create A record: %w", err)}
		}
		aID = created.ID
	}

	if cnameID == "" {
		created, err := p.dns.CreateRecord(ctx, zoneID, DNSRecord{
			Type:    "CNAME",
			Name:    "www",
			Content: domain,
			Proxied: true,
		})
		if err != nil {
			return "", "", &StepError{Domain: domain, Step: StepRecords, Err: fmt.Errorf("create CNAME record: %w", err)}
		}
		cnameID = created.ID
	}

	return aID, cnameID, nil
}

// EnsureRoute binds "<domain>/*" to the configured target, reusing the
// existing rule when the provider reports the pattern as taken.
func (p *Provisioner) EnsureRoute(ctx context.Context, zoneID, domain string) (RoutingRule, error) {
	defer p.metrics.ObserveStep(string(StepRoute), time.Now())

	pattern := RoutePattern(domain)
	rule, err := p.dns.CreateRoute(ctx, zoneID, RoutingRule{Pattern: pattern, Target: p.routeTarget})
	if err == nil {
		return rule, nil
	}
	if p.dns.Classify(StepRoute, err) != Duplicate {
		return RoutingRule{}, &StepError{Domain: domain, Step: StepRoute, Err: err}
	}

	p.log.Info("route pattern already exists, looking it up", zap.String("domain", domain), zap.String("pattern", pattern))
	p.metrics.ObserveDuplicate(string(StepRoute))
	rules, err := p.dns.ListRoutes(ctx, zoneID)
	if err != nil {
		return RoutingRule{}, &StepError{Domain: domain, Step: StepRoute, Err: err}
	}
	for _, r := range rules {
		if r.Pattern == pattern {
			return r, nil
		}
	}
	return RoutingRule{}, &StepError{Domain: domain, Step: StepRoute, Err: fmt.Errorf("route %s: %w", pattern, ErrLookupInconsistent)}
}

// DelegateNameservers overwrites the registrar's nameservers for domain.
// It runs on every provisioning call so delegation heals itself.
func (p *Provisioner) DelegateNameservers(ctx context.Context, domain string, nameservers []string) error {
	defer p.metrics.ObserveStep(string(StepNameservers), time.Now())

	if len(nameservers) == 0 {
		return &StepError{Domain: domain, Step: StepNameservers, Err: fmt.Errorf("zone has no nameservers: %w", ErrLookupInconsistent)}
	}
	if err := p.registrar.SetNameservers(ctx, domain, nameservers); err != nil {
		return &StepError{Domain: domain, Step: StepNameservers, Err: err}
	}
	return nil
}

// RoutePattern is the routing-rule pattern covering every path of domain.
func RoutePattern(domain string) string {
	return domain + "/*"
}

func isApexA(r DNSRecord, domain string) bool {
	return strings.EqualFold(r.Type, "A") && sameName(r.Name, domain)
}

// Providers return the www record either relative ("www") or fully
// qualified ("www.example.xyz").
func isWWWCNAME(r DNSRecord, domain string) bool {
	if !strings.EqualFold(r.Type, "CNAME") || !sameName(r.Content, domain) {
		return false
	}
	return sameName(r.Name, "www") || sameName(r.Name, "www."+domain)
}

func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSuffix(a, "."), strings.TrimSuffix(b, "."))
}
