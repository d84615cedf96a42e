package provision

import (
	"fmt"
	"strings"

	"github.com/asaskevich/govalidator"
	"golang.org/x/net/publicsuffix"
)

// ValidateDomain normalizes a bare registrable domain ("example.xyz") and
// rejects anything else: schemes, paths, ports, subdomains and public
// suffixes.
func ValidateDomain(domain string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimSuffix(d, ".")
	if d == "" {
		return "", fmt.Errorf("domain is empty")
	}
	if strings.ContainsAny(d, "/:@?# ") {
		return "", fmt.Errorf("domain %q must be a bare host name", domain)
	}
	if !strings.Contains(d, ".") || !govalidator.IsDNSName(d) {
		return "", fmt.Errorf("domain %q is not a valid DNS name", domain)
	}
	registrable, err := publicsuffix.EffectiveTLDPlusOne(d)
	if err != nil {
		return "", fmt.Errorf("domain %q: %w", domain, err)
	}
	if registrable != d {
		return "", fmt.Errorf("domain %q is not a registrable domain (did you mean %q?)", domain, registrable)
	}
	return d, nil
}
