// Package providers imports all registrar backends to trigger their init() registration.
package providers

import (
	_ "customdomains/internal/registrar/manual"
	_ "customdomains/internal/registrar/namecom"
)
