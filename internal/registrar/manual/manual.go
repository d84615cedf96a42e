// Package manual is the registrar backend for domains whose registrar has
// no API integration. It logs the nameservers an operator has to set.
package manual

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"customdomains/internal/provision"
	"customdomains/internal/registrar"
)

func init() {
	registrar.Register("manual", func(log *zap.Logger, _ *http.Client, _ map[string]string) (provision.Registrar, error) {
		return New(log), nil
	})
}

type Registrar struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Registrar {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registrar{log: log}
}

func (r *Registrar) SetNameservers(_ context.Context, domain string, nameservers []string) error {
	r.log.Warn("nameservers must be set at the registrar by hand",
		zap.String("domain", domain),
		zap.Strings("nameservers", nameservers),
	)
	return nil
}
