// Package registrar holds the registry of domain registrar backends.
// Backends register themselves from init; import
// customdomains/internal/registrar/providers to link all of them in.
package registrar

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"go.uber.org/zap"

	"customdomains/internal/provision"
)

// Factory creates a registrar backend from its settings.
type Factory func(log *zap.Logger, client *http.Client, settings map[string]string) (provision.Registrar, error)

var (
	mu        sync.Mutex
	factories = make(map[string]Factory)
)

// Register is called by backend packages in their init() to self-register.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("registrar: backend %q already registered", name))
	}
	factories[name] = f
}

// New looks up the named backend and creates it.
func New(name string, log *zap.Logger, client *http.Client, settings map[string]string) (provision.Registrar, error) {
	mu.Lock()
	f, ok := factories[name]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unsupported registrar: %q (registered: %v)", name, Names())
	}
	return f(log, client, settings)
}

// Names returns the registered backend names in sorted order.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
