package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// Actor is the audit actor for requests authenticated by TokenAuth.
const Actor = "admin"

// maxConcurrentChecks caps the bcrypt comparisons running at once.
const maxConcurrentChecks = 2

var (
	errInvalidToken = errors.New("invalid token")
	errBusy         = errors.New("too many token checks in progress")
)

// TokenAuth guards the admin API with a single bearer token whose bcrypt
// hash is configured. The sha256 digest of the last accepted token is
// remembered so repeat requests skip bcrypt.
type TokenAuth struct {
	hash   []byte
	checks *semaphore.Weighted

	mu       sync.RWMutex
	accepted []byte
}

func NewTokenAuth(tokenHash string) (*TokenAuth, error) {
	if _, err := bcrypt.Cost([]byte(tokenHash)); err != nil {
		return nil, fmt.Errorf("admin token hash is not a bcrypt hash: %w", err)
	}
	return &TokenAuth{
		hash:   []byte(tokenHash),
		checks: semaphore.NewWeighted(maxConcurrentChecks),
	}, nil
}

// Valid reports whether token matches the configured hash.
func (a *TokenAuth) Valid(token string) bool {
	return a.verify(token) == nil
}

func (a *TokenAuth) verify(token string) error {
	if token == "" {
		return errInvalidToken
	}
	digest := sha256.Sum256([]byte(token))

	a.mu.RLock()
	known := a.accepted
	a.mu.RUnlock()
	if known != nil && subtle.ConstantTimeCompare(known, digest[:]) == 1 {
		return nil
	}

	if !a.checks.TryAcquire(1) {
		return errBusy
	}
	defer a.checks.Release(1)
	if bcrypt.CompareHashAndPassword(a.hash, []byte(token)) != nil {
		return errInvalidToken
	}

	a.mu.Lock()
	a.accepted = digest[:]
	a.mu.Unlock()
	return nil
}

func (a *TokenAuth) RequireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			token = ""
		}
		switch err := a.verify(strings.TrimSpace(token)); {
		case errors.Is(err, errBusy):
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		case err != nil:
			w.Header().Set("WWW-Authenticate", `Bearer realm="customdomains"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// GenerateToken returns a new random admin token and its bcrypt hash.
func GenerateToken() (token, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(b)
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return token, string(h), nil
}
