// Package auth implements the gateway's credential verification: a
// monotonic {None, Auth, All} mode (spec.md §3) checked against a key set
// kept current by internal/controlplane, plus JWT verification for
// control-plane-issued session tokens.
package auth

import (
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Mode is the gateway-wide auth requirement level. Values only ever
// tighten at runtime (None -> Auth -> All), never loosen, matching
// spec.md §3's monotonicity invariant for a running process.
type Mode int

const (
	// ModeNone accepts every request without a credential.
	ModeNone Mode = iota
	// ModeAuth validates a presented credential but still serves
	// requests that present none at all.
	ModeAuth
	// ModeAll requires a valid credential on every request.
	ModeAll
)

func ParseMode(s string) Mode {
	switch strings.ToLower(s) {
	case "all":
		return ModeAll
	case "auth":
		return ModeAuth
	default:
		return ModeNone
	}
}

// KeyRecord is one accepted Helicone API key.
type KeyRecord struct {
	KeyHash string
	OwnerID string
	OrgID   string
}

// KeySet is the authoritative set of accepted key hashes, mutated only by
// internal/controlplane as Update::Keys frames arrive.
type KeySet struct {
	mu   sync.RWMutex
	keys map[string]KeyRecord
}

func NewKeySet() *KeySet {
	return &KeySet{keys: make(map[string]KeyRecord)}
}

func (s *KeySet) Put(rec KeyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[rec.KeyHash] = rec
}

func (s *KeySet) Remove(keyHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, keyHash)
}

func (s *KeySet) Replace(recs []KeyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[string]KeyRecord, len(recs))
	for _, r := range recs {
		s.keys[r.KeyHash] = r
	}
}

func (s *KeySet) Lookup(keyHash string) (KeyRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.keys[keyHash]
	return rec, ok
}

// Verifier checks a presented credential against either the key set or, if
// it parses as a JWT, the control plane's signing key.
type Verifier struct {
	mode      Mode
	keys      *KeySet
	jwtSecret []byte
}

func NewVerifier(mode Mode, keys *KeySet, jwtSecret []byte) *Verifier {
	return &Verifier{mode: mode, keys: keys, jwtSecret: jwtSecret}
}

// Result is the outcome of verifying a presented credential.
type Result struct {
	Authenticated bool
	OwnerID       string
	OrgID         string
}

// Verify checks credential (the raw bearer token, with any "Bearer "
// prefix already stripped) against the configured mode.
//
//   - ModeNone: always authenticated, regardless of credential presence.
//   - ModeAuth: unauthenticated requests pass, but a *presented* invalid
//     credential is rejected.
//   - ModeAll: a credential must be present and valid.
func (v *Verifier) Verify(credential string) (Result, bool) {
	if v.mode == ModeNone {
		return Result{Authenticated: true}, true
	}

	if credential == "" {
		return Result{}, v.mode != ModeAll
	}

	if looksLikeJWT(credential) {
		claims, err := v.verifyJWT(credential)
		if err != nil {
			return Result{}, false
		}
		return Result{Authenticated: true, OwnerID: claims.Subject, OrgID: claims.OrgID}, true
	}

	rec, ok := v.keys.Lookup(credential)
	if !ok {
		return Result{}, false
	}
	return Result{Authenticated: true, OwnerID: rec.OwnerID, OrgID: rec.OrgID}, true
}

func looksLikeJWT(s string) bool {
	return strings.Count(s, ".") == 2
}

type sessionClaims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org_id"`
}

func (v *Verifier) verifyJWT(token string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
