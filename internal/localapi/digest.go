package localapi

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/printnest/printnest/pkg/models"
)

// Realm is the fixed realm the printer's API reports in its Digest
// challenges.
const Realm = "Jedi-API"

// digestSession tracks the HTTP Digest state (RFC 7616, SHA-256) for one
// client: the credential pair, the server nonce, and the nonce counter. A
// fresh nonce from a 401 challenge resets the counter to 1.
type digestSession struct {
	mu    sync.Mutex
	cred  models.Credential
	nonce string
	nc    uint32
}

// SetCredential installs the id/key pair and forgets any previous nonce.
func (s *digestSession) SetCredential(cred models.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = cred
	s.nonce = ""
	s.nc = 0
}

// Credential returns the current pair.
func (s *digestSession) Credential() models.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred
}

// Clear drops the credential and nonce, e.g. after the printer revoked it.
func (s *digestSession) Clear() {
	s.SetCredential(models.Credential{})
}

// AcceptChallenge parses a WWW-Authenticate header, stores its nonce, and
// resets the nonce counter. Returns false when no nonce is present.
func (s *digestSession) AcceptChallenge(header string) bool {
	nonce := parseChallengeNonce(header)
	if nonce == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonce = nonce
	s.nc = 1
	return true
}

// Authorize sets the Authorization header on req when a credential and
// nonce are available. The nonce counter is incremented after each
// authorized request. Requests under /api/v1/auth/ are never authorized.
func (s *digestSession) Authorize(req *http.Request) error {
	if strings.HasPrefix(req.URL.Path, "/api/v1/auth/") {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cred.Valid() || s.nonce == "" {
		return nil
	}

	cnonce, err := newCnonce()
	if err != nil {
		return fmt.Errorf("generate cnonce: %w", err)
	}
	nc := fmt.Sprintf("%08x", s.nc)
	uri := req.URL.RequestURI()

	ha1 := sha256Hex(s.cred.ID + ":" + Realm + ":" + s.cred.Key)
	ha2 := sha256Hex(req.Method + ":" + uri)
	response := sha256Hex(strings.Join([]string{ha1, s.nonce, nc, cnonce, "auth", ha2}, ":"))

	req.Header.Set("Authorization", fmt.Sprintf(
		`Digest username=%q, realm=%q, nonce=%q, uri=%q, nc=%s, cnonce=%q, qop=auth, response=%q, algorithm="SHA-256"`,
		s.cred.ID, Realm, s.nonce, uri, nc, cnonce, response,
	))

	s.nc++
	return nil
}

// parseChallengeNonce extracts the nonce value from a WWW-Authenticate
// header such as `Digest realm="Jedi-API", nonce="abc", qop="auth"`.
func parseChallengeNonce(header string) string {
	const marker = `nonce="`
	i := strings.Index(header, marker)
	if i < 0 {
		return ""
	}
	rest := header[i+len(marker):]
	j := strings.IndexByte(rest, '"')
	if j < 0 {
		return ""
	}
	return rest[:j]
}

// newCnonce returns 8 bytes of cryptographic randomness as 16 hex chars.
func newCnonce() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
