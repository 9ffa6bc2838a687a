// Package token fetches short-lived signaling credentials from the issuing
// endpoint. It never retries; callers decide when to try again.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/petervdpas/dialdesk/internal/util"
)

// ErrAuth matches every *AuthError via errors.Is.
var ErrAuth = errors.New("token issuance failed")

// AuthError reports a failed token fetch or refresh.
type AuthError struct {
	Identity string
	Status   int // HTTP status, 0 when the request never completed
	Cause    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("token for %q: status %d: %v", e.Identity, e.Status, e.Cause)
	}
	return fmt.Sprintf("token for %q: %v", e.Identity, e.Cause)
}

func (e *AuthError) Unwrap() error { return e.Cause }

func (e *AuthError) Is(target error) bool { return target == ErrAuth }

// Credential is a token plus the identity it authenticates. It is a value:
// refreshes replace it, nothing mutates it.
type Credential struct {
	Token    string    `json:"token"`
	Identity string    `json:"identity"`
	IssuedAt time.Time `json:"issued_at"`
}

// Provider talks to GET {BaseURL}/token/{identity}.
type Provider struct {
	BaseURL string
	HTTP    *http.Client

	mu      sync.RWMutex
	current Credential
	now     func() time.Time
}

func NewProvider(baseURL string, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = util.DefaultFetchTimeout
	}
	return &Provider{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:    &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

// FetchToken obtains a fresh credential for identity.
func (p *Provider) FetchToken(ctx context.Context, identity string) (Credential, error) {
	cred, err := p.issue(ctx, identity)
	if err != nil {
		log.Printf("TOKEN: could not get a token for %s: %v", identity, err)
		return Credential{}, err
	}
	log.Printf("TOKEN: issued for %s", cred.Identity)
	return cred, nil
}

// RefreshToken is FetchToken invoked in response to the device going offline.
// The credential it returns re-arms the device; active calls are unaffected.
func (p *Provider) RefreshToken(ctx context.Context, identity string) (Credential, error) {
	cred, err := p.issue(ctx, identity)
	if err != nil {
		log.Printf("TOKEN: failed to fetch refreshed token for %s: %v", identity, err)
		return Credential{}, err
	}
	log.Printf("TOKEN: refreshed for %s", cred.Identity)
	return cred, nil
}

// Current returns the last credential successfully issued, if any.
func (p *Provider) Current() (Credential, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current, p.current.Token != ""
}

func (p *Provider) issue(ctx context.Context, identity string) (Credential, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Credential{}, &AuthError{Cause: errors.New("empty identity")}
	}

	u := p.BaseURL + "/token/" + url.PathEscape(identity)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Credential{}, &AuthError{Identity: identity, Cause: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return Credential{}, &AuthError{Identity: identity, Cause: err}
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		return Credential{}, &AuthError{Identity: identity, Status: resp.StatusCode, Cause: errors.New(msg)}
	}

	var payload struct {
		Token    string `json:"token"`
		Identify string `json:"identify"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Credential{}, &AuthError{Identity: identity, Status: resp.StatusCode, Cause: fmt.Errorf("decode: %w", err)}
	}
	if payload.Token == "" {
		return Credential{}, &AuthError{Identity: identity, Status: resp.StatusCode, Cause: errors.New("missing token")}
	}

	cred := Credential{
		Token:    payload.Token,
		Identity: payload.Identify,
		IssuedAt: p.now(),
	}
	if cred.Identity == "" {
		cred.Identity = identity
	}

	p.mu.Lock()
	p.current = cred
	p.mu.Unlock()
	return cred, nil
}
