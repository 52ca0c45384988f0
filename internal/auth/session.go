// Package auth implements the session provider: token storage, refresh,
// sign-in state notifications, and resolution of the backend-side owner id
// used by legacy table paths.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/couchpilot/couchpilot/internal/backend"
	"github.com/couchpilot/couchpilot/internal/storage"
)

var (
	ErrNoSession     = errors.New("no active session")
	ErrRefreshFailed = errors.New("session refresh failed")
)

// State is the authentication state the orchestrator couples to.
type State int

const (
	StateLoading State = iota
	StateSignedOut
	StateSignedIn
)

func (s State) String() string {
	switch s {
	case StateSignedIn:
		return "signed_in"
	case StateSignedOut:
		return "signed_out"
	default:
		return "loading"
	}
}

const (
	accessTokenKey  = "auth.access_token"
	refreshTokenKey = "auth.refresh_token"
	ownerIDKey      = "auth.owner_id"
)

// ProcedureCaller is the slice of the transport the owner-id resolver needs.
// Set after construction because the transport itself needs the session as
// its token source.
type ProcedureCaller interface {
	CallProcedure(ctx context.Context, name string, args any, sessionAuth bool) ([]byte, error)
}

// Session holds the current credentials and fans out state changes.
type Session struct {
	store      storage.Store
	baseURL    string
	publicKey  string
	httpClient *http.Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	ownerID      string
	transport    ProcedureCaller
	nextSub      int
	listeners    map[int]func(State)
}

func NewSession(store storage.Store, baseURL, publicKey string) *Session {
	s := &Session{
		store:      store,
		baseURL:    strings.TrimRight(baseURL, "/"),
		publicKey:  publicKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		listeners:  make(map[int]func(State)),
	}
	s.accessToken = store.Get(accessTokenKey, "")
	s.refreshToken = store.Get(refreshTokenKey, "")
	s.ownerID = store.Get(ownerIDKey, "")
	return s
}

// SetTransport wires the procedure caller used for legacy owner-id lookup.
func (s *Session) SetTransport(t ProcedureCaller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = t
}

// AccessToken implements backend.TokenSource.
func (s *Session) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// IsAuthenticated reports whether a session credential is present.
func (s *Session) IsAuthenticated() bool {
	return s.AccessToken() != ""
}

// State derives the current authentication state.
func (s *Session) State() State {
	if s.IsAuthenticated() {
		return StateSignedIn
	}
	return StateSignedOut
}

// Subscribe registers a state-change listener and returns its unsubscribe func.
func (s *Session) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Session) notify(state State) {
	s.mu.Lock()
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	UserID       string `json:"user_id,omitempty"`
}

// SignIn exchanges credentials for a session.
func (s *Session) SignIn(ctx context.Context, email, password string) error {
	resp, err := s.tokenRequest(ctx, "password", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return err
	}
	s.setTokens(resp)
	s.notify(StateSignedIn)
	return nil
}

// SignOut drops the session and cached owner id.
func (s *Session) SignOut() {
	s.mu.Lock()
	s.accessToken = ""
	s.refreshToken = ""
	s.ownerID = ""
	s.mu.Unlock()

	_ = s.store.Remove(accessTokenKey)
	_ = s.store.Remove(refreshTokenKey)
	_ = s.store.Remove(ownerIDKey)
	s.notify(StateSignedOut)
}

// Refresh exchanges the refresh token for fresh credentials.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	refresh := s.refreshToken
	s.mu.Unlock()
	if refresh == "" {
		return ErrNoSession
	}

	resp, err := s.tokenRequest(ctx, "refresh_token", map[string]string{
		"refresh_token": refresh,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	s.setTokens(resp)
	return nil
}

// EffectiveOwnerID resolves and caches the backend-side owner identifier.
// The access token's subject claim is authoritative; sessions minted before
// subjects were issued fall back to a procedure call. An authorization
// failure triggers one transparent refresh-and-retry; a failed refresh signs
// the session out.
func (s *Session) EffectiveOwnerID(ctx context.Context) (string, error) {
	s.mu.Lock()
	cached := s.ownerID
	token := s.accessToken
	transport := s.transport
	s.mu.Unlock()

	if cached != "" {
		return cached, nil
	}
	if token == "" {
		return "", ErrNoSession
	}

	if sub := subjectClaim(token); sub != "" {
		s.cacheOwnerID(sub)
		return sub, nil
	}

	if transport == nil {
		return "", fmt.Errorf("owner id not resolvable: transport not wired")
	}
	id, err := s.ownerIDFromProcedure(ctx, transport)
	if backend.IsAuthFailure(err) {
		if refreshErr := s.Refresh(ctx); refreshErr != nil {
			s.SignOut()
			return "", refreshErr
		}
		id, err = s.ownerIDFromProcedure(ctx, transport)
	}
	if err != nil {
		return "", err
	}
	s.cacheOwnerID(id)
	return id, nil
}

func (s *Session) ownerIDFromProcedure(ctx context.Context, transport ProcedureCaller) (string, error) {
	raw, err := transport.CallProcedure(ctx, "account_owner_id", map[string]string{}, true)
	if err != nil {
		return "", err
	}
	// The procedure returns either a bare JSON string or {"owner_id": "..."}.
	var id string
	if err := json.Unmarshal(raw, &id); err == nil && id != "" {
		return id, nil
	}
	var payload struct {
		OwnerID string `json:"owner_id"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.OwnerID != "" {
		return payload.OwnerID, nil
	}
	return "", fmt.Errorf("owner id missing from response")
}

func (s *Session) cacheOwnerID(id string) {
	s.mu.Lock()
	s.ownerID = id
	s.mu.Unlock()
	_ = s.store.Set(ownerIDKey, id)
}

func (s *Session) setTokens(resp tokenResponse) {
	s.mu.Lock()
	s.accessToken = resp.AccessToken
	s.refreshToken = resp.RefreshToken
	s.ownerID = ""
	s.mu.Unlock()

	_ = s.store.Set(accessTokenKey, resp.AccessToken)
	_ = s.store.Set(refreshTokenKey, resp.RefreshToken)
	_ = s.store.Remove(ownerIDKey)
}

func (s *Session) tokenRequest(ctx context.Context, grantType string, body map[string]string) (tokenResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return tokenResponse{}, err
	}
	endpoint := fmt.Sprintf("%s/auth/v1/token?grant_type=%s", s.baseURL, grantType)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(raw))
	if err != nil {
		return tokenResponse{}, err
	}
	req.Header.Set("apikey", s.publicKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tokenResponse{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tokenResponse{}, fmt.Errorf("token request returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out tokenResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return tokenResponse{}, fmt.Errorf("failed to unmarshal token response: %w", err)
	}
	if out.AccessToken == "" {
		return tokenResponse{}, fmt.Errorf("token response missing access token")
	}
	return out, nil
}

// subjectClaim extracts the sub claim without verifying the signature. The
// client never holds the signing secret; the backend verifies on every call.
func subjectClaim(tokenString string) string {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return ""
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

// TokenExpiry returns the access token's expiry, or zero when unknown.
// The UI uses it to pre-empt refresh before long playback sessions.
func (s *Session) TokenExpiry() time.Time {
	token := s.AccessToken()
	if token == "" {
		return time.Time{}
	}
	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
