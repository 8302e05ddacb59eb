// Package session manages the two-step OTP/TOTP login handshake with the
// Definedge auth service, holds the resulting credential pair, and persists
// it across process restarts. Every other component obtains request
// authorization through Manager.AuthHeaders and never touches the
// credentials directly.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"dartbot/internal/domain"
)

const requestTimeout = 20 * time.Second

// Credentials are the write-once API credentials from configuration.
type Credentials struct {
	APIToken   string
	APISecret  string
	TOTPSecret string
}

// Opts configures a Manager.
type Opts struct {
	Credentials Credentials
	LoginURL    string // step-1 base; the api token is appended as a path segment
	TokenURL    string // step-2 endpoint
	PersistPath string // durable session record location
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// LoginResult is the outcome of the one-shot Login helper. When the TOTP
// secret is absent (or not preferred) the handshake pauses after step 1:
// Authenticated is false and OTPToken carries the challenge the caller must
// complete manually via CompleteChallenge.
type LoginResult struct {
	Authenticated bool
	OTPToken      string
}

// Manager owns the session credential pair. All mutating operations are
// serialized by an internal mutex so two concurrent logins cannot race on
// the persisted record.
type Manager struct {
	creds       Credentials
	loginURL    string
	tokenURL    string
	persistPath string
	httpClient  *http.Client
	log         *slog.Logger

	mu         sync.Mutex
	sessionKey string
	userToken  string
	userID     string
	lastLogin  time.Time
}

// NewManager creates a Manager and best-effort restores any previously
// persisted session. A missing or corrupt record yields an empty session,
// never an error.
func NewManager(opts Opts) *Manager {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		creds:       opts.Credentials,
		loginURL:    strings.TrimRight(opts.LoginURL, "/"),
		tokenURL:    opts.TokenURL,
		persistPath: opts.PersistPath,
		httpClient:  httpClient,
		log:         logger.With("component", "session"),
	}

	switch res := loadRecord(m.persistPath); res.Status {
	case LoadLoaded:
		m.sessionKey = res.Record.APISessionKey
		m.userToken = res.Record.Susertoken
		m.userID = res.Record.UID
		m.lastLogin = time.Unix(res.Record.LastLoginTS, 0)
		m.log.Info("restored persisted session", "uid", m.userID)
	case LoadCorrupt:
		m.log.Warn("ignoring unreadable session record", "reason", res.Reason)
	}

	return m
}

// ---------------------------------------------------------------------------
// Login handshake
// ---------------------------------------------------------------------------

// RequestChallenge initiates the login handshake and returns the opaque OTP
// challenge token issued by the auth service.
func (m *Manager) RequestChallenge(ctx context.Context) (string, error) {
	if m.creds.APIToken == "" {
		return "", &domain.ConfigError{Field: "api_token"}
	}
	if m.creds.APISecret == "" {
		return "", &domain.ConfigError{Field: "api_secret"}
	}

	const op = "login step 1"
	url := m.loginURL + "/" + m.creds.APIToken

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &domain.ProtocolError{Op: op, Body: err.Error()}
	}
	req.Header.Set("api_secret", m.creds.APISecret)

	body, perr := m.exchange(op, req)
	if perr != nil {
		return "", perr
	}

	var resp struct {
		OTPToken string `json:"otp_token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &domain.ProtocolError{Op: op, Body: "invalid JSON: " + domain.Snippet(body)}
	}
	if resp.OTPToken == "" {
		return "", &domain.ProtocolError{Op: op, Body: "otp_token missing in response: " + domain.Snippet(body)}
	}

	m.log.Info("otp challenge issued")
	return resp.OTPToken, nil
}

// CompleteChallenge exchanges the challenge token and one-time code for
// session credentials, persists them, and marks the session authenticated.
// It is atomic from the caller's perspective: either both credentials are
// set and persisted, or the session is left untouched.
func (m *Manager) CompleteChallenge(ctx context.Context, otpToken, code string) error {
	const op = "login step 2"

	payload, _ := json.Marshal(map[string]string{
		"otp_token": otpToken,
		"otp":       code,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, bytes.NewReader(payload))
	if err != nil {
		return &domain.ProtocolError{Op: op, Body: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	body, perr := m.exchange(op, req)
	if perr != nil {
		return perr
	}

	var resp struct {
		Stat          string `json:"stat"`
		APISessionKey string `json:"api_session_key"`
		Susertoken    string `json:"susertoken"`
		UID           string `json:"uid"`
		ActID         string `json:"actid"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return &domain.ProtocolError{Op: op, Body: "invalid JSON: " + domain.Snippet(body)}
	}
	if !strings.EqualFold(resp.Stat, "ok") {
		return &domain.ProtocolError{Op: op, Body: "stat not ok: " + domain.Snippet(body)}
	}
	if resp.APISessionKey == "" || resp.Susertoken == "" {
		return &domain.ProtocolError{Op: op, Body: "missing api_session_key or susertoken in response"}
	}

	uid := resp.UID
	if uid == "" {
		uid = resp.ActID
	}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Persist first: if the write fails the in-memory session stays
	// unauthenticated, keeping state and disk in agreement.
	rec := Record{
		APISessionKey: resp.APISessionKey,
		Susertoken:    resp.Susertoken,
		UID:           uid,
		LastLoginTS:   now.Unix(),
	}
	if err := saveRecord(m.persistPath, rec); err != nil {
		return err
	}

	m.sessionKey = resp.APISessionKey
	m.userToken = resp.Susertoken
	m.userID = uid
	m.lastLogin = now

	m.log.Info("login complete", "uid", uid)
	return nil
}

// CompleteChallengeTOTP derives the current time-based code from the
// configured TOTP secret and completes the challenge with it.
func (m *Manager) CompleteChallengeTOTP(ctx context.Context, otpToken string) error {
	if m.creds.TOTPSecret == "" {
		return &domain.ConfigError{Field: "totp_secret"}
	}
	code, err := totp.GenerateCode(m.creds.TOTPSecret, time.Now())
	if err != nil {
		return &domain.ConfigError{Field: "totp_secret"}
	}
	return m.CompleteChallenge(ctx, otpToken, code)
}

// Login runs the full handshake. With preferTOTP and a configured TOTP
// secret it completes automatically; otherwise it returns the challenge
// token for manual completion (not an error).
func (m *Manager) Login(ctx context.Context, preferTOTP bool) (LoginResult, error) {
	otpToken, err := m.RequestChallenge(ctx)
	if err != nil {
		return LoginResult{}, err
	}

	if preferTOTP && m.creds.TOTPSecret != "" {
		if err := m.CompleteChallengeTOTP(ctx, otpToken); err != nil {
			return LoginResult{}, err
		}
		return LoginResult{Authenticated: true}, nil
	}

	return LoginResult{OTPToken: otpToken}, nil
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// AuthHeaders returns the authorization headers for trading endpoints.
// Callers must fetch them immediately before each request so a logout or
// re-login is observed on the next call.
func (m *Manager) AuthHeaders() (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionKey == "" || m.userToken == "" {
		return nil, &domain.AuthError{Op: "auth headers"}
	}
	return map[string]string{"Authorization": m.sessionKey}, nil
}

// StreamToken returns the secondary token used for websocket subscriptions.
func (m *Manager) StreamToken() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionKey == "" || m.userToken == "" {
		return "", &domain.AuthError{Op: "stream token"}
	}
	return m.userToken, nil
}

// IsLoggedIn reports whether both session credentials are present.
func (m *Manager) IsLoggedIn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionKey != "" && m.userToken != ""
}

// UserID returns the broker user id from the last login, if any.
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// LastLogin returns the timestamp of the last successful login.
func (m *Manager) LastLogin() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLogin
}

// Logout clears the in-memory session and deletes the durable record. It is
// safe to call when already logged out.
func (m *Manager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessionKey = ""
	m.userToken = ""
	m.userID = ""
	m.lastLogin = time.Time{}

	return deleteRecord(m.persistPath)
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

// exchange performs one handshake HTTP round trip. Transport failures and
// non-2xx statuses both surface as ProtocolError: the handshake is
// user-driven and retried by re-invoking from the top, never automatically.
func (m *Manager) exchange(op string, req *http.Request) ([]byte, *domain.ProtocolError) {
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ProtocolError{Op: op, Body: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ProtocolError{Op: op, Body: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.ProtocolError{Op: op, StatusCode: resp.StatusCode, Body: domain.Snippet(body)}
	}
	return body, nil
}
