// Package security issues and verifies the session tokens returned by
// join() and required by submit()/perceive(), and revokes them. Each
// token-id has a bcrypt-hashed verifier that revocation checks; the
// verifier is a hash of the token-id itself, so any caller who knows a live
// token-id can revoke that session.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// SessionClaims identifies the shard and process a session token is bound
// to, plus its validity window.
type SessionClaims struct {
	TokenID   string `json:"tid"`
	ShardID   string `json:"sid"`
	ProcessID string `json:"pid"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	Issuer    string `json:"iss"`
}

// SessionToken is a signed token issued by the broker.
type SessionToken struct {
	Token     string `json:"token"`
	TokenID   string `json:"token_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// BrokerConfig configures the session broker.
type BrokerConfig struct {
	HMACSecret          string
	PreviousHMACSecret  string        // previous key for rotation grace window
	RotationGracePeriod time.Duration // how long the previous key remains valid
	DefaultTTL          time.Duration
	Issuer              string
}

// Broker issues and validates HMAC-signed session tokens.
type Broker struct {
	mu         sync.RWMutex
	secret     []byte
	prevSecret []byte
	graceUntil time.Time
	defaultTTL time.Duration
	issuer     string

	activeSessions map[string]*SessionClaims

	// verifierHash holds a bcrypt hash of each active tokenID, which
	// RevokeSession compares against the tokenID it is given.
	verifierHash map[string]string

	revokedSessions map[string]time.Time
}

// NewBroker creates a new session broker.
func NewBroker(cfg BrokerConfig) *Broker {
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "segfault-engine"
	}
	if cfg.RotationGracePeriod == 0 {
		cfg.RotationGracePeriod = 24 * time.Hour
	}

	secret := []byte(cfg.HMACSecret)
	if len(secret) == 0 {
		secret = []byte("segfault-dev-hmac-secret-change-in-production")
	}

	var prevSecret []byte
	var graceUntil time.Time
	if cfg.PreviousHMACSecret != "" {
		prevSecret = []byte(cfg.PreviousHMACSecret)
		graceUntil = time.Now().Add(cfg.RotationGracePeriod)
	}

	return &Broker{
		secret:          secret,
		prevSecret:      prevSecret,
		graceUntil:      graceUntil,
		defaultTTL:      cfg.DefaultTTL,
		issuer:          cfg.Issuer,
		activeSessions:  make(map[string]*SessionClaims),
		verifierHash:    make(map[string]string),
		revokedSessions: make(map[string]time.Time),
	}
}

// IssueSession issues a session token bound to a (shard, process) pair, as
// returned by join().
func (b *Broker) IssueSession(shardID, processID string) (*SessionToken, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	idLen := len(processID)
	if idLen > 8 {
		idLen = 8
	}
	tokenID := fmt.Sprintf("sess_%s_%d", processID[:idLen], now.UnixNano()%1e9)

	claims := &SessionClaims{
		TokenID:   tokenID,
		ShardID:   shardID,
		ProcessID: processID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(b.defaultTTL).Unix(),
		Issuer:    b.issuer,
	}

	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize session claims: %w", err)
	}

	sig := b.sign(claimsJSON)
	tokenStr := base64.RawURLEncoding.EncodeToString(claimsJSON) +
		"." +
		base64.RawURLEncoding.EncodeToString(sig)

	hash, err := bcrypt.GenerateFromPassword([]byte(tokenID), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash session verifier: %w", err)
	}

	b.activeSessions[tokenID] = claims
	b.verifierHash[tokenID] = string(hash)

	return &SessionToken{
		Token:     tokenStr,
		TokenID:   tokenID,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// VerifySession validates a token's signature, expiry, and revocation
// status, trying the current key first and falling back to the previous
// key during a rotation's grace window.
func (b *Broker) VerifySession(tokenStr string) (*SessionClaims, error) {
	parts := splitToken(tokenStr)
	if len(parts) != 2 {
		return nil, errors.New("invalid token format")
	}

	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid token encoding: %w", err)
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}

	expectedSig := b.sign(claimsJSON)
	valid := hmac.Equal(sig, expectedSig)

	if !valid {
		b.mu.RLock()
		hasPrev := len(b.prevSecret) > 0 && time.Now().Before(b.graceUntil)
		prev := b.prevSecret
		b.mu.RUnlock()

		if hasPrev {
			prevMac := hmac.New(sha256.New, prev)
			prevMac.Write(claimsJSON)
			if hmac.Equal(sig, prevMac.Sum(nil)) {
				valid = true
			}
		}
	}

	if !valid {
		return nil, errors.New("invalid session signature")
	}

	var claims SessionClaims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, fmt.Errorf("invalid session claims: %w", err)
	}

	if time.Now().Unix() > claims.ExpiresAt {
		return nil, errors.New("session expired")
	}

	b.mu.RLock()
	_, revoked := b.revokedSessions[claims.TokenID]
	b.mu.RUnlock()
	if revoked {
		return nil, errors.New("session has been revoked")
	}

	return &claims, nil
}

// RevokeSession revokes a session by tokenID. An ID with no active session
// is rejected; for a known ID the bcrypt check always passes, since the
// verifier is a hash of that same ID.
func (b *Broker) RevokeSession(tokenID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	hash, known := b.verifierHash[tokenID]
	if !known {
		return errors.New("unknown session")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(tokenID)); err != nil {
		return errors.New("session verifier mismatch")
	}

	delete(b.activeSessions, tokenID)
	delete(b.verifierHash, tokenID)
	b.revokedSessions[tokenID] = time.Now()
	return nil
}

// RevokeAllForProcess revokes every session bound to a process-id. The
// supervisor does not call it: the tokens of a killed, surviving or ghosted
// process keep verifying until they expire, and Submit/Perceive reject them
// because the process is no longer live.
func (b *Broker) RevokeAllForProcess(processID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	now := time.Now()
	for tokenID, claims := range b.activeSessions {
		if claims.ProcessID == processID {
			delete(b.activeSessions, tokenID)
			delete(b.verifierHash, tokenID)
			b.revokedSessions[tokenID] = now
			count++
		}
	}
	return count
}

// SweepExpired removes expired sessions from the active set, returning the
// number swept. Nothing in the engine calls it on a schedule.
func (b *Broker) SweepExpired() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().Unix()
	swept := 0
	for tokenID, claims := range b.activeSessions {
		if now > claims.ExpiresAt {
			delete(b.activeSessions, tokenID)
			delete(b.verifierHash, tokenID)
			swept++
		}
	}

	cutoff := time.Now().Add(-1 * time.Hour)
	for tokenID, revokedAt := range b.revokedSessions {
		if revokedAt.Before(cutoff) {
			delete(b.revokedSessions, tokenID)
		}
	}

	return swept
}

// RotateKey atomically rotates the HMAC signing secret. The previous key
// remains valid for 24 hours so tokens issued just before rotation still
// verify.
func (b *Broker) RotateKey(newSecret string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.prevSecret = b.secret
	b.graceUntil = time.Now().Add(24 * time.Hour)
	b.secret = []byte(newSecret)
}

// ActiveCount returns the number of active sessions, for telemetry.
func (b *Broker) ActiveCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.activeSessions)
}

func (b *Broker) sign(data []byte) []byte {
	mac := hmac.New(sha256.New, b.secret)
	mac.Write(data)
	return mac.Sum(nil)
}

func splitToken(token string) []string {
	for i := len(token) - 1; i >= 0; i-- {
		if token[i] == '.' {
			return []string{token[:i], token[i+1:]}
		}
	}
	return []string{token}
}
