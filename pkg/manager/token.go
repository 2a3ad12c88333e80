package manager

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
)

// TokenManager manages the tokens managers present to join the control plane
type TokenManager struct {
	clock  clock.Clock
	tokens map[string]*JoinToken
	mu     sync.RWMutex
}

// JoinToken represents a token for joining the control plane
type JoinToken struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewTokenManager creates a new token manager
func NewTokenManager(clk clock.Clock) *TokenManager {
	return &TokenManager{
		clock:  clk,
		tokens: make(map[string]*JoinToken),
	}
}

// GenerateToken generates a new join token valid for ttl
func (tm *TokenManager) GenerateToken(ttl time.Duration) (*JoinToken, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return nil, errors.Annotate(err, "generating random token")
	}

	now := tm.clock.Now()
	jt := &JoinToken{
		Token:     hex.EncodeToString(bytes),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	tm.mu.Lock()
	tm.tokens[jt.Token] = jt
	tm.mu.Unlock()

	return jt, nil
}

// ValidateToken validates a join token
func (tm *TokenManager) ValidateToken(token string) error {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	jt, exists := tm.tokens[token]
	if !exists {
		return errors.Unauthorizedf("invalid token")
	}
	if tm.clock.Now().After(jt.ExpiresAt) {
		return errors.Unauthorizedf("token expired")
	}
	return nil
}

// RevokeToken revokes a join token
func (tm *TokenManager) RevokeToken(token string) {
	tm.mu.Lock()
	delete(tm.tokens, token)
	tm.mu.Unlock()
}

// CleanupExpiredTokens removes expired tokens
func (tm *TokenManager) CleanupExpiredTokens() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := tm.clock.Now()
	for token, jt := range tm.tokens {
		if now.After(jt.ExpiresAt) {
			delete(tm.tokens, token)
		}
	}
}
