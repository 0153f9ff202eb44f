// Package auth gates access to the probe HTTP API with bearer tokens.
// Adapted field-for-field from the teacher's publish-token manager;
// the token now authorizes reading/probing instead of RTMP publishing.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"mp4probe/pkg/models"
)

// Manager issues and validates API access tokens.
type Manager struct {
	tokens map[string]*models.AccessToken
	mu     sync.RWMutex

	defaultExpiration time.Duration
	maxExpiration     time.Duration
}

// New creates a new auth manager with the given default/max expiration
// windows, following the teacher's constructor shape.
func New(defaultExpiration, maxExpiration time.Duration) *Manager {
	return &Manager{
		tokens:            make(map[string]*models.AccessToken),
		defaultExpiration: defaultExpiration,
		maxExpiration:     maxExpiration,
	}
}

// GenerateToken creates a new access token, capped at maxExpiration.
func (m *Manager) GenerateToken(expiresIn int) (*models.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("auth: failed to generate token: %w", err)
	}
	tokenString := hex.EncodeToString(tokenBytes)

	var expiration time.Duration
	if expiresIn > 0 {
		expiration = time.Duration(expiresIn) * time.Second
	} else {
		expiration = m.defaultExpiration
	}
	if expiration > m.maxExpiration {
		expiration = m.maxExpiration
	}

	token := &models.AccessToken{
		Token:     tokenString,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(expiration),
	}
	m.tokens[tokenString] = token

	go m.cleanupToken(tokenString, expiration)

	return token, nil
}

// ValidateToken checks whether tokenString is present and unexpired.
func (m *Manager) ValidateToken(tokenString string) error {
	m.mu.RLock()
	token, exists := m.tokens[tokenString]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("auth: invalid token")
	}
	if !token.IsValid() {
		return fmt.Errorf("auth: token expired")
	}
	return nil
}

// RevokeToken removes a token immediately.
func (m *Manager) RevokeToken(tokenString string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, tokenString)
}

func (m *Manager) cleanupToken(tokenString string, expiration time.Duration) {
	time.Sleep(expiration + 1*time.Minute)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, tokenString)
}

// CleanupExpiredTokens removes all expired tokens; intended to be
// called periodically.
func (m *Manager) CleanupExpiredTokens() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for tokenString, token := range m.tokens {
		if now.After(token.ExpiresAt) {
			delete(m.tokens, tokenString)
		}
	}
}

// GetTokenCount returns the number of active tokens.
func (m *Manager) GetTokenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tokens)
}
