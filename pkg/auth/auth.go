// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package auth verifies the bearer token a client presents in its first
// frame. Verification either checks an hmac signed token locally or defers
// to a remote auth service.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/AccelByte/realtime-matchmaker/pkg/config"
	"github.com/AccelByte/realtime-matchmaker/pkg/models"
)

type AuthService interface {
	// Authenticate resolves a bearer token to a player id. Bad tokens return
	// ErrAuthFailed; anything else is an infrastructure error.
	Authenticate(ctx context.Context, token string) (string, error)
}

// NewAuthService selects the verification backend from configuration.
func NewAuthService(cfg *config.Config) AuthService {
	if cfg.AuthMode == config.AuthModeRemote {
		return NewRemoteAuthService(cfg.AuthRemoteURL, cfg.AuthTimeout())
	}
	return NewJWTAuthService(cfg.JWTSecret)
}

// JWTAuthService validates hmac signed tokens locally. The subject claim
// carries the player id.
type JWTAuthService struct {
	secret []byte
}

var _ AuthService = (*JWTAuthService)(nil)

func NewJWTAuthService(secret string) *JWTAuthService {
	return &JWTAuthService{secret: []byte(secret)}
}

func (s *JWTAuthService) Authenticate(_ context.Context, token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", models.ErrAuthFailed
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", models.ErrAuthFailed
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", models.ErrAuthFailed
	}

	return subject, nil
}

// RemoteAuthService defers verification to an external endpoint.
type RemoteAuthService struct {
	url        string
	httpClient *http.Client
}

var _ AuthService = (*RemoteAuthService)(nil)

func NewRemoteAuthService(url string, timeout time.Duration) *RemoteAuthService {
	return &RemoteAuthService{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *RemoteAuthService) Authenticate(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, nil)
	if err != nil {
		return "", fmt.Errorf("build verification request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", models.ErrAuthFailed
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("auth service answered %d", resp.StatusCode)
	}

	var verdict struct {
		PlayerID string `json:"player_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return "", fmt.Errorf("decode auth verdict: %w", err)
	}
	if verdict.PlayerID == "" {
		return "", models.ErrAuthFailed
	}

	return verdict.PlayerID, nil
}

// IssueToken mints a development token for a player id. Load tooling and
// tests use this; production tokens come from the real auth service.
func IssueToken(secret string, playerID string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   playerID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
