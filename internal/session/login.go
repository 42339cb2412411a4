package session

import (
	"context"
	"fmt"

	"github.com/alexedwards/argon2id"

	"github.com/fieldtrack/attendance/internal/domain"
	"github.com/fieldtrack/attendance/pkg/auth"
	"github.com/fieldtrack/attendance/pkg/config"
)

type UserFinder interface {
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
}

type LoginRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	DeviceName        string `json:"device_name,omitempty"`
}

type LoginResponse struct {
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	ExpiresIn    int64            `json:"expires_in"`
	User         *domain.UserInfo `json:"user"`
}

// Authenticator handles credential verification and token issuance. The
// minted access token is opaque to the Manager, which only ever sees its hash.
type Authenticator struct {
	users   UserFinder
	manager *Manager
	cfg     config.AuthConfig
}

func NewAuthenticator(users UserFinder, manager *Manager, cfg config.AuthConfig) *Authenticator {
	return &Authenticator{users: users, manager: manager, cfg: cfg}
}

func (a *Authenticator) Login(ctx context.Context, req LoginRequest, ip, userAgent string) (*LoginResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, &domain.ValidationError{Field: "email/password", Message: "required"}
	}

	user, err := a.users.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrInvalidCredentials
	}

	valid, err := argon2id.ComparePasswordAndHash(req.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		return nil, domain.ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, domain.ErrAccountDeactivated
	}

	accessToken, err := auth.NewAccessToken(user.ID, user.Email, user.Role, a.cfg.JWTSecret, a.cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	refreshToken, err := auth.NewAccessToken(user.ID, user.Email, "refresh", a.cfg.JWTSecret, a.cfg.RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}

	if _, err := a.manager.Create(ctx, user.ID, accessToken, Metadata{
		DeviceFingerprint: req.DeviceFingerprint,
		DeviceName:        req.DeviceName,
		IPAddress:         ip,
		UserAgent:         userAgent,
	}); err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(a.cfg.AccessTokenTTL.Seconds()),
		User:         user.ToUserInfo(),
	}, nil
}
