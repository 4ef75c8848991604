package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"salesflow/internal/config"
	"salesflow/internal/dto/req"
)

func newTestAuth() *AuthService {
	return NewAuthService(config.AuthConfig{
		AdminUser:       "ops",
		AdminPass:       "pa55",
		SigningKey:      "test-signing-key",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	}, NewMemoryRefreshStore())
}

func TestAuthService_LoginAndParse(t *testing.T) {
	s := newTestAuth()
	ctx := context.Background()

	if _, err := s.Login(ctx, req.LoginReq{Username: "ops", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v", err)
	}

	tokens, err := s.Login(ctx, req.LoginReq{Username: "ops", Password: "pa55"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := s.ParseToken(tokens.AccessToken)
	if err != nil || claims.Username != "ops" || claims.Role != "admin" {
		t.Errorf("claims = %+v, %v", claims, err)
	}

	other := NewAuthService(config.AuthConfig{SigningKey: "another-key"}, nil)
	if _, err := other.ParseToken(tokens.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("foreign key accepted: %v", err)
	}
}

func TestAuthService_NoCredentialsConfigured(t *testing.T) {
	s := NewAuthService(config.AuthConfig{}, nil)
	if _, err := s.Login(context.Background(), req.LoginReq{Username: "", Password: ""}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v", err)
	}
}

func TestAuthService_RefreshRotatesAndLogoutRevokes(t *testing.T) {
	s := newTestAuth()
	ctx := context.Background()
	first, _ := s.Login(ctx, req.LoginReq{Username: "ops", Password: "pa55"})

	second, err := s.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := s.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("reused refresh token err = %v", err)
	}

	if err := s.Logout(ctx, second.User.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("after logout err = %v", err)
	}
}
