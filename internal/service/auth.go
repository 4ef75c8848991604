package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"salesflow/internal/config"
	"salesflow/internal/dto/req"
	"salesflow/internal/dto/resp"
	"salesflow/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	RedisKeyPrefix = "salesflow:auth:session:"
	Issuer         = "salesflow-admin"
	operatorID     = "operator"
	operatorRole   = "admin"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrSessionExpired     = errors.New("session expired")
)

// RefreshStore keeps the single live refresh token per operator.
type RefreshStore interface {
	Set(ctx context.Context, userID, token string, ttl time.Duration) error
	Get(ctx context.Context, userID string) (string, error)
	Delete(ctx context.Context, userID string) error
}

type RedisRefreshStore struct {
	rdb *redis.Client
}

func NewRedisRefreshStore(rdb *redis.Client) *RedisRefreshStore {
	return &RedisRefreshStore{rdb: rdb}
}

func (s *RedisRefreshStore) Set(ctx context.Context, userID, token string, ttl time.Duration) error {
	return s.rdb.Set(ctx, RedisKeyPrefix+userID, token, ttl).Err()
}

func (s *RedisRefreshStore) Get(ctx context.Context, userID string) (string, error) {
	token, err := s.rdb.Get(ctx, RedisKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionExpired
	}
	return token, err
}

func (s *RedisRefreshStore) Delete(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, RedisKeyPrefix+userID).Err()
}

// MemoryRefreshStore serves single-node deployments without Redis.
type MemoryRefreshStore struct {
	mu     sync.Mutex
	tokens map[string]memoryToken
}

type memoryToken struct {
	value   string
	expires time.Time
}

func NewMemoryRefreshStore() *MemoryRefreshStore {
	return &MemoryRefreshStore{tokens: make(map[string]memoryToken)}
}

func (s *MemoryRefreshStore) Set(_ context.Context, userID, token string, ttl time.Duration) error {
	s.mu.Lock()
	s.tokens[userID] = memoryToken{value: token, expires: time.Now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryRefreshStore) Get(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[userID]
	if !ok || time.Now().After(t.expires) {
		delete(s.tokens, userID)
		return "", ErrSessionExpired
	}
	return t.value, nil
}

func (s *MemoryRefreshStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	delete(s.tokens, userID)
	s.mu.Unlock()
	return nil
}

type AuthService struct {
	store           RefreshStore
	username        string
	password        string
	signingKey      []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

type UserClaims struct {
	UserID   string `json:"uid"`
	Username string `json:"sub"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// NewAuthService authenticates the single configured operator. Without a
// signing key a random one is generated, so tokens do not survive restarts.
func NewAuthService(cfg config.AuthConfig, store RefreshStore) *AuthService {
	key := []byte(cfg.SigningKey)
	if len(key) == 0 {
		logger.Warn("auth.signing_key is empty, using an ephemeral key")
		key = []byte(uuid.NewString() + uuid.NewString())
	}
	if store == nil {
		store = NewMemoryRefreshStore()
	}
	access, refresh := cfg.AccessTokenTTL, cfg.RefreshTokenTTL
	if access <= 0 {
		access = 15 * time.Minute
	}
	if refresh <= 0 {
		refresh = 7 * 24 * time.Hour
	}
	return &AuthService{
		store:           store,
		username:        cfg.AdminUser,
		password:        cfg.AdminPass,
		signingKey:      key,
		accessTokenTTL:  access,
		refreshTokenTTL: refresh,
	}
}

// Login checks the operator credentials. With no credentials configured
// nobody can log in.
func (s *AuthService) Login(ctx context.Context, r req.LoginReq) (*resp.TokenResp, error) {
	if s.username == "" || s.password == "" {
		return nil, ErrInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(r.Username), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(r.Password), []byte(s.password)) == 1
	if !userOK || !passOK {
		return nil, ErrInvalidCredentials
	}

	tokens, err := s.generateTokens(ctx, operatorID, r.Username, operatorRole)
	if err != nil {
		return nil, err
	}
	tokens.User = resp.UserInfo{ID: operatorID, Username: r.Username, Role: operatorRole}
	return tokens, nil
}

// ParseToken validates a token signed by this service.
func (s *AuthService) ParseToken(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, ErrTokenInvalid
	}
	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Refresh rotates the token pair. Only the most recently issued refresh
// token is accepted.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*resp.TokenResp, error) {
	claims, err := s.ParseToken(refreshToken)
	if err != nil {
		return nil, err
	}

	stored, err := s.store.Get(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(refreshToken)) != 1 {
		return nil, ErrTokenInvalid
	}

	tokens, err := s.generateTokens(ctx, claims.UserID, claims.Username, claims.Role)
	if err != nil {
		return nil, err
	}
	tokens.User = resp.UserInfo{ID: claims.UserID, Username: claims.Username, Role: claims.Role}
	return tokens, nil
}

func (s *AuthService) Logout(ctx context.Context, userID string) error {
	return s.store.Delete(ctx, userID)
}

func (s *AuthService) generateTokens(ctx context.Context, userID, username, role string) (*resp.TokenResp, error) {
	now := time.Now()
	atClaims := UserClaims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, atClaims).SignedString(s.signingKey)
	if err != nil {
		return nil, err
	}

	rtClaims := UserClaims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
			ID:        uuid.New().String(),
		},
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, rtClaims).SignedString(s.signingKey)
	if err != nil {
		return nil, err
	}

	if err := s.store.Set(ctx, userID, refreshToken, s.refreshTokenTTL); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &resp.TokenResp{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.accessTokenTTL.Seconds()),
	}, nil
}
