package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"tokoledger/internal/credential"
	"tokoledger/internal/domain"
	"tokoledger/internal/store"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	repo     store.Repository
	log      zerolog.Logger
}

type ledgerClaims struct {
	jwtlib.RegisteredClaims
	Role   domain.Role `json:"role"`
	UserID int64       `json:"uid"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, repo store.Repository, log zerolog.Logger) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		repo:     repo,
		log:      log,
	}
}

// Authenticate resolves a username/password pair to a user. Verified legacy
// hashes are transparently rewritten under the current scheme. Employees are
// turned away while the store is closed; owners always get in.
func (a *AuthManager) Authenticate(ctx context.Context, req domain.LoginRequest) (*domain.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := a.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := credential.Verify(user.Password, req.Password); err != nil {
		return nil, ErrInvalidCredentials
	}

	if credential.NeedsUpgrade(user.Password) {
		if hash, err := credential.Hash(req.Password); err == nil {
			if err := a.repo.UpdateUserPassword(ctx, user.ID, hash); err != nil {
				a.log.Warn().Err(err).Str("username", user.Username).Msg("legacy credential rehash failed")
			} else {
				user.Password = hash
				a.log.Info().Str("username", user.Username).Msg("legacy credential upgraded")
			}
		}
	}

	if user.Role == domain.RoleEmployee {
		status, err := a.repo.StoreStatus(ctx)
		if err != nil {
			return nil, err
		}
		if status != domain.StoreOpen {
			return nil, store.ErrStoreClosed
		}
	}

	return user, nil
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	user, err := a.Authenticate(ctx, req)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		UserID:      user.ID,
		Role:        user.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &ledgerClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" || !claims.Role.Valid() {
		return domain.Actor{}, errors.New("invalid token claims")
	}
	return domain.Actor{ID: claims.UserID, Username: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(user *domain.User, expiresAt time.Time) (string, error) {
	claims := ledgerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "tokoledger",
		},
		Role:   user.Role,
		UserID: user.ID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// EnsureDefaultOwner creates the bootstrap owner account when the user table
// is empty, so a fresh deployment is reachable.
func (a *AuthManager) EnsureDefaultOwner(ctx context.Context, username, password string) error {
	count, err := a.repo.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if username == "" || password == "" {
		return errors.New("default owner credentials not configured")
	}

	hash, err := credential.Hash(password)
	if err != nil {
		return err
	}
	if _, err := a.repo.CreateUser(ctx, domain.User{
		Username: username,
		Password: hash,
		Role:     domain.RoleOwner,
	}); err != nil {
		if errors.Is(err, store.ErrDuplicateIdentity) {
			return nil
		}
		return err
	}

	a.log.Warn().
		Str("username", username).
		Msg("bootstrap owner account created, change its password")
	return nil
}
