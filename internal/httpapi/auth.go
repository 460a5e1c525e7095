package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"inkpress/backend/internal/domain"
)

// AdminStore is the slice of the repository the auth layer needs.
type AdminStore interface {
	GetAdminByEmail(ctx context.Context, email string) (*domain.AdminAccount, error)
	CreateAdmin(ctx context.Context, admin domain.AdminAccount) error
}

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	admins   AdminStore
}

type adminClaims struct {
	jwtlib.RegisteredClaims
	Name string `json:"name"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, admins AdminStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		admins:   admins,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || strings.TrimSpace(req.Password) == "" {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}

	admin, err := a.admins.GetAdminByEmail(ctx, email)
	if err != nil {
		// Not-found and store failures both collapse into the same message
		// so login responses don't reveal which emails exist.
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}

	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(req.Password)) != nil {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(admin, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		Admin:       *admin,
	}, nil
}

// Verify resolves the account behind a parsed actor, letting clients check
// that a stored token still maps to a live admin.
func (a *AuthManager) Verify(ctx context.Context, actor domain.Actor) (*domain.AdminAccount, error) {
	admin, err := a.admins.GetAdminByEmail(ctx, actor.Email)
	if err != nil {
		return nil, errors.New("account no longer exists")
	}
	return admin, nil
}

// EnsureAdmin creates the admin account when it does not exist yet. Used at
// startup to bootstrap the first login against a fresh database.
func (a *AuthManager) EnsureAdmin(ctx context.Context, email, name, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return errors.New("email and password are required")
	}
	if _, err := a.admins.GetAdminByEmail(ctx, email); err == nil {
		return nil
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	return a.admins.CreateAdmin(ctx, domain.AdminAccount{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
	})
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &adminClaims{}
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
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Email: sub, Name: claims.Name}, nil
}

func (a *AuthManager) sign(admin *domain.AdminAccount, expiresAt time.Time) (string, error) {
	claims := adminClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   admin.Email,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "inkpress",
		},
		Name: admin.Name,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
