// Package token implements the TokenService: access/refresh
// token minting, verification, rotation and revocation, plus the
// entity-origin token variant used by workflow login flows, using the
// same jwt.RegisteredClaims-embedding/HS256-signing idiom as the rest
// of this codebase's JWT handling.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

const (
	accessTokenTTL = 30 * time.Minute

	adminIssuer  = "r_data_core_admin"
	entityIssuer = "r_data_core_entity"
)

// AccessClaims is the admin/human-user access token shape:
// {sub, name, role, permissions[], iat, exp}, issuer r_data_core_admin.
type AccessClaims struct {
	Name        string   `json:"name,omitempty"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// EntityClaims is the entity-origin token shape:
// {sub, iss, entity_type, extra, iat, exp}, issuer r_data_core_entity,
// signed with the derived secret.
type EntityClaims struct {
	EntityType string                 `json:"entity_type"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
	jwt.RegisteredClaims
}

// Execer is the subset of *sqlx.DB / *sqlx.Tx a RefreshTokenStore needs
// to run Create or Revoke either standalone or inside an in-flight
// transaction. A nil Execer tells the store to use its own connection.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Tx is an in-flight transaction returned by RefreshTokenStore.BeginTx.
// Refresh uses it to revoke the presented token and insert its
// replacement atomically: either both land, or neither does.
type Tx interface {
	Execer
	Commit() error
	Rollback() error
}

// RefreshTokenStore is the persistence port for RefreshToken records.
type RefreshTokenStore interface {
	Create(ctx context.Context, exec Execer, t *entities.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*entities.RefreshToken, error)
	Revoke(ctx context.Context, exec Execer, uuid string) error
	RevokeAllForPrincipal(ctx context.Context, principalUUID string) (int, error)
	Touch(ctx context.Context, uuid string, at time.Time) error
	BeginTx(ctx context.Context) (Tx, error)
}

// Service implements issue/verify/refresh/revoke over the shared
// secret and, for entity-origin tokens, the derived secret.
type Service struct {
	secret        string
	entitySecret  string
	refreshTTL    time.Duration
	refreshTokens RefreshTokenStore
}

func NewService(secret, entitySecretSuffix string, refreshTTL time.Duration, refreshTokens RefreshTokenStore) *Service {
	return &Service{
		secret:        secret,
		entitySecret:  secret + entitySecretSuffix,
		refreshTTL:    refreshTTL,
		refreshTokens: refreshTokens,
	}
}

// TokenPair is the result of Issue and Refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Issue mints a fresh access+refresh pair for a principal already
// authenticated by CredentialStore, carrying the flattened permission
// strings the caller resolved via the PermissionEvaluator.
func (s *Service) Issue(ctx context.Context, principal entities.Principal, permissions []string) (*TokenPair, error) {
	return s.issue(ctx, nil, principal, permissions)
}

// issue is Issue's implementation, parameterized on the Execer the new
// refresh token row is inserted through, so Refresh can run it inside
// the same transaction as the revoke of the token being rotated.
func (s *Service) issue(ctx context.Context, exec Execer, principal entities.Principal, permissions []string) (*TokenPair, error) {
	now := time.Now()
	accessExp := now.Add(accessTokenTTL)

	name := ""
	if principal.User != nil {
		name = principal.User.Username
	} else if principal.Key != nil {
		name = principal.Key.Name
	}

	claims := AccessClaims{
		Name:        name,
		Role:        principal.EffectiveRoleName(),
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UUID(),
			Issuer:    adminIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.secret))
	if err != nil {
		return nil, rerrors.Unknown("failed to sign access token", err)
	}

	refreshPlain, refreshHash, err := newOpaqueToken()
	if err != nil {
		return nil, err
	}
	refreshExp := now.Add(s.refreshTTL)

	record := &entities.RefreshToken{
		UUID:               uuid.NewString(),
		OwnerPrincipalUUID: principal.UUID(),
		TokenHash:          refreshHash,
		ExpiresAt:          refreshExp,
		CreatedAt:          now,
	}
	if err := s.refreshTokens.Create(ctx, exec, record); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshPlain,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess parses and validates an admin access token, rejecting
// anything not signed with the shared secret or not issued with
// adminIssuer — including a structurally valid entity token, whose
// issuer will never match.
func (s *Service) VerifyAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, rerrors.Auth("unexpected signing method")
		}
		return []byte(s.secret), nil
	}, jwt.WithIssuer(adminIssuer))
	if err != nil || !parsed.Valid {
		return nil, rerrors.Auth("invalid or expired access token")
	}
	return claims, nil
}

// IssueEntityToken mints an entity-origin token for the Authenticate
// workflow transform: same shape as an access token but
// signed with the derived secret and carrying entityIssuer so it can
// never be accepted by VerifyAccess.
func (s *Service) IssueEntityToken(subjectUUID, entityType string, extra map[string]interface{}, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)

	claims := EntityClaims{
		EntityType: entityType,
		Extra:      extra,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectUUID,
			Issuer:    entityIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.entitySecret))
	if err != nil {
		return "", time.Time{}, rerrors.Unknown("failed to sign entity token", err)
	}
	return signed, exp, nil
}

// VerifyEntityToken parses and validates an entity-origin token against
// the derived secret and entityIssuer.
func (s *Service) VerifyEntityToken(tokenString string) (*EntityClaims, error) {
	claims := &EntityClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, rerrors.Auth("unexpected signing method")
		}
		return []byte(s.entitySecret), nil
	}, jwt.WithIssuer(entityIssuer))
	if err != nil || !parsed.Valid {
		return nil, rerrors.Auth("invalid or expired entity token")
	}
	return claims, nil
}

// ResolveRefreshOwner looks up the principal UUID that owns a presented
// refresh token, without consuming it. Callers use this to load the
// full Principal before calling Refresh, which needs it to mint a new
// access token.
func (s *Service) ResolveRefreshOwner(ctx context.Context, refreshPlain string) (string, error) {
	record, err := s.refreshTokens.GetByHash(ctx, hashOpaqueToken(refreshPlain))
	if err != nil {
		return "", err
	}
	if !record.Valid(time.Now()) {
		return "", rerrors.Auth("refresh token is expired or revoked")
	}
	return record.OwnerPrincipalUUID, nil
}

// Refresh rotates a refresh token: the presented token must be valid
// (not revoked, not expired); on success it is revoked and replaced
// with a new refresh token alongside a freshly minted access token,
// both within one transaction — either the old row is revoked and the
// new one inserted, or neither write lands, so a failure partway
// through never leaves the principal without a usable refresh token.
func (s *Service) Refresh(ctx context.Context, refreshPlain string, principal entities.Principal, permissions []string) (*TokenPair, error) {
	hash := hashOpaqueToken(refreshPlain)
	record, err := s.refreshTokens.GetByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !record.Valid(time.Now()) {
		return nil, rerrors.Auth("refresh token is expired or revoked")
	}
	if record.OwnerPrincipalUUID != principal.UUID() {
		return nil, rerrors.Auth("refresh token does not belong to this principal")
	}

	tx, err := s.refreshTokens.BeginTx(ctx)
	if err != nil {
		return nil, rerrors.Database("failed to begin refresh token rotation", err)
	}
	defer tx.Rollback()

	if err := s.refreshTokens.Revoke(ctx, tx, record.UUID); err != nil {
		return nil, err
	}
	pair, err := s.issue(ctx, tx, principal, permissions)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, rerrors.Database("failed to commit refresh token rotation", err)
	}
	return pair, nil
}

// Logout revokes a single refresh token. Idempotent: revoking an
// already-revoked or already-gone token is not an error.
func (s *Service) Logout(ctx context.Context, refreshPlain string) error {
	hash := hashOpaqueToken(refreshPlain)
	record, err := s.refreshTokens.GetByHash(ctx, hash)
	if err != nil {
		if rerrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	return s.refreshTokens.Revoke(ctx, nil, record.UUID)
}

// RevokeAll implements its revoke_all(principal): revokes every
// refresh token owned by principal, returning the count revoked.
func (s *Service) RevokeAll(ctx context.Context, principalUUID string) (int, error) {
	return s.refreshTokens.RevokeAllForPrincipal(ctx, principalUUID)
}

func newOpaqueToken() (plain string, hash string, err error) {
	raw := make([]byte, 32)
	if _, readErr := rand.Read(raw); readErr != nil {
		return "", "", rerrors.Unknown("failed to generate refresh token", readErr)
	}
	plain = base64.RawURLEncoding.EncodeToString(raw)
	return plain, hashOpaqueToken(plain), nil
}

func hashOpaqueToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
