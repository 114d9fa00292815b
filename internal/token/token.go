// Package token issues and verifies the HS256 JWTs LockDrop hands out:
// admin access/refresh tokens and per-artifact download tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dharsanguruparan/lockdrop/internal/errs"
	"github.com/dharsanguruparan/lockdrop/internal/model"
)

// Claims is the JWT body. Kind is serialized as "type".
type Claims struct {
	jwt.RegisteredClaims
	Kind             model.TokenKind `json:"type"`
	FileUUID         string          `json:"file_uuid,omitempty"`
	PasswordVerified bool            `json:"password_verified,omitempty"`
	Admin            bool            `json:"admin,omitempty"`
}

// TTLs holds the default lifetime per token kind.
type TTLs struct {
	Access   time.Duration
	Refresh  time.Duration
	Download time.Duration
}

// Service signs and verifies tokens with a single shared secret.
type Service struct {
	secret []byte
	ttls   TTLs
	now    func() time.Time
}

// New returns a Service. Zero TTLs fall back to 30m / 7d / 10m.
func New(secret []byte, ttls TTLs) *Service {
	if ttls.Access <= 0 {
		ttls.Access = 30 * time.Minute
	}
	if ttls.Refresh <= 0 {
		ttls.Refresh = 7 * 24 * time.Hour
	}
	if ttls.Download <= 0 {
		ttls.Download = 10 * time.Minute
	}
	return &Service{secret: secret, ttls: ttls, now: time.Now}
}

func (s *Service) ttlFor(kind model.TokenKind) time.Duration {
	switch kind {
	case model.TokenRefresh:
		return s.ttls.Refresh
	case model.TokenDownload:
		return s.ttls.Download
	default:
		return s.ttls.Access
	}
}

// Issue signs claims as a token of the given kind. A zero ttl uses the
// kind's default. It returns the token and its expiry.
func (s *Service) Issue(kind model.TokenKind, c Claims, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = s.ttlFor(kind)
	}
	now := s.now()
	exp := now.Add(ttl)
	c.Kind = kind
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(exp)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, exp, nil
}

// IssueDownload mints a download token scoped to one artifact.
func (s *Service) IssueDownload(artifactID string) (string, time.Time, error) {
	return s.Issue(model.TokenDownload, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: artifactID},
		FileUUID:         artifactID,
		PasswordVerified: true,
	}, 0)
}

// IssuePair mints an access and refresh token for an administrator session.
func (s *Service) IssuePair(subject string, admin bool) (model.TokenPair, error) {
	base := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: subject}, Admin: admin}
	access, exp, err := s.Issue(model.TokenAccess, base, 0)
	if err != nil {
		return model.TokenPair{}, err
	}
	refresh, _, err := s.Issue(model.TokenRefresh, base, 0)
	if err != nil {
		return model.TokenPair{}, err
	}
	return model.TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: exp}, nil
}

// Verify parses raw and checks signature, algorithm, expiry and kind. Every
// failure is reported as errs.ErrUnauthorized.
func (s *Service) Verify(raw string, kind model.TokenKind) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, unauthorized(err)
	}
	if !tok.Valid {
		return nil, unauthorized(errors.New("invalid token"))
	}
	if claims.Kind != kind {
		return nil, unauthorized(fmt.Errorf("token kind %q, want %q", claims.Kind, kind))
	}
	return claims, nil
}

// VerifyDownload checks a download token and that it was issued for
// artifactID after a successful password check.
func (s *Service) VerifyDownload(raw, artifactID string) (*Claims, error) {
	claims, err := s.Verify(raw, model.TokenDownload)
	if err != nil {
		return nil, err
	}
	if !claims.PasswordVerified {
		return nil, unauthorized(errors.New("password not verified"))
	}
	if claims.FileUUID == "" || claims.FileUUID != artifactID {
		return nil, unauthorized(errors.New("token issued for another artifact"))
	}
	return claims, nil
}

// VerifyAdmin checks an access token and requires the admin flag. A valid
// non-admin token yields errs.ErrForbidden.
func (s *Service) VerifyAdmin(raw string) (*Claims, error) {
	claims, err := s.Verify(raw, model.TokenAccess)
	if err != nil {
		return nil, err
	}
	if !claims.Admin {
		return nil, errs.ErrForbidden
	}
	return claims, nil
}

// Refresh exchanges a refresh token for a new access token, keeping the
// subject and admin flag.
func (s *Service) Refresh(raw string) (model.TokenPair, error) {
	claims, err := s.Verify(raw, model.TokenRefresh)
	if err != nil {
		return model.TokenPair{}, err
	}
	access, exp, err := s.Issue(model.TokenAccess, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: claims.Subject},
		Admin:            claims.Admin,
	}, 0)
	if err != nil {
		return model.TokenPair{}, err
	}
	return model.TokenPair{AccessToken: access, ExpiresAt: exp}, nil
}

func unauthorized(cause error) error {
	return fmt.Errorf("%w: %v", errs.ErrUnauthorized, cause)
}
