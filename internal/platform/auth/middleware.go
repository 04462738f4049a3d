package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type contextKey string

const identityKey contextKey = "staff_identity"

// Staff roles. They are recorded for the request log; handlers never
// refuse a request because of them.
const (
	RoleReception  = "reception"
	RoleDoctor     = "doctor"
	RolePharmacist = "pharmacist"
	RoleAdmin      = "admin"
)

type Claims struct {
	jwt.RegisteredClaims
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles"`
}

// Identity is who a request claims to come from.
type Identity struct {
	StaffID       string
	Name          string
	Roles         []string
	Authenticated bool
}

// AnonymousStaffID marks requests without a valid staff token.
const AnonymousStaffID = "anonymous"

var anonymous = Identity{StaffID: AnonymousStaffID}

var errMalformedHeader = errors.New("authorization header is not a bearer token")

// StaffIdentity resolves the caller from an HMAC-signed bearer token. A
// missing or bad token leaves the request anonymous and is logged, never
// rejected. With no signing key every request is anonymous.
func StaffIdentity(signingKey []byte, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := anonymous
			header := c.Request().Header.Get("Authorization")
			if header != "" && len(signingKey) > 0 {
				resolved, err := parseBearer(header, signingKey)
				if err != nil {
					logger.Warn().Err(err).
						Str("path", c.Path()).
						Msg("ignoring staff credentials")
				} else {
					id = resolved
				}
			}

			c.Set("staff_id", id.StaffID)
			ctx := WithIdentity(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func parseBearer(header string, key []byte) (Identity, error) {
	scheme, tokenStr, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || tokenStr == "" {
		return anonymous, errMalformedHeader
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return anonymous, fmt.Errorf("invalid staff token: %w", err)
	}

	return Identity{
		StaffID:       claims.Subject,
		Name:          claims.Name,
		Roles:         claims.Roles,
		Authenticated: true,
	}, nil
}

// IssueToken signs a staff token. Used by the CLI to mint tokens for
// front-desk terminals.
func IssueToken(key []byte, staffID, name string, roles []string, ttl time.Duration, now time.Time) (string, error) {
	if len(key) == 0 {
		return "", errors.New("signing key is empty")
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   staffID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:  name,
		Roles: roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) Identity {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok {
		return anonymous
	}
	return id
}

func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}
