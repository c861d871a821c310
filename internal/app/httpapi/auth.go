package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/leafy-life/cafe/pkg/logger"
)

// Role is what an authenticated caller may do.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
)

// serviceRole is the Supabase role carried by the service key.
const serviceRole = "service_role"

// Principal is the caller attached to the request context.
type Principal struct {
	UserID string
	Email  string
	Role   Role
}

// Claims are the parts of a Supabase access token the API reads.
type Claims struct {
	Email       string         `json:"email,omitempty"`
	Role        string         `json:"role,omitempty"`
	AppMetadata map[string]any `json:"app_metadata,omitempty"`
	jwt.RegisteredClaims
}

// AuthOptions configure token verification. An empty Secret disables auth
// and every request runs as an anonymous admin.
type AuthOptions struct {
	// Secret is the project's JWT secret; tokens must be HMAC signed with it.
	Secret string
	// Audience, when set, must appear in user tokens. Service tokens carry
	// no audience and skip the check.
	Audience string
	// AdminRoles are app_metadata.role values that map to RoleAdmin.
	AdminRoles []string
}

type ctxKey int

const ctxPrincipalKey ctxKey = iota

// principalFrom returns the caller, if the authenticator ran.
func principalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxPrincipalKey).(Principal)
	return p, ok
}

// clientID returns the authenticated user id, or "" for anonymous callers.
func clientID(ctx context.Context) string {
	p, _ := principalFrom(ctx)
	return p.UserID
}

type authenticator struct {
	secret     []byte
	audience   string
	adminRoles map[string]bool
	log        *logger.Logger
}

func newAuthenticator(opts AuthOptions, log *logger.Logger) *authenticator {
	a := &authenticator{
		secret:     []byte(strings.TrimSpace(opts.Secret)),
		audience:   strings.TrimSpace(opts.Audience),
		adminRoles: make(map[string]bool),
		log:        log,
	}
	for _, r := range opts.AdminRoles {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			a.adminRoles[r] = true
		}
	}
	if len(a.secret) == 0 {
		log.Warn("no JWT secret configured; authentication disabled")
	}
	return a
}

func (a *authenticator) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.secret) == 0 {
			ctx := context.WithValue(r.Context(), ctxPrincipalKey, Principal{Role: RoleAdmin})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, fmt.Errorf("missing bearer token"))
			return
		}
		principal, err := a.validate(strings.TrimSpace(token))
		if err != nil {
			a.log.WithError(err).
				WithField("path", r.URL.Path).
				WithField("remote", r.RemoteAddr).
				Warn("token validation failed")
			writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid token"))
			return
		}
		a.log.WithField("user_id", principal.UserID).WithField("role", principal.Role).Debug("authenticated")
		ctx := context.WithValue(r.Context(), ctxPrincipalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validate verifies the signature and expiry of a Supabase token and maps
// its claims onto a Principal.
func (a *authenticator) validate(token string) (Principal, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, fmt.Errorf("jwt parse: %w", err)
	}
	if !parsed.Valid {
		return Principal{}, errors.New("jwt invalid")
	}

	if claims.Role == serviceRole {
		return Principal{UserID: serviceRole, Role: RoleAdmin}, nil
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("token has no subject")
	}
	if a.audience != "" && !slices.Contains(claims.Audience, a.audience) {
		return Principal{}, fmt.Errorf("audience %v not accepted", claims.Audience)
	}

	role := RoleStaff
	if appRole, _ := claims.AppMetadata["role"].(string); a.adminRoles[strings.ToLower(appRole)] {
		role = RoleAdmin
	}
	return Principal{UserID: claims.Subject, Email: claims.Email, Role: role}, nil
}

// requireAdmin rejects callers without RoleAdmin.
func requireAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, fmt.Errorf("authentication required"))
			return
		}
		if p.Role != RoleAdmin {
			writeError(w, http.StatusForbidden, fmt.Errorf("admin role required"))
			return
		}
		next(w, r)
	})
}
