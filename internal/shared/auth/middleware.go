package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	authz "github.com/unionlegal/platform/internal/auth"
	"github.com/unionlegal/platform/internal/shared/config"
	apperrors "github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/metrics"
	"github.com/unionlegal/platform/internal/shared/request"
	"github.com/unionlegal/platform/internal/shared/types"
)

type contextKey string

const subjectContextKey contextKey = "subject"

// ActorResolver loads the actor behind a token subject.
type ActorResolver interface {
	FindActor(ctx context.Context, id types.ID) (authz.Actor, error)
}

// MembershipSource supplies the memberships the evaluator needs.
type MembershipSource interface {
	MembershipsOf(ctx context.Context, actorID types.ID) ([]authz.Membership, error)
}

// Claims extends JWT claims with platform-specific data
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id,omitempty"`
}

// Authenticator turns bearer tokens into request subjects.
type Authenticator struct {
	cfg          config.AuthConfig
	actors       ActorResolver
	memberships  MembershipSource
	onPrivileged func(ctx context.Context, actor authz.Actor)
	log          *zap.Logger
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(cfg config.AuthConfig, actors ActorResolver, memberships MembershipSource, log *zap.Logger) *Authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authenticator{cfg: cfg, actors: actors, memberships: memberships, log: log}
}

// OnPrivileged registers a hook run synchronously whenever an admin or super
// admin authenticates. The hook must not fail the request.
func (a *Authenticator) OnPrivileged(fn func(ctx context.Context, actor authz.Actor)) {
	a.onPrivileged = fn
}

// Middleware creates JWT authentication middleware
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := bearerToken(r)
		if !ok {
			request.WriteError(w, apperrors.Unauthorized("missing or malformed authorization header"))
			return
		}

		claims, err := a.Parse(tokenString)
		if err != nil {
			request.WriteError(w, apperrors.Unauthorized("invalid token"))
			return
		}

		actorID, err := types.ParseID(claims.Subject)
		if err != nil {
			request.WriteError(w, apperrors.Unauthorized("invalid token subject"))
			return
		}

		ctx := r.Context()
		actor, err := a.actors.FindActor(ctx, actorID)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrNotFound) {
				request.WriteError(w, apperrors.Unauthorized("unknown actor"))
				return
			}
			a.log.Error("failed to resolve actor", zap.String("actor_id", actorID.String()), zap.Error(err))
			request.WriteError(w, err)
			return
		}

		memberships, err := a.memberships.MembershipsOf(ctx, actor.ID)
		if err != nil {
			a.log.Error("failed to load memberships", zap.String("actor_id", actorID.String()), zap.Error(err))
			request.WriteError(w, err)
			return
		}

		if actor.Role.IsPrivileged() && a.onPrivileged != nil {
			a.onPrivileged(ctx, actor)
		}

		subject := authz.NewSubject(actor, memberships...)
		next.ServeHTTP(w, r.WithContext(WithSubject(ctx, subject)))
	})
}

// Parse validates a token and returns its claims.
func (a *Authenticator) Parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(a.cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// IssueToken signs a token for actorID. Used by tooling and tests; production
// tokens come from the identity provider.
func IssueToken(cfg config.AuthConfig, actorID types.ID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID.String(),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// WithSubject stores the subject in ctx.
func WithSubject(ctx context.Context, subject authz.Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey, subject)
}

// SubjectFrom extracts the subject from request context
func SubjectFrom(ctx context.Context) (authz.Subject, bool) {
	subject, ok := ctx.Value(subjectContextKey).(authz.Subject)
	return subject, ok
}

// ActorKey returns the authenticated actor id, for per-actor rate limiting.
func ActorKey(r *http.Request) string {
	if subject, ok := SubjectFrom(r.Context()); ok {
		return subject.Actor.ID.String()
	}
	return ""
}

// RequireRoles creates middleware that requires specific roles
func RequireRoles(roles ...authz.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := SubjectFrom(r.Context())
			if !ok {
				request.WriteError(w, apperrors.Unauthorized("authentication required"))
				return
			}
			if !authz.HasAnyRole(subject.Actor, roles...) {
				request.WriteError(w, apperrors.Forbidden("insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Check evaluates a permission, records the decision and returns Forbidden on deny.
func Check(e *authz.Evaluator, subject authz.Subject, resource authz.Resource, action authz.Action, rc authz.ResourceContext) error {
	allowed := e.HasPermission(subject, resource, action, rc)
	metrics.RecordAuthorizationDecision(string(resource), string(action), allowed)
	if !allowed {
		return apperrors.Forbidden("not allowed to " + string(action) + " " + string(resource))
	}
	return nil
}
