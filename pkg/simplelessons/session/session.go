// Package session resolves the user behind a request.
//
// A user logs in with the nick and id issued by the external login widget.
// The session token is derived from the external id, so the same person
// always gets the same token and no server-side session table is needed.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-lessons/pkg/simplelessons"
)

const (
	// CookieName is the cookie carrying the session token.
	CookieName = "tg_login_token"

	// CookieMaxAge is how long browsers keep the login cookie.
	CookieMaxAge = 365 * 24 * time.Hour
)

// ErrUnauthenticated is returned when a request carries no usable token.
var ErrUnauthenticated = errors.New("unauthenticated")

// Users is the part of the service the resolver needs.
type Users interface {
	CreateUser(ctx context.Context, req simplelessons.CreateUserRequest) (*simplelessons.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*simplelessons.User, error)
	GetUserBySessionToken(ctx context.Context, token string) (*simplelessons.User, error)
	UpdateUser(ctx context.Context, id uuid.UUID, upd simplelessons.UserUpdate) (*simplelessons.User, error)
}

// Resolver logs users in and maps tokens back to users.
type Resolver struct {
	users  Users
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver creates a resolver backed by users.
func NewResolver(users Users, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		users:  users,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Login registers the user on first sight and refreshes LastSeenAt and the
// nick afterwards. It returns the user and its session token.
func (r *Resolver) Login(ctx context.Context, nick, externalID string) (*simplelessons.User, string, error) {
	nick = strings.TrimSpace(nick)
	externalID = strings.TrimSpace(externalID)
	if nick == "" || externalID == "" {
		return nil, "", fmt.Errorf("%w: nick and id are required", simplelessons.ErrInvalidRequest)
	}

	now := r.now()
	user, err := r.users.GetUserByExternalID(ctx, externalID)
	switch {
	case errors.Is(err, simplelessons.ErrNotFound):
		user, err = r.users.CreateUser(ctx, simplelessons.CreateUserRequest{
			ExternalNick: nick,
			ExternalID:   externalID,
			LastSeenAt:   now,
		})
		if err != nil {
			return nil, "", err
		}
		r.logger.InfoContext(ctx, "User registered", "user_id", user.ID, "nick", nick)
		return user, user.SessionToken, nil
	case err != nil:
		return nil, "", err
	}

	upd := simplelessons.UserUpdate{LastSeenAt: &now}
	if user.ExternalNick != nick {
		upd.ExternalNick = &nick
	}
	updated, err := r.users.UpdateUser(ctx, user.ID, upd)
	if err != nil {
		return nil, "", err
	}
	if updated == nil {
		// deleted between lookup and update
		return nil, "", simplelessons.ErrUserNotFound
	}
	return updated, updated.SessionToken, nil
}

// Resolve returns the user owning token.
func (r *Resolver) Resolve(ctx context.Context, token string) (*simplelessons.User, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	user, err := r.users.GetUserBySessionToken(ctx, token)
	if errors.Is(err, simplelessons.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// TokenFromRequest reads the session token from the login cookie or a
// bearer Authorization header. The header wins when both are present.
func TokenFromRequest(req *http.Request) string {
	if auth := req.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := req.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// SetCookie writes the login cookie.
func SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(CookieMaxAge / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Middleware rejects requests without a valid session with 401 and stores
// the resolved user in the request context.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		user, err := r.Resolve(req.Context(), TokenFromRequest(req))
		if err != nil {
			if !errors.Is(err, ErrUnauthenticated) {
				r.logger.ErrorContext(req.Context(), "Failed to resolve session", "err", err)
			}
			render.Status(req, http.StatusUnauthorized)
			render.JSON(w, req, map[string]string{"error": "authentication required"})
			return
		}
		next.ServeHTTP(w, req.WithContext(WithUser(req.Context(), user)))
	})
}

type contextKey struct{}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *simplelessons.User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext returns the user stored by Middleware.
func UserFromContext(ctx context.Context) (*simplelessons.User, bool) {
	user, ok := ctx.Value(contextKey{}).(*simplelessons.User)
	return user, ok && user != nil
}
