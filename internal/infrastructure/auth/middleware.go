package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/honeynil/EquipmentLendingService/internal/infrastructure/redis"
	"github.com/honeynil/EquipmentLendingService/internal/models"
	pkgerrors "github.com/honeynil/EquipmentLendingService/pkg/errors"
)

// CookieName is the cookie that carries the access token for browser clients.
const CookieName = "access_token"

type identityKey struct{}

// UserLookup resolves the user behind a token.
type UserLookup interface {
	GetByID(ctx context.Context, id int32) (*models.User, error)
}

func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(models.Identity)
	return id, ok
}

// TokenFromRequest reads the bearer token, falling back to the session cookie.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return ""
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return strings.TrimPrefix(cookie.Value, "Bearer ")
	}
	return ""
}

func AuthMiddleware(redisClient redis.RedisClient, tokens *TokenManager, users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := TokenFromRequest(r)
			if tokenStr == "" {
				writeError(w, http.StatusUnauthorized, "not authenticated", pkgerrors.KindUnauthorized)
				return
			}

			claims, err := tokens.ParseAccess(tokenStr)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token", pkgerrors.KindUnauthorized)
				return
			}
			userID, err := claims.UserID()
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token", pkgerrors.KindUnauthorized)
				return
			}

			// Check token in Redis
			storedToken, err := redisClient.Get(r.Context(), redis.SessionKey(userID))
			if err != nil || storedToken != tokenStr {
				slog.Warn("invalid or revoked token", "user_id", userID, "error", err)
				writeError(w, http.StatusUnauthorized, "invalid or revoked token", pkgerrors.KindUnauthorized)
				return
			}

			user, err := users.GetByID(r.Context(), userID)
			if err != nil {
				slog.Warn("token user not found", "user_id", userID, "error", err)
				writeError(w, http.StatusUnauthorized, "invalid token", pkgerrors.KindUnauthorized)
				return
			}
			if !user.IsActive {
				writeError(w, http.StatusUnauthorized, pkgerrors.ErrInactiveUser.Error(), pkgerrors.KindUnauthorized)
				return
			}

			ctx := WithIdentity(r.Context(), models.Identity{UserID: user.ID, IsAdmin: user.IsAdmin})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin must run after AuthMiddleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "not authenticated", pkgerrors.KindUnauthorized)
			return
		}
		if !id.IsAdmin {
			writeError(w, http.StatusForbidden, pkgerrors.ErrAdminRequired.Error(), pkgerrors.KindForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}
