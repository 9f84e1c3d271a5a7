package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"ndjobi/internal/engine/auth"
	"ndjobi/internal/repo"
)

type AuthConfig struct {
	JWTSecret string
	// AllowInsecureHeaders accepts X-Actor-Id/X-Actor-Role without a
	// credential. Local development and tests only.
	AllowInsecureHeaders bool
	Logger               *zap.Logger
}

type principalKey struct{}

func (c AuthConfig) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

func principalFromRequest(ctx context.Context) (auth.Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.ActorID != "" {
		return p, nil
	}
	return auth.Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

func authenticateJWT(token, secret string) (auth.Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return auth.Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return auth.Principal{}, err
	}
	if !parsed.Valid {
		return auth.Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return auth.Principal{}, errors.New("subject claim required")
	}
	return auth.Principal{
		ActorID: claims.Subject,
		Role:    claims.Role,
		Source:  "jwt",
	}, nil
}

func authenticateAPIKey(ctx context.Context, r repo.Repo, key string) (auth.Principal, error) {
	if strings.TrimSpace(key) == "" {
		return auth.Principal{}, errors.New("api key required")
	}
	apiKey, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return auth.Principal{}, err
	}
	return auth.Principal{
		ActorID: apiKey.ActorID,
		Role:    apiKey.Role,
		Source:  "api_key",
	}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// publicPath lists the endpoints reachable without a credential: health and
// the citizen-facing reference tracker.
func publicPath(basePath, reqPath string) bool {
	if reqPath == path.Join(basePath, "health") {
		return true
	}
	if reqPath == path.Join(basePath, "openapi.json") {
		return true
	}
	if strings.HasPrefix(reqPath, path.Join(basePath, "reports/reference")+"/") {
		return true
	}
	return false
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if publicPath(basePath, req.URL.Path) {
				next.ServeHTTP(w, req)
				return
			}
			var p auth.Principal
			var err error
			switch {
			case req.Header.Get("X-Api-Key") != "":
				p, err = authenticateAPIKey(req.Context(), r, req.Header.Get("X-Api-Key"))
			case req.Header.Get("Authorization") != "":
				token, ok := bearerToken(req.Header.Get("Authorization"))
				if !ok {
					err = errors.New("malformed authorization header")
				} else {
					p, err = authenticateJWT(token, cfg.JWTSecret)
				}
			case req.URL.Query().Get("token") != "":
				// Browser websocket clients cannot set headers.
				p, err = authenticateJWT(req.URL.Query().Get("token"), cfg.JWTSecret)
			case cfg.AllowInsecureHeaders && req.Header.Get("X-Actor-Id") != "":
				p = auth.Principal{
					ActorID: req.Header.Get("X-Actor-Id"),
					Role:    req.Header.Get("X-Actor-Role"),
					Source:  "header",
				}
			default:
				err = errors.New("credentials required")
			}
			if err != nil {
				cfg.logger().Debug("authentication rejected", zap.String("path", req.URL.Path), zap.Error(err))
				writeAuthError(w)
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), p)))
		})
	}
}

func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": apiErrorBody{Code: "unauthorized", Message: "authentication required"},
	})
}
