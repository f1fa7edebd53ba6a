package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mealplanhq/mealplan/internal/auth"
)

type contextKey string

const identityKey contextKey = "identity"

// Cookie names.
const (
	sessionCookie = "session"
	adminCookie   = "admin-token"
)

// Gated path prefixes. A path matches a prefix when it equals it or continues
// with '/'.
var (
	customerPages = []string{"/dashboard", "/userportal", "/portal", "/meal-plans", "/download"}
	customerAPIs  = []string{"/api/meal-plans", "/api/shopping-list", "/api/recipes", "/api/user", "/api/jobs", "/api/download-pdf", "/api/billing"}
	adminPages    = []string{"/admin"}
	adminAPIs     = []string{"/api/admin"}
	adminOpen     = []string{"/admin/login", "/api/admin/login"}
)

type area int

const (
	areaPublic area = iota
	areaCustomer
	areaAdmin
)

func hasPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// classify returns the protection area of path and whether it is an API path.
func classify(path string) (area, bool) {
	switch {
	case hasPrefix(path, adminOpen):
		return areaPublic, false
	case hasPrefix(path, adminAPIs):
		return areaAdmin, true
	case hasPrefix(path, adminPages):
		return areaAdmin, false
	case hasPrefix(path, customerAPIs):
		return areaCustomer, true
	case hasPrefix(path, customerPages):
		return areaCustomer, false
	}
	return areaPublic, false
}

// tokenFrom returns the named cookie, falling back to a bearer header.
func tokenFrom(r *http.Request, cookie string) string {
	if c, err := r.Cookie(cookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return h[len("Bearer "):]
	}
	return ""
}

// identify resolves the caller from the session or admin cookie. Admin tokens
// are accepted wherever a customer token is.
func (s *Server) identify(r *http.Request) *auth.Identity {
	if tok := tokenFrom(r, sessionCookie); tok != "" {
		if id, err := s.auth.ValidateSession(tok); err == nil {
			return id
		}
	}
	if c, err := r.Cookie(adminCookie); err == nil && c.Value != "" {
		if id, err := s.auth.ValidateAdmin(c.Value); err == nil {
			return id
		}
	}
	return nil
}

// identifyAdmin resolves an admin caller from the admin cookie or a bearer
// admin token.
func (s *Server) identifyAdmin(r *http.Request) *auth.Identity {
	if tok := tokenFrom(r, adminCookie); tok != "" {
		if id, err := s.auth.ValidateAdmin(tok); err == nil {
			return id
		}
	}
	return nil
}

// gateMiddleware enforces the prefix-based route protection before routing.
// Pages redirect to the login page, APIs answer 401, and a customer on an
// admin path gets 403.
func (s *Server) gateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		path := r.URL.Path
		zone, isAPI := classify(path)

		var identity *auth.Identity
		switch zone {
		case areaPublic:
			next.ServeHTTP(w, r)
			return
		case areaCustomer:
			identity = s.identify(r)
		case areaAdmin:
			identity = s.identifyAdmin(r)
			if identity == nil && s.identify(r) != nil {
				if isAPI {
					writeError(w, http.StatusForbidden, "admin access required")
				} else {
					http.Error(w, "forbidden", http.StatusForbidden)
				}
				return
			}
		}

		if identity == nil {
			if isAPI {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			http.Redirect(w, r, "/login?redirect="+url.QueryEscape(path), http.StatusFound)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getIdentityFromContext(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(identityKey).(*auth.Identity)
	return identity
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		next.ServeHTTP(w, r)
	})
}

func makeCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && originSet[origin] {
				// Cookies only travel with an explicit origin.
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Stripe-Signature")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
