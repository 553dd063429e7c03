package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/krishx06/SKAG-MedTech/internal/shared/config"
)

type contextKey string

const (
	OperatorContextKey contextKey = "operator"
)

// Operator represents the authenticated clinical operator from JWT claims
type Operator struct {
	ID       string   `json:"sub"`
	Name     string   `json:"name"`
	Role     string   `json:"role"` // nurse, physician, bed_manager, admin
	UnitID   string   `json:"unit_id,omitempty"`
	Roles    []string `json:"roles"`
	ShiftEnd string   `json:"shift_end,omitempty"`
}

// Claims extends JWT claims with operator data
type Claims struct {
	jwt.RegisteredClaims
	Name     string   `json:"name"`
	Role     string   `json:"role"`
	UnitID   string   `json:"unit_id,omitempty"`
	Roles    []string `json:"roles"`
	ShiftEnd string   `json:"shift_end,omitempty"`
}

// Middleware creates JWT authentication middleware
func Middleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			tokenString := parts[1]

			// Symmetric key for development, swap for the hospital IdP's
			// public key in production
			token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
				return []byte(cfg.JWTSecret), nil
			})

			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			claims, ok := token.Claims.(*Claims)
			if !ok || !token.Valid {
				writeError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}

			operator := &Operator{
				ID:       claims.Subject,
				Name:     claims.Name,
				Role:     claims.Role,
				UnitID:   claims.UnitID,
				Roles:    claims.Roles,
				ShiftEnd: claims.ShiftEnd,
			}

			ctx := context.WithValue(r.Context(), OperatorContextKey, operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOperator extracts the operator from request context
func GetOperator(ctx context.Context) *Operator {
	operator, ok := ctx.Value(OperatorContextKey).(*Operator)
	if !ok {
		return nil
	}
	return operator
}

// RequireRoles creates middleware that requires specific roles
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			operator := GetOperator(r.Context())
			if operator == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			if !hasAnyRole(operator.allRoles(), roles) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HasRole checks if the operator has a specific role
func (o *Operator) HasRole(role string) bool {
	return hasAnyRole(o.allRoles(), []string{role})
}

// IsAdmin checks if the operator is an admin
func (o *Operator) IsAdmin() bool {
	return o.Role == "admin" || o.HasRole("admin")
}

func (o *Operator) allRoles() []string {
	if o.Role == "" {
		return o.Roles
	}
	return append([]string{o.Role}, o.Roles...)
}

func hasAnyRole(operatorRoles, requiredRoles []string) bool {
	for _, required := range requiredRoles {
		for _, role := range operatorRoles {
			if role == required {
				return true
			}
		}
	}
	return false
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
