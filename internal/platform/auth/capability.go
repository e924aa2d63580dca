package auth

import (
	"net/http"

	"github.com/hanko-field/cart/internal/platform/httpx"
)

// Capability names an operation gated by role membership.
type Capability string

const (
	CapabilityManageCarts Capability = "carts:manage"
)

var capabilityRoles = map[Capability][]string{
	CapabilityManageCarts: {RoleAdmin, RoleSuperAdmin},
}

// Allows reports whether identity holds one of the roles granting capability.
func Allows(identity *Identity, capability Capability) bool {
	roles, ok := capabilityRoles[capability]
	if !ok {
		return false
	}
	return identity.HasAnyRole(roles...)
}

// RequireCapability rejects requests whose identity lacks capability. It must run
// after RequireFirebaseAuth.
func RequireCapability(capability Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
				return
			}
			if !Allows(identity, capability) {
				httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "insufficient permissions", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
