package rbac

import (
	"net/http"

	"donor-dialer/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireBusiness enforces the tenant invariant: business_id must exist in
// context. Platform tokens with a platform role are not bound to a business
// and pass through; handlers then take the business from the request.
func RequireBusiness() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if role, err := auth.Role(ctx); err == nil && auth.IsPlatform(ctx) && IsPlatformRole(role) {
			c.Next()
			return
		}
		bid, err := auth.BusinessID(ctx)
		if err != nil || bid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "business_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// Rules:
// - admin bypasses all checks
// - service is a hidden role, and will be denied unless explicitly allowed
// - business isolation is enforced via RequireBusiness (use it in the chain)
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		if IsAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
