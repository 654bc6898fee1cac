package middleware

import (
	"delivery-dispatch/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Identity headers are injected by the upstream identity proxy; this service
// trusts them and never performs authentication itself.
const (
	HeaderAccountID = "X-Account-ID"
	HeaderRole      = "X-Account-Role"

	ctxAccountID = "identity.account_id"
	ctxRole      = "identity.role"
)

const (
	RoleCustomer   = "customer"
	RoleWorker     = "delivery-worker"
	RoleManagement = "management"
)

// Identity materializes the account headers into the gin context. Requests
// without an account id are rejected before reaching any handler.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetHeader(HeaderAccountID)
		if accountID == "" {
			c.AbortWithStatusJSON(401, errutil.Normalize(errutil.Unauthorized("missing account identity", nil)).JSON())
			return
		}

		c.Set(ctxAccountID, accountID)
		c.Set(ctxRole, c.GetHeader(HeaderRole))
		c.Next()
	}
}

// RequireRole guards management-only and role-scoped routes.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := Role(c)
		for _, want := range roles {
			if role == want {
				c.Next()
				return
			}
		}

		base := errutil.Normalize(errutil.Forbidden("insufficient role for this operation", nil))
		c.AbortWithStatusJSON(base.Code.HTTPStatus(), base.JSON())
	}
}

func AccountID(c *gin.Context) string {
	return c.GetString(ctxAccountID)
}

func Role(c *gin.Context) string {
	return c.GetString(ctxRole)
}
