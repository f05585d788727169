package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/approvals_backend/utils"
)

const RoleAdmin = "admin"

const (
	HeaderAuthorization = "Authorization"
	HeaderCorrelationID = "x-correlation-id"
)

// CorrelationMiddleware propagates the caller's correlation id (or mints one)
// so logs, audit entries and outbox events of a request can be joined.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := strings.TrimSpace(c.GetHeader(HeaderCorrelationID))
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header(HeaderCorrelationID, cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	}
}

// SessionMiddleware resolves the bearer token into tenant, user and role.
// Requests without a token pass through; RequireSession rejects them later.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get(HeaderAuthorization)
		if auth == "" {
			c.Next()
			return
		}

		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		claims, err := utils.JwtValidate(strings.TrimSpace(token))
		if err != nil || claims.TenantId == "" || claims.UserId == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetTenantIdInContext(ctx, claims.TenantId)
		ctx = utils.SetUserIdInContext(ctx, claims.UserId)
		ctx = utils.SetRoleInContext(ctx, claims.Role)
		ctx = utils.SetIsAdminInContext(ctx, claims.Role == RoleAdmin)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUserIdFromContext(c.Request.Context()); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context()); !isAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
