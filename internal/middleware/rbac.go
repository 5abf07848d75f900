package middleware

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/po-assignment-api/internal/models"
	appErrors "github.com/noah-isme/po-assignment-api/pkg/errors"
)

// ContextActorKey stores the resolved models.Actor once a capability check ran.
const ContextActorKey = "currentActor"

type userFinder interface {
	FindByID(ctx context.Context, id string) (*models.InternalUser, error)
}

// Capability names a check over resolved capabilities.
type Capability struct {
	Name  string
	Allow func(models.Capabilities) bool
}

var (
	CapCreateAssignments = Capability{Name: "create_assignments", Allow: func(c models.Capabilities) bool { return c.CreateAssignments }}
	CapApprove           = Capability{Name: "approver", Allow: models.Capabilities.CanApproveAny}
	CapAdmin             = Capability{Name: "admin", Allow: func(c models.Capabilities) bool { return c.Admin }}
)

// RequireRoles allows only tokens carrying one of roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims, ok := claimsOf(c)
		if !ok {
			abort(c, appErrors.ErrUnauthorized)
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			abort(c, appErrors.WithDetails(appErrors.ErrForbidden, "role not permitted", map[string]interface{}{"role": string(claims.Role)}))
			return
		}
		c.Next()
	}
}

// RequireCapability reloads the caller's account so revoked flags and deactivation apply immediately,
// then rejects the request unless capability holds.
func RequireCapability(users userFinder, capability Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := claimsOf(c)
		if !ok {
			abort(c, appErrors.ErrUnauthorized)
			return
		}
		user, err := users.FindByID(c.Request.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				err = appErrors.Clone(appErrors.ErrForbidden, "actor account not found")
			}
			abort(c, err)
			return
		}
		actor := models.ActorFromUser(user)
		if !actor.Active || !capability.Allow(actor.Caps) {
			abort(c, appErrors.WithDetails(appErrors.ErrForbidden, "missing capability", map[string]interface{}{"required": capability.Name}))
			return
		}
		c.Set(ContextActorKey, actor)
		c.Next()
	}
}

func claimsOf(c *gin.Context) (*models.JWTClaims, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*models.JWTClaims)
	return claims, ok && claims != nil
}
