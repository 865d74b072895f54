// Package middleware provides HTTP middleware functions for identity and authorization.
// Authentication happens elsewhere; these middleware only read the identity the
// session already carries and expose it to the group handlers.
package middleware

import (
	"github.com/avissapr/groupwork/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
)

// Session and context keys.
const (
	KeyUserID      = "user_id"       // effective user (int64)
	KeyAuthnUserID = "authn_user_id" // authenticated user (int64), defaults to user_id
	KeyUID         = "uid"           // effective user's uid (string)
	KeyUserRole    = "user_role"     // "student" or "staff"
)

// RoleStaff marks users with instructor-level rights on assessments.
const RoleStaff = "staff"

// AuthRequired ensures the request carries a session identity.
// It responds 401 when the session is missing or has no user_id.
//
// Context Locals Set:
//   - user_id: The effective user's ID (int64)
//   - authn_user_id: The authenticated user's ID (int64)
//   - uid: The effective user's uid (string)
//   - user_role: The user's role ("student" or "staff")
//
// Example:
//
//	api := app.Group("/assessments", middleware.AuthRequired(store))
func AuthRequired(store *session.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := store.Get(c)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Authentication required")
		}

		userID, ok := sess.Get(KeyUserID).(int64)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "Authentication required")
		}

		authnUserID, ok := sess.Get(KeyAuthnUserID).(int64)
		if !ok {
			authnUserID = userID
		}

		c.Locals(KeyUserID, userID)
		c.Locals(KeyAuthnUserID, authnUserID)
		c.Locals(KeyUID, sess.Get(KeyUID))
		c.Locals(KeyUserRole, sess.Get(KeyUserRole))

		return c.Next()
	}
}

// StaffOnly rejects users without the staff role with 403.
// It must run after AuthRequired.
func StaffOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Locals(KeyUserRole) != RoleStaff {
			return fiber.NewError(fiber.StatusForbidden, "Access denied: staff only")
		}
		return c.Next()
	}
}

// AuthzFromContext returns the identity set by AuthRequired.
func AuthzFromContext(c *fiber.Ctx) models.AuthzData {
	userID, _ := c.Locals(KeyUserID).(int64)
	authnUserID, _ := c.Locals(KeyAuthnUserID).(int64)
	return models.AuthzData{
		AuthnUserID:        authnUserID,
		UserID:             userID,
		HasStaffPermission: c.Locals(KeyUserRole) == RoleStaff,
	}
}

// UIDFromContext returns the effective user's uid set by AuthRequired.
func UIDFromContext(c *fiber.Ctx) string {
	uid, _ := c.Locals(KeyUID).(string)
	return uid
}
