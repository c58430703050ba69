package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin = "admin"
	// Validators maintain pathway clocks for the organisation.
	RoleValidator = "validator"
	RoleClinician = "clinician"
	// Trainees work the platform's exercises and may only read.
	RoleTrainee = "trainee"
)

var (
	ReadRoles  = []string{RoleValidator, RoleClinician, RoleTrainee}
	WriteRoles = []string{RoleValidator, RoleClinician}
)

// RequireRole admits the request when the caller holds at least one of
// roles. Admins are always admitted.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

func HasRole(held []string, wanted ...string) bool {
	for _, h := range held {
		if h == RoleAdmin {
			return true
		}
		for _, w := range wanted {
			if h == w {
				return true
			}
		}
	}
	return false
}
