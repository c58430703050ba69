package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name    string
		held    []string
		require []string
		allowed bool
	}{
		{"matching role", []string{RoleValidator}, WriteRoles, true},
		{"admin bypass", []string{RoleAdmin}, WriteRoles, true},
		{"trainee reads", []string{RoleTrainee}, ReadRoles, true},
		{"trainee cannot write", []string{RoleTrainee}, WriteRoles, false},
		{"no roles", nil, ReadRoles, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, tt.held))
			c := e.NewContext(req, httptest.NewRecorder())

			err := RequireRole(tt.require...)(func(c echo.Context) error { return nil })(c)
			if tt.allowed && err != nil {
				t.Errorf("expected access, got %v", err)
			}
			if !tt.allowed {
				httpErr, ok := err.(*echo.HTTPError)
				if !ok || httpErr.Code != http.StatusForbidden {
					t.Errorf("expected 403, got %v", err)
				}
			}
		})
	}
}

func TestIsPublicPath(t *testing.T) {
	if !IsPublicPath("/health") {
		t.Error("/health should be public")
	}
	if IsPublicPath("/api/v1/pathways") {
		t.Error("/api/v1/pathways should not be public")
	}
}
