package db

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
)

func TestExtractTenantID_Priority(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/?tenant_id=query", nil)
	req.Header.Set("X-Tenant-ID", "header")
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("jwt_tenant_id", "jwt")
	if tid := extractTenantID(c, "default"); tid != "jwt" {
		t.Errorf("expected jwt (highest priority), got %s", tid)
	}

	c.Set("jwt_tenant_id", "")
	if tid := extractTenantID(c, "default"); tid != "header" {
		t.Errorf("expected header when JWT is empty, got %s", tid)
	}

	req = httptest.NewRequest(http.MethodGet, "/?tenant_id=query", nil)
	c = e.NewContext(req, httptest.NewRecorder())
	if tid := extractTenantID(c, "default"); tid != "query" {
		t.Errorf("expected query, got %s", tid)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	c = e.NewContext(req, httptest.NewRecorder())
	if tid := extractTenantID(c, "default"); tid != "default" {
		t.Errorf("expected default, got %s", tid)
	}
}

func TestSchemaName(t *testing.T) {
	tests := []struct {
		input string
		want  string
		valid bool
	}{
		{"cohort_2024", "tenant_cohort_2024", true},
		{"A1B2", "tenant_A1B2", true},
		{"a-b", "", false},
		{"a.b", "", false},
		{"'; DROP TABLE", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := SchemaName(tt.input)
		if (err == nil) != tt.valid {
			t.Errorf("SchemaName(%q) error = %v, want valid=%v", tt.input, err, tt.valid)
		}
		if got != tt.want {
			t.Errorf("SchemaName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCreateTenantSchema_InvalidID(t *testing.T) {
	for _, id := range []string{"tenant-with-dash", "ten ant", "drop;table"} {
		if err := CreateTenantSchema(context.Background(), nil, id, nil); err == nil {
			t.Errorf("expected error for invalid tenant ID %q", id)
		}
	}
}

func TestContextAccessors_Empty(t *testing.T) {
	ctx := context.Background()
	if ConnFromContext(ctx) != nil {
		t.Error("expected nil conn from empty context")
	}
	if TxFromContext(ctx) != nil {
		t.Error("expected nil tx from empty context")
	}
	if TenantFromContext(ctx) != "" {
		t.Error("expected empty tenant from empty context")
	}
}

func TestContextAccessors_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBConnKey, "not-a-conn")
	ctx = context.WithValue(ctx, DBTxKey, "not-a-tx")
	ctx = context.WithValue(ctx, TenantIDKey, 12345)
	if ConnFromContext(ctx) != nil || TxFromContext(ctx) != nil || TenantFromContext(ctx) != "" {
		t.Error("expected zero values when context values have the wrong type")
	}
}

func TestNopTxRunner(t *testing.T) {
	called := false
	err := NopTxRunner{}.InTx(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Errorf("expected fn to run without error, called=%v err=%v", called, err)
	}
}

type fakeConn struct {
	execErr  error
	sql      []string
	released bool
	hijacked bool
}

func (f *fakeConn) Exec(_ context.Context, sql string, _ ...interface{}) (pgconn.CommandTag, error) {
	f.sql = append(f.sql, sql)
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeConn) Release() { f.released = true }

func (f *fakeConn) Hijack() *pgx.Conn {
	f.hijacked = true
	return nil
}

func TestReleaseTenantConn_ResetsSearchPath(t *testing.T) {
	conn := &fakeConn{}
	releaseTenantConn(conn)
	if len(conn.sql) != 1 || conn.sql[0] != "RESET search_path" {
		t.Errorf("expected search_path reset, got %v", conn.sql)
	}
	if !conn.released || conn.hijacked {
		t.Errorf("expected connection returned to the pool, released=%v hijacked=%v", conn.released, conn.hijacked)
	}
}

func TestReleaseTenantConn_ResetFailureDropsConn(t *testing.T) {
	conn := &fakeConn{execErr: errors.New("connection reset")}
	releaseTenantConn(conn)
	if conn.released || !conn.hijacked {
		t.Errorf("expected connection taken out of the pool, released=%v hijacked=%v", conn.released, conn.hijacked)
	}
}
