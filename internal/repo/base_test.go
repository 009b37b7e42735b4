package repo

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
)

type ctxKey struct{}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	return conn
}

func TestNewBaseStoresConnection(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	if base.db != db {
		t.Fatalf("expected base db to match provided connection")
	}
}

func TestBaseDB_BindsContext(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	ctx := context.WithValue(context.Background(), ctxKey{}, "value")
	withCtx := base.DB(ctx)

	if withCtx == nil {
		t.Fatalf("expected non-nil DB when context provided")
	}
	if withCtx.Statement.Context != ctx {
		t.Fatalf("expected context to flow through, got %v", withCtx.Statement.Context)
	}

	withoutCtx := base.DB(nil)
	if withoutCtx != db {
		t.Fatalf("expected nil context to return raw connection")
	}
}

func TestConnPrefersTransaction(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)
	ctx := context.WithValue(context.Background(), ctxKey{}, "tx")

	tx := db.Session(&gorm.Session{})
	conn := base.Conn(ctx, tx)
	if conn.Statement.Context != ctx {
		t.Fatalf("expected ctx bound to transaction handle")
	}
	if base.Conn(nil, tx) != tx {
		t.Fatalf("expected tx returned as-is without ctx")
	}
	if base.Conn(nil, nil) != db {
		t.Fatalf("expected base connection without tx")
	}
}

func TestLookupError(t *testing.T) {
	if LookupError(nil, "order") != nil {
		t.Fatal("nil error should stay nil")
	}
	if !pkgerrors.IsCode(LookupError(gorm.ErrRecordNotFound, "order"), pkgerrors.CodeNotFound) {
		t.Fatal("record not found should map to NotFound")
	}
	err := LookupError(errors.New("conn reset"), "order")
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}
