package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/reviewharvest/pipeline/internal/model"
)

func TestAppRepoUpsertPassesFieldsInOrder(t *testing.T) {
	pool := &fakePool{}
	repo := &AppRepo{pool: pool}

	app := model.App{ID: "737534985", Title: "Example", Description: "d", Version: "1.0", Developer: "Acme", Category: "Utilities"}
	if err := repo.Upsert(context.Background(), app); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(pool.execCalls) != 1 {
		t.Fatalf("expected 1 Exec call, got %d", len(pool.execCalls))
	}
	args := pool.execCalls[0]
	if args[0] != app.ID || args[1] != app.Title || args[4] != app.Developer {
		t.Fatalf("unexpected exec args: %+v", args)
	}
}

func TestAppRepoUpsertWrapsError(t *testing.T) {
	pool := &fakePool{execErr: errors.New("connection reset")}
	repo := &AppRepo{pool: pool}

	err := repo.Upsert(context.Background(), model.App{ID: "x", Title: "X"})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !errors.Is(err, pool.execErr) {
		t.Fatalf("expected the underlying error to be wrapped, got %v", err)
	}
}
