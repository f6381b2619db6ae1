package datastore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apiweld/apiweld/internal/types"
)

func TestFileStore(t *testing.T) {
	newStore := func(t *testing.T) Store {
		store, err := NewFile(t.TempDir())
		if err != nil {
			t.Fatalf("NewFile failed: %v", err)
		}
		return store
	}

	t.Run("configs", func(t *testing.T) { testStoreRoundTrip(t, newStore(t)) })
	t.Run("runs", func(t *testing.T) { testStoreRuns(t, newStore(t)) })
	t.Run("transforms", func(t *testing.T) { testStoreTransforms(t, newStore(t)) })
}

func TestFileStore_Layout(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFile(dir)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}

	ctx := context.Background()
	cfg := &types.ApiConfig{ID: "cfg1", URLHost: "https://x", CreatedAt: time.Now()}
	if err := store.UpsertApiConfig(ctx, "cfg1", cfg); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	// One JSON document per entity, grouped by kind.
	if _, err := os.Stat(filepath.Join(dir, "apis", "cfg1.json")); err != nil {
		t.Errorf("expected apis/cfg1.json: %v", err)
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFile(dir)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	cfg := &types.ApiConfig{ID: "keep", URLHost: "https://x", Instruction: "persist me", CreatedAt: time.Now()}
	if err := store.UpsertApiConfig(ctx, "keep", cfg); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	store.Close()

	reopened, err := NewFile(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, err := reopened.GetApiConfig(ctx, "keep")
	if err != nil {
		t.Fatalf("get after reopen failed: %v", err)
	}
	if got.Instruction != "persist me" {
		t.Errorf("got %q", got.Instruction)
	}
}
