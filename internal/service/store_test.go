package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ifuryst/lolify/internal/config"
	"github.com/ifuryst/lolify/internal/models"
)

func newTestStore(t *testing.T) *PostStore {
	t.Helper()
	db, err := NewDatabase(&config.DatabaseConfig{
		Type: "sqlite",
		Path: filepath.Join(t.TempDir(), "lolify.db"),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewPostStore(db, zap.NewNop())
}

const testHash = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func TestPostStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "funny cat", testHash, "media-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == 0 {
		t.Error("expected an assigned id")
	}

	found, err := store.FindByHash(ctx, testHash)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found == nil {
		t.Fatal("expected to find the post")
	}
	if found.Caption != "funny cat" || found.MediaID != "media-1" {
		t.Errorf("unexpected post: %+v", found)
	}
	if found.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestPostStoreFindMissing(t *testing.T) {
	store := newTestStore(t)

	found, err := store.FindByHash(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != nil {
		t.Errorf("expected nil, got %+v", found)
	}
}

func TestPostStoreDuplicateHash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "first", testHash, ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := store.Create(ctx, "second", testHash, "")
	if !errors.Is(err, ErrDuplicatePost) {
		t.Fatalf("expected ErrDuplicatePost, got %v", err)
	}

	count, err := store.CountPosts(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 post, got %d", count)
	}
}

func TestPostStoreTruncatesCaption(t *testing.T) {
	store := newTestStore(t)
	long := strings.Repeat("é", models.CaptionMaxLength+50)

	post, err := store.Create(context.Background(), long, testHash, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n := len([]rune(post.Caption)); n != models.CaptionMaxLength {
		t.Errorf("expected caption of %d runes, got %d", models.CaptionMaxLength, n)
	}
}

func TestPostStoreEnsureUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.EnsureUser(ctx, "9001")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	second, err := store.EnsureUser(ctx, "9001")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if first.ID == 0 || first.ID != second.ID {
		t.Errorf("expected the same user twice, got %d and %d", first.ID, second.ID)
	}
}

func TestPostStoreListPosts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, h := range []string{"a", "b", "c"} {
		if _, err := store.Create(ctx, "caption "+h, h, ""); err != nil {
			t.Fatalf("create %s: %v", h, err)
		}
	}

	posts, err := store.ListPosts(ctx, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	if posts[0].ContentHash != "c" {
		t.Errorf("expected newest first, got %q", posts[0].ContentHash)
	}
}
