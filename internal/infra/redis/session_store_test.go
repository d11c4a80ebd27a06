package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"training-portal/internal/app"
)

func TestSessionStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewSessionStore(client, time.Minute)

	key := app.SessionKey{UserID: "u1", ModuleID: "m1"}
	session, created := store.GetOrCreate(key, func() *app.ExamSession {
		return app.NewExamSession(key, time.Minute, time.Now)
	})
	if !created {
		t.Fatalf("expected new session")
	}
	if !mr.Exists("exam:session:u1:m1") {
		t.Fatalf("expected redis key to be set")
	}

	users, err := store.LiveUsers(context.Background(), "m1")
	if err != nil || len(users) != 1 || users[0] != "u1" {
		t.Fatalf("expected u1 live on m1, got %v %v", users, err)
	}

	store.Delete(key, session)
	if mr.Exists("exam:session:u1:m1") {
		t.Fatalf("expected redis key to be removed")
	}
	if _, ok := store.Get(key); ok {
		t.Fatalf("expected session removed")
	}
}

func TestRevocationStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewRevocationStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if revoked, err := store.IsRevoked(ctx, "jti-1"); err != nil || revoked {
		t.Fatalf("expected unknown token not revoked, got %v %v", revoked, err)
	}
	if err := store.Revoke(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked, _ := store.IsRevoked(ctx, "jti-1"); !revoked {
		t.Fatalf("expected token revoked")
	}

	mr.FastForward(2 * time.Minute)
	if revoked, _ := store.IsRevoked(ctx, "jti-1"); revoked {
		t.Fatalf("expected revocation to expire with the token")
	}
}

func TestLiveUsersMatchesModuleLiterally(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewSessionStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	open := func(user, module string) {
		key := app.SessionKey{UserID: user, ModuleID: module}
		store.GetOrCreate(key, func() *app.ExamSession { return app.NewExamSession(key, time.Minute, time.Now) })
	}
	open("u1", "m1")
	open("u2", "m2")
	open("u3", "m[12]")
	open("u4", "m*")

	cases := map[string][]string{
		"m*":    {"u4"},
		"m[12]": {"u3"},
		"m?":    {},
		"m1":    {"u1"},
	}
	for module, want := range cases {
		got, err := store.LiveUsers(context.Background(), module)
		if err != nil {
			t.Fatalf("live users %q: %v", module, err)
		}
		if len(got) != len(want) || (len(want) == 1 && got[0] != want[0]) {
			t.Fatalf("module %q: expected %v, got %v", module, want, got)
		}
	}
}

func TestStaleDeleteKeepsNewerMarker(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewSessionStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	key := app.SessionKey{UserID: "u1", ModuleID: "m1"}
	newSession := func() *app.ExamSession { return app.NewExamSession(key, time.Minute, time.Now) }

	first, _ := store.GetOrCreate(key, newSession)
	store.Delete(key, first)
	second, created := store.GetOrCreate(key, newSession)
	if !created || second == first {
		t.Fatalf("expected a fresh session")
	}

	// the old session is gone, so deleting it again must not touch the new marker
	store.Delete(key, first)
	if !mr.Exists("exam:session:u1:m1") {
		t.Fatalf("expected the newer session's marker to survive")
	}

	// a marker rewritten by another instance is left alone too
	_ = mr.Set("exam:session:u1:m1", "other-instance")
	store.Delete(key, second)
	if v, _ := mr.Get("exam:session:u1:m1"); v != "other-instance" {
		t.Fatalf("expected foreign marker kept, got %q", v)
	}
	if _, ok := store.Get(key); ok {
		t.Fatalf("expected local session removed")
	}
}
