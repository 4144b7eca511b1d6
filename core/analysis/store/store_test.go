package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func TestPutWritesVerbatimKey(t *testing.T) {
	srv := newMiniRedis(t)
	s := NewRedisStore("redis://"+srv.Addr(), "cjlint_", 0, time.Second)
	repo := "https://gitcode.com/Cangjie/demo.git"
	if err := s.Put(context.Background(), repo, []byte(`{"commit":"a"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := srv.Get("cjlint_" + repo)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != `{"commit":"a"}` {
		t.Fatalf("unexpected value %q", got)
	}
	if ttl := srv.TTL("cjlint_" + repo); ttl != 0 {
		t.Fatalf("expected no ttl, got %s", ttl)
	}
}

func TestPutLastWriteWins(t *testing.T) {
	srv := newMiniRedis(t)
	s := NewRedisStore("redis://"+srv.Addr(), "cjlint_", 0, 0)
	for _, v := range []string{"first", "second"} {
		if err := s.Put(context.Background(), "repo", []byte(v)); err != nil {
			t.Fatalf("put %s: %v", v, err)
		}
	}
	if got, _ := srv.Get("cjlint_repo"); got != "second" {
		t.Fatalf("expected last write, got %q", got)
	}
}

func TestPutDistinctIdentifiers(t *testing.T) {
	srv := newMiniRedis(t)
	s := NewRedisStore("redis://"+srv.Addr(), "cjlint_", 0, 0)
	ctx := context.Background()
	if err := s.Put(ctx, "https://host/a.git", []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "https://host/a", []byte("2")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if len(srv.Keys()) != 2 {
		t.Fatalf("expected two independent keys, got %v", srv.Keys())
	}
}

func TestPutWithTTL(t *testing.T) {
	srv := newMiniRedis(t)
	s := NewRedisStore("redis://"+srv.Addr(), "p:", time.Hour, 0)
	if err := s.Put(context.Background(), "r", []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ttl := srv.TTL("p:r"); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %s", ttl)
	}
}

func TestPutMissingURL(t *testing.T) {
	s := NewRedisStore("  ", "cjlint_", 0, 0)
	if err := s.Put(context.Background(), "r", []byte("v")); !errors.Is(err, ErrMissingURL) {
		t.Fatalf("expected ErrMissingURL, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := NewRedisStore("", "p", 0, 0).Validate(); !errors.Is(err, ErrMissingURL) {
		t.Fatalf("expected ErrMissingURL, got %v", err)
	}
	if err := NewRedisStore("http://nope", "p", 0, 0).Validate(); err == nil {
		t.Fatalf("expected url parse error")
	}
	if err := NewRedisStore("redis://localhost:6379/0", "p", 0, 0).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPutServerDown(t *testing.T) {
	srv := newMiniRedis(t)
	addr := srv.Addr()
	srv.Close()
	s := NewRedisStore("redis://"+addr, "cjlint_", 0, 500*time.Millisecond)
	if err := s.Put(context.Background(), "r", []byte("v")); err == nil {
		t.Fatalf("expected error against closed server")
	}
}

func TestDiscard(t *testing.T) {
	if err := (Discard{}).Put(context.Background(), "r", nil); err != nil {
		t.Fatalf("discard: %v", err)
	}
}
