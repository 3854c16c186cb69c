package storage

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		rc.Close()
		m.Close()
	})
	return m, rc
}

func TestRedisDeduper(t *testing.T) {
	m, rc := setupRedis(t)
	d := NewRedisDeduper(rc, time.Minute)
	ctx := context.Background()

	added, err := d.Add(ctx, "r1")
	if err != nil || !added {
		t.Fatalf("expected first add to succeed, got %v %v", added, err)
	}
	added, err = d.Add(ctx, "r1")
	if err != nil || added {
		t.Fatalf("expected duplicate add to be rejected, got %v %v", added, err)
	}
	if ttl := m.TTL("req:r1"); ttl != time.Minute {
		t.Fatalf("expected ttl %v, got %v", time.Minute, ttl)
	}
	if err := d.Remove(ctx, "r1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	added, err = d.Add(ctx, "r1")
	if err != nil || !added {
		t.Fatalf("expected add after remove to succeed, got %v %v", added, err)
	}
}

func TestRedisDeduperExpires(t *testing.T) {
	m, rc := setupRedis(t)
	d := NewRedisDeduper(rc, time.Second)
	ctx := context.Background()
	if _, err := d.Add(ctx, "r1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	m.FastForward(2 * time.Second)
	added, err := d.Add(ctx, "r1")
	if err != nil || !added {
		t.Fatalf("expected key to expire, got %v %v", added, err)
	}
}

func TestMemoryDeduper(t *testing.T) {
	now := time.Unix(1000, 0)
	d := NewMemoryDeduper(time.Minute)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	if added, _ := d.Add(ctx, "r1"); !added {
		t.Fatal("expected first add to succeed")
	}
	if added, _ := d.Add(ctx, "r1"); added {
		t.Fatal("expected duplicate within ttl")
	}
	now = now.Add(2 * time.Minute)
	if added, _ := d.Add(ctx, "r1"); !added {
		t.Fatal("expected add after expiry to succeed")
	}
	_ = d.Remove(ctx, "r1")
	if added, _ := d.Add(ctx, "r1"); !added {
		t.Fatal("expected add after remove to succeed")
	}
}

func TestRedisDeduperTracksCompletion(t *testing.T) {
	m, rc := setupRedis(t)
	d := NewRedisDeduper(rc, time.Minute)
	ctx := context.Background()

	if found, _, err := d.Lookup(ctx, "r1"); err != nil || found {
		t.Fatalf("expected unknown key, got %v %v", found, err)
	}
	if _, err := d.Add(ctx, "r1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	found, done, err := d.Lookup(ctx, "r1")
	if err != nil || !found || done {
		t.Fatalf("expected pending key, got %v %v %v", found, done, err)
	}
	if err := d.Complete(ctx, "r1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	found, done, err = d.Lookup(ctx, "r1")
	if err != nil || !found || !done {
		t.Fatalf("expected completed key, got %v %v %v", found, done, err)
	}
	if ttl := m.TTL("req:r1"); ttl != time.Minute {
		t.Fatalf("expected ttl %v, got %v", time.Minute, ttl)
	}

	_ = d.Remove(ctx, "r2")
	if err := d.Complete(ctx, "r2"); err != nil {
		t.Fatalf("complete missing: %v", err)
	}
	if m.Exists("req:r2") {
		t.Fatal("complete must not recreate a released key")
	}
}

func TestMemoryDeduperTracksCompletion(t *testing.T) {
	now := time.Unix(1000, 0)
	d := NewMemoryDeduper(time.Minute)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = d.Add(ctx, "r1")
	if found, done, _ := d.Lookup(ctx, "r1"); !found || done {
		t.Fatalf("expected pending key, got %v %v", found, done)
	}
	_ = d.Complete(ctx, "r1")
	if found, done, _ := d.Lookup(ctx, "r1"); !found || !done {
		t.Fatalf("expected completed key, got %v %v", found, done)
	}
	_ = d.Complete(ctx, "r2")
	if found, _, _ := d.Lookup(ctx, "r2"); found {
		t.Fatal("complete must not recreate a released key")
	}
	now = now.Add(2 * time.Minute)
	if found, _, _ := d.Lookup(ctx, "r1"); found {
		t.Fatal("expected expired key to be unknown")
	}
}
