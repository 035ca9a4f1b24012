//go:build integration
// +build integration

package cache

import (
	"context"
	"testing"

	"github.com/kjstillabower/meteo-pwa/internal/testhelpers"
)

// TestRedisStore_RoundTrip_Integration verifies put, list, get and delete against a live redis.
func TestRedisStore_RoundTrip_Integration(t *testing.T) {
	client := NewRedisClient(testhelpers.RedisAddr(), "", 0)
	store := NewRedisStore(client, "meteo-test:")
	defer store.Close()

	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	defer store.Delete(ctx, "it-v1")

	e := sampleEntry("https://example.com/index.html", "<html></html>")
	if err := store.PutAll(ctx, "it-v1", map[string]Entry{e.URL: e}); err != nil {
		t.Fatalf("PutAll() error = %v", err)
	}
	got, ok, err := store.Get(ctx, "it-v1", e.URL)
	if err != nil || !ok {
		t.Fatalf("Get() = (%v, %v), want hit", ok, err)
	}
	if string(got.Body) != "<html></html>" {
		t.Errorf("Body = %q", got.Body)
	}
	if err := store.Delete(ctx, "it-v1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := store.Get(ctx, "it-v1", e.URL); ok {
		t.Error("entry still present after Delete")
	}
}
