package meta

import (
	"context"
	"testing"
)

func TestMetadataRoundTripThroughContext(t *testing.T) {
	md := New()
	md.Set("ip", "10.0.0.1")
	md.Set("attempts", 3)
	md.Set("user_id", "")

	ctx := md.WithContext(context.Background())

	if got := String(ctx, "ip"); got != "10.0.0.1" {
		t.Fatalf("String(ip) = %q", got)
	}
	n, err := Get[int](ctx, "attempts")
	if err != nil || n != 3 {
		t.Fatalf("Get[int](attempts) = %d, %v", n, err)
	}
	if _, ok := FromContext(ctx).Get("user_id"); ok {
		t.Fatal("empty strings must not be stored")
	}
	if keys := FromContext(ctx).Keys(); len(keys) != 2 || keys[0] != "attempts" || keys[1] != "ip" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestGetErrors(t *testing.T) {
	md := New()
	md.Set("attempts", 3)
	ctx := md.WithContext(context.Background())

	if _, err := Get[string](ctx, "missing"); err == nil {
		t.Fatal("expected an error for a missing key")
	}
	if _, err := Get[string](ctx, "attempts"); err == nil {
		t.Fatal("expected an error for a type mismatch")
	}
	if got := String(context.Background(), "ip"); got != "" {
		t.Fatalf("expected empty string without metadata, got %q", got)
	}
}

func TestNilMetadata(t *testing.T) {
	var md *Metadata
	if _, ok := md.Get("x"); ok {
		t.Fatal("nil metadata has no values")
	}
	if md.Keys() != nil {
		t.Fatal("nil metadata has no keys")
	}
}
