package tenant

import (
	"context"
	"testing"
)

func TestStaticResolverIndexes(t *testing.T) {
	r := NewStaticResolver([]*Tenant{
		{ID: "t1", Ref: "proj1", Host: "proj1.example.com", S3AccessKeyID: "AK1"},
		{ID: "t2", Ref: "proj2"},
	})
	ctx := context.Background()

	if got, ok, _ := r.ByID(ctx, "t1"); !ok || got.Ref != "proj1" {
		t.Fatalf("ByID = %+v ok=%v", got, ok)
	}
	if got, ok, _ := r.ByRef(ctx, "proj2"); !ok || got.ID != "t2" {
		t.Fatalf("ByRef = %+v ok=%v", got, ok)
	}
	if got, ok, _ := r.ByHost(ctx, "proj1.example.com"); !ok || got.ID != "t1" {
		t.Fatalf("ByHost = %+v ok=%v", got, ok)
	}
	if got, ok, _ := r.ByAccessKeyID(ctx, "AK1"); !ok || got.ID != "t1" {
		t.Fatalf("ByAccessKeyID = %+v ok=%v", got, ok)
	}

	if _, ok, _ := r.ByID(ctx, "nope"); ok {
		t.Fatal("unknown id resolved")
	}
	// t2 has no host or access key; empty lookups must not alias it.
	if _, ok, _ := r.ByHost(ctx, ""); ok {
		t.Fatal("empty host resolved")
	}
	if _, ok, _ := r.ByAccessKeyID(ctx, ""); ok {
		t.Fatal("empty access key resolved")
	}
}
