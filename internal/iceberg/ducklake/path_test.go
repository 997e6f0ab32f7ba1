package ducklake

import "testing"

func TestParsePath(t *testing.T) {
	t.Run("manifest list", func(t *testing.T) {
		p, err := ParsePath("__ducklake__/t17/s3/snap-3.avro")
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if p.TableID != 17 || p.SnapshotID != 3 || !p.IsManifestList {
			t.Fatalf("parsed = %+v", p)
		}
	})

	t.Run("manifest file", func(t *testing.T) {
		p, err := ParsePath("__ducklake__/t17/s3/3-m1.avro")
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if p.IsManifestList || p.File != "3-m1.avro" {
			t.Fatalf("parsed = %+v", p)
		}
	})

	t.Run("rejects malformed paths", func(t *testing.T) {
		bad := []string{
			"not-ducklake/t1/s1/snap-1.avro",
			"__ducklake__/t1/s1",
			"__ducklake__/x1/s1/snap-1.avro",
			"__ducklake__/t1/sX/snap-1.avro",
			"__ducklake__/t1/s1/snap-2.avro", // snapshot mismatch
			"__ducklake__/t1/s1/2-m0.avro",   // snapshot mismatch
			"__ducklake__/t1/s1/whatever.txt",
		}
		for _, path := range bad {
			if _, err := ParsePath(path); err == nil {
				t.Errorf("ParsePath(%q) unexpectedly succeeded", path)
			}
		}
	})
}

func TestIsVirtualPath(t *testing.T) {
	if !IsVirtualPath("__ducklake__/t1/s1/snap-1.avro") {
		t.Fatal("prefix not recognized")
	}
	if IsVirtualPath("regular/object/key") {
		t.Fatal("regular key misclassified")
	}
}
