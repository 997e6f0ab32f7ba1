package tus

import (
	"encoding/base64"
	"testing"
)

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestParseUploadMetadata(t *testing.T) {
	header := "bucketName " + b64("avatars") + ",objectName " + b64("users/1/pic.png") + ",contentType " + b64("image/png")
	meta := parseUploadMetadata(header)

	if meta["bucketName"] != "avatars" {
		t.Fatalf("bucketName = %q", meta["bucketName"])
	}
	if meta["objectName"] != "users/1/pic.png" {
		t.Fatalf("objectName = %q", meta["objectName"])
	}
	if meta["contentType"] != "image/png" {
		t.Fatalf("contentType = %q", meta["contentType"])
	}
}

func TestParseUploadMetadataValuelessKey(t *testing.T) {
	meta := parseUploadMetadata("isConfidential, bucketName " + b64("b"))
	if _, ok := meta["isConfidential"]; !ok {
		t.Fatal("valueless key dropped")
	}
	if meta["isConfidential"] != "" {
		t.Fatalf("valueless key = %q", meta["isConfidential"])
	}
	if meta["bucketName"] != "b" {
		t.Fatalf("bucketName = %q", meta["bucketName"])
	}
}

func TestParseUploadMetadataGarbageValue(t *testing.T) {
	meta := parseUploadMetadata("bucketName !!notbase64!!")
	if meta["bucketName"] != "" {
		t.Fatalf("invalid base64 produced %q", meta["bucketName"])
	}
}

func TestParseUploadMetadataEmpty(t *testing.T) {
	if meta := parseUploadMetadata(""); len(meta) != 0 {
		t.Fatalf("empty header produced %v", meta)
	}
}
