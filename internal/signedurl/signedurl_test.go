package signedurl

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestSignVerifyRoundtrip(t *testing.T) {
	secret := []byte("url-signing-key")
	p := Payload{URL: "/object/bucket/path/to/key", Owner: "user-1", Upsert: true}

	token, err := Sign(secret, p, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, err := Verify([][]byte{secret}, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.URL != p.URL || got.Owner != p.Owner || !got.Upsert {
		t.Fatalf("payload roundtrip mismatch: %+v", got)
	}
	if got.Exp == 0 {
		t.Fatal("expiry was not stamped")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	token, err := Sign([]byte("right"), Payload{URL: "/x"}, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := Verify([][]byte{[]byte("wrong")}, token); err != ErrInvalidToken {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyAcceptsRotatedKey(t *testing.T) {
	old := []byte("rotated-out")
	token, err := Sign(old, Payload{URL: "/x"}, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	// The current key set still carries the old key during rotation.
	if _, err := Verify([][]byte{[]byte("current"), old}, token); err != nil {
		t.Fatalf("verify with rotated key set: %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	token, err := Sign([]byte("k"), Payload{URL: "/x", Exp: time.Now().Add(-time.Minute).Unix()}, 0)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := Verify([][]byte{[]byte("k")}, token); err != ErrExpiredToken {
		t.Fatalf("err = %v, want ErrExpiredToken", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	token, err := Sign([]byte("k"), Payload{URL: "/object/b/original"}, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	idx := strings.LastIndexByte(token, '.')

	raw, _ := base64.RawURLEncoding.DecodeString(token[:idx])
	var p map[string]any
	_ = json.Unmarshal(raw, &p)
	p["url"] = "/object/b/other"
	tampered, _ := json.Marshal(p)

	forged := base64.RawURLEncoding.EncodeToString(tampered) + token[idx:]
	if _, err := Verify([][]byte{[]byte("k")}, forged); err != ErrInvalidToken {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestRoleIsNeverSigned(t *testing.T) {
	token, err := Sign([]byte("k"), Payload{URL: "/x", Role: "service_role"}, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	idx := strings.LastIndexByte(token, '.')
	raw, _ := base64.RawURLEncoding.DecodeString(token[:idx])
	if strings.Contains(string(raw), "service_role") || strings.Contains(string(raw), "role") {
		t.Fatalf("role leaked into signed payload: %s", raw)
	}

	got, err := Verify([][]byte{[]byte("k")}, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Role != "" {
		t.Fatalf("verified payload carries role %q", got.Role)
	}
}

func TestMalformedTokens(t *testing.T) {
	for _, token := range []string{"", "nodot", "a.b.c!!", "!badbase64.sig"} {
		if _, err := Verify([][]byte{[]byte("k")}, token); err == nil {
			t.Fatalf("token %q unexpectedly verified", token)
		}
	}
}
