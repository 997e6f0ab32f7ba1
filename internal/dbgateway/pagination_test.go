package dbgateway

import (
	"encoding/base64"
	"testing"
)

func TestContinuationTokenRoundtrip(t *testing.T) {
	for _, cur := range []cursor{
		{lastName: "a", order: "asc", column: "name", after: "2024-01-01T00:00:00Z"},
		{lastName: "folder/deep/key.txt", order: "asc", column: "name"},
		{lastName: "spaces and ünïcode", order: "asc", column: "name", after: ""},
	} {
		token := encodeContinuation(cur)
		got, err := decodeContinuation(token)
		if err != nil {
			t.Fatalf("decode(%+v): %v", cur, err)
		}
		if got != cur {
			t.Fatalf("roundtrip = %+v, want %+v", got, cur)
		}
	}
}

func TestContinuationTokenDefaults(t *testing.T) {
	// Order and column default on both sides so a name-only cursor is
	// still a complete token.
	got, err := decodeContinuation(encodeContinuation(cursor{lastName: "k"}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.order != "asc" || got.column != "name" || got.lastName != "k" {
		t.Fatalf("decoded = %+v", got)
	}
}

func TestContinuationTokenFields(t *testing.T) {
	raw, err := base64.RawURLEncoding.DecodeString(encodeContinuation(cursor{
		lastName: "obj", after: "2024-06-01T12:00:00Z",
	}))
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	want := "l:obj\no:asc\nc:name\na:2024-06-01T12:00:00Z"
	if string(raw) != want {
		t.Fatalf("wire form = %q, want %q", raw, want)
	}
}

func TestContinuationTokenRejectsGarbage(t *testing.T) {
	bad := []string{
		"not base64 at all!!",
		base64.RawURLEncoding.EncodeToString([]byte("hello")),           // no field prefixes
		base64.RawURLEncoding.EncodeToString([]byte("o:asc\nc:name")),   // missing l:
		base64.RawURLEncoding.EncodeToString([]byte("l:a\nxx:unknown")), // unknown field
	}
	for _, token := range bad {
		if _, err := decodeContinuation(token); err == nil {
			t.Fatalf("token %q unexpectedly decoded", token)
		}
	}
}

func TestEscapeLike(t *testing.T) {
	cases := map[string]string{
		"plain/prefix":   "plain/prefix",
		"100%":           `100\%`,
		"under_score":    `under\_score`,
		`back\slash`:     `back\\slash`,
		`mix_%\` + "all": `mix\_\%\\all`,
	}
	for in, want := range cases {
		if got := escapeLike(in); got != want {
			t.Errorf("escapeLike(%q) = %q, want %q", in, got, want)
		}
	}
}
