package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseRESTError(t *testing.T) {
	t.Run("iceberg envelope", func(t *testing.T) {
		body := []byte(`{"error":{"message":"table exists","type":"AlreadyExistsException","code":409}}`)
		err := parseRESTError(409, body)
		re, ok := err.(*RESTError)
		if !ok {
			t.Fatalf("err type %T", err)
		}
		if re.Message != "table exists" || re.Code != 409 {
			t.Fatalf("parsed %+v", re)
		}
		if !IsConflict(err) {
			t.Fatal("409 not classified as conflict")
		}
	})

	t.Run("plain body synthesizes an envelope", func(t *testing.T) {
		err := parseRESTError(503, []byte("upstream down"))
		re := err.(*RESTError)
		if re.Code != 503 || re.Message != "upstream down" {
			t.Fatalf("parsed %+v", re)
		}
	})

	t.Run("404 classification", func(t *testing.T) {
		if !IsNotFound(parseRESTError(404, nil)) {
			t.Fatal("404 not classified as not found")
		}
	})
}

func TestRESTClientAgainstFakeUpstream(t *testing.T) {
	var gotAuth, gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/config":
			_ = json.NewEncoder(w).Encode(map[string]any{"defaults": map[string]string{"warehouse": r.URL.Query().Get("warehouse")}})
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{"identifiers": []map[string]any{{"namespace": []string{"ns"}, "name": "t1"}}})
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "exists", "type": "AlreadyExists", "code": 409}})
		}
	}))
	defer upstream.Close()

	c := NewRESTClient([]string{upstream.URL}, "tok")
	ctx := context.Background()

	cfg, err := c.Config(ctx, 0, "wh_1")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg["defaults"] == nil {
		t.Fatalf("config body = %v", cfg)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth header = %q", gotAuth)
	}

	tables, err := c.ListTables(ctx, 0, "wh_1", "ns")
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	if len(tables) != 1 || tables[0] != "t1" {
		t.Fatalf("tables = %v", tables)
	}
	if gotPath != "/v1/wh_1/namespaces/ns/tables" {
		t.Fatalf("path = %q", gotPath)
	}

	err = c.CreateNamespace(ctx, 0, "wh_1", "ns")
	if !IsConflict(err) {
		t.Fatalf("create namespace err = %v, want conflict", err)
	}

	if _, err := c.Config(ctx, 5, "wh_1"); err == nil {
		t.Fatal("unknown shard unexpectedly succeeded")
	}
}
