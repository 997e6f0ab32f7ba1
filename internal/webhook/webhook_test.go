package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type staticTargets struct {
	url    string
	secret string
}

func (s *staticTargets) Resolve(context.Context, string) (*Target, bool) {
	if s.url == "" {
		return nil, false
	}
	return &Target{URL: s.url, Secret: s.secret}, true
}

func TestDispatcherDeliversEnvelope(t *testing.T) {
	received := make(chan []byte, 1)
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		body, _ := io.ReadAll(r.Body)
		received <- body
	}))
	defer srv.Close()

	d := New(&staticTargets{url: srv.URL, secret: "shh"}, nil)
	defer d.Close()

	d.Emit("tenant-ref", Event{
		Version: "v1",
		Type:    ObjectCreatedPut,
		Payload: Payload{
			Tenant:   TenantRef{Ref: "tenant-ref", Host: "t.example.com"},
			BucketID: "b1",
			Name:     "k1",
			Version:  "ver-1",
			ReqID:    "req-9",
		},
		ApplyTime: 1700000000000,
	})

	var body []byte
	select {
	case body = <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("webhook was never delivered")
	}
	if gotSig != "shh" {
		t.Fatalf("signature header = %q", gotSig)
	}

	var env map[string]any
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env["type"] != "Webhook" {
		t.Fatalf("type = %v", env["type"])
	}
	if env["sentAt"] == nil || env["tenant"] == nil {
		t.Fatalf("envelope missing sentAt/tenant: %v", env)
	}

	ev := env["event"].(map[string]any)
	if ev["$version"] != "v1" {
		t.Fatalf("$version = %v", ev["$version"])
	}
	if ev["type"] != string(ObjectCreatedPut) {
		t.Fatalf("event type = %v", ev["type"])
	}
	payload := ev["payload"].(map[string]any)
	if payload["bucketId"] != "b1" || payload["name"] != "k1" || payload["version"] != "ver-1" || payload["reqId"] != "req-9" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestDispatcherRetriesOn5xx(t *testing.T) {
	attempts := make(chan struct{}, 8)
	fail := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts <- struct{}{}
		if fail {
			fail = false
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	d := New(&staticTargets{url: srv.URL}, nil)
	defer d.Close()

	d.Emit("t", Event{Type: ObjectRemoved, Payload: Payload{BucketID: "b", Name: "k"}})

	for i := 0; i < 2; i++ {
		select {
		case <-attempts:
		case <-time.After(3 * time.Second):
			t.Fatalf("delivery attempt %d never arrived", i+1)
		}
	}
}

func TestDispatcherSkipsUnresolvedTenant(t *testing.T) {
	d := New(&staticTargets{}, nil)
	defer d.Close()
	// Must not panic or block when the tenant has no webhook target.
	d.Emit("unknown", Event{Type: ObjectRemoved})
}

func TestEventTypeNames(t *testing.T) {
	want := map[EventType]string{
		ObjectCreatedPut:           "Object:Created:Put",
		ObjectCreatedPost:          "Object:Created:Post",
		ObjectCreatedCopy:          "Object:Created:Copy",
		ObjectCreatedMove:          "Object:Created:Move",
		ObjectRemoved:              "Object:Removed",
		ObjectRemovedMove:          "Object:Removed:Move",
		ObjectUpdatedMetadata:      "Object:UpdatedMetadata",
		ObjectAdminDelete:          "Object:AdminDelete",
		ObjectAdminDeleteAllBefore: "Object:AdminDeleteAllBefore",
	}
	for ev, name := range want {
		if string(ev) != name {
			t.Errorf("%v != %s", ev, name)
		}
	}
}
