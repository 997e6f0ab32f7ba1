package apierr

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusMapping(t *testing.T) {
	cases := map[Code]int{
		NoSuchBucket:           404,
		NoSuchKey:              404,
		NoSuchUpload:           404,
		InvalidJWT:             400,
		TenantNotFound:         400,
		EntityTooLarge:         413,
		InternalError:          500,
		ResourceAlreadyExists:  409,
		DatabaseTimeout:        544,
		AccessDenied:           403,
		ResourceLocked:         423,
		MissingContentLength:   411,
		InvalidUploadSignature: 400,
		LockTimeout:            503,
		SlowDown:               503,
		ExpiredSignature:       400,
	}
	for code, want := range cases {
		if got := New(code, "x").Status(); got != want {
			t.Errorf("%s status = %d, want %d", code, got, want)
		}
	}
}

func TestRender(t *testing.T) {
	status, body := New(NoSuchKey, "object not found").Render()
	if status != 404 || body.StatusCode != 404 || body.Code != "NoSuchKey" || body.Message != "object not found" {
		t.Fatalf("render = %d %+v", status, body)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("pq: connection refused")
	err := Wrap(InternalError, "query failed", cause)

	if !errors.Is(err, cause) {
		t.Fatal("Unwrap chain lost the cause")
	}
	if err.GetOriginalError() != cause {
		t.Fatalf("GetOriginalError = %v", err.GetOriginalError())
	}
}

func TestAsClassifiesUnknownErrors(t *testing.T) {
	plain := fmt.Errorf("something broke")
	ae := As(plain)
	if ae.Code != InternalError {
		t.Fatalf("code = %s", ae.Code)
	}
	if ae.GetOriginalError() != plain {
		t.Fatalf("cause = %v", ae.GetOriginalError())
	}

	typed := New(AccessDenied, "no")
	if As(typed) != typed {
		t.Fatal("As re-wrapped an already classified error")
	}
	if As(nil) != nil {
		t.Fatal("As(nil) != nil")
	}
}
