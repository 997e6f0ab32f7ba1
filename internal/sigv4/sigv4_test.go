package sigv4

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
)

type staticCreds struct {
	access string
	secret string
}

func (s *staticCreds) Lookup(_ context.Context, accessKeyID string) (*Credential, error) {
	if accessKeyID != s.access {
		return nil, nil
	}
	return &Credential{AccessKeyID: s.access, SecretAccessKey: s.secret, TenantID: "t1"}, nil
}

// signHeader attaches a valid Authorization-header signature to req, the
// way an AWS SDK client would.
func signHeader(t *testing.T, v *Verifier, req *http.Request, access, secret, region string) {
	t.Helper()

	longDate := req.Header.Get("X-Amz-Date")
	if longDate == "" {
		t.Fatal("request needs X-Amz-Date before signing")
	}
	date := longDate[:8]
	signedHeaders := []string{"host", "x-amz-date"}

	p := &parsed{
		accessKeyID:   access,
		date:          date,
		region:        region,
		service:       "s3",
		signedHeaders: signedHeaders,
		payloadHash:   req.Header.Get("X-Amz-Content-Sha256"),
	}
	var err error
	p.longDate, err = time.Parse(longDateFormat, longDate)
	if err != nil {
		t.Fatalf("parse long date: %v", err)
	}
	if p.payloadHash == "" {
		// Hash the body the way a client that omits the header would
		// have hashed it when signing, leaving the body readable.
		if req.Body == nil || req.ContentLength == 0 {
			p.payloadHash = emptyBodySHA256
		} else {
			data, err := io.ReadAll(req.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			req.Body = io.NopCloser(bytes.NewReader(data))
			p.payloadHash = sha256Hex(data)
		}
	}

	canonical, err := v.canonicalRequest(req, p)
	if err != nil {
		t.Fatalf("canonical request: %v", err)
	}
	sig := hmacHex(signingKey(secret, date, region, "s3"), v.stringToSign(p, canonical))

	req.Header.Set("Authorization",
		algorithm+" Credential="+access+"/"+date+"/"+region+"/s3/aws4_request"+
			",SignedHeaders="+strings.Join(signedHeaders, ";")+
			",Signature="+sig)
}

func newSignedRequest(t *testing.T, v *Verifier, method, target, access, secret, region string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("X-Amz-Date", time.Now().UTC().Format(longDateFormat))
	signHeader(t, v, req, access, secret, region)
	return req
}

func TestVerifyHeaderSignature(t *testing.T) {
	v := NewVerifier("us-east-1", "s3", false)
	creds := &staticCreds{access: "AKIDEXAMPLE", secret: "secret123"}

	t.Run("valid signature", func(t *testing.T) {
		req := newSignedRequest(t, v, http.MethodGet, "http://bucket.example.com/b/k", "AKIDEXAMPLE", "secret123", "us-east-1")
		cred, err := v.Verify(context.Background(), req, creds)
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if cred.TenantID != "t1" {
			t.Fatalf("tenant = %q, want t1", cred.TenantID)
		}
	})

	t.Run("wrong secret fails", func(t *testing.T) {
		req := newSignedRequest(t, v, http.MethodGet, "http://bucket.example.com/b/k", "AKIDEXAMPLE", "wrong", "us-east-1")
		_, err := v.Verify(context.Background(), req, creds)
		assertCode(t, err, apierr.InvalidSignature)
	})

	t.Run("unknown access key fails", func(t *testing.T) {
		req := newSignedRequest(t, v, http.MethodGet, "http://bucket.example.com/b/k", "NOBODY", "secret123", "us-east-1")
		_, err := v.Verify(context.Background(), req, creds)
		assertCode(t, err, apierr.AccessDenied)
	})

	t.Run("tampered path fails", func(t *testing.T) {
		req := newSignedRequest(t, v, http.MethodGet, "http://bucket.example.com/b/k", "AKIDEXAMPLE", "secret123", "us-east-1")
		req.URL.Path = "/b/other"
		req.URL.RawPath = ""
		_, err := v.Verify(context.Background(), req, creds)
		assertCode(t, err, apierr.InvalidSignature)
	})

	t.Run("missing signature fails", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://example.com/b/k", nil)
		_, err := v.Verify(context.Background(), req, creds)
		assertCode(t, err, apierr.AccessDenied)
	})

	t.Run("absent content-sha256 header hashes the body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "http://bucket.example.com/b/k", strings.NewReader("hello body"))
		req.Header.Set("X-Amz-Date", time.Now().UTC().Format(longDateFormat))
		signHeader(t, v, req, "AKIDEXAMPLE", "secret123", "us-east-1")

		if _, err := v.Verify(context.Background(), req, creds); err != nil {
			t.Fatalf("verify: %v", err)
		}
		// The body must still be readable by the handler afterwards.
		data, err := io.ReadAll(req.Body)
		if err != nil || string(data) != "hello body" {
			t.Fatalf("body after verify = %q, %v", data, err)
		}
	})

	t.Run("tampered body fails when header is absent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "http://bucket.example.com/b/k", strings.NewReader("original"))
		req.Header.Set("X-Amz-Date", time.Now().UTC().Format(longDateFormat))
		signHeader(t, v, req, "AKIDEXAMPLE", "secret123", "us-east-1")

		req.Body = io.NopCloser(strings.NewReader("tampered"))
		_, err := v.Verify(context.Background(), req, creds)
		assertCode(t, err, apierr.InvalidSignature)
	})
}

func TestRegionPolicy(t *testing.T) {
	creds := &staticCreds{access: "AK", secret: "sk"}

	t.Run("enforcement off accepts auto and default", func(t *testing.T) {
		v := NewVerifier("eu-west-2", "s3", false)
		for _, region := range []string{"auto", "us-east-1", "eu-west-2"} {
			req := newSignedRequest(t, v, http.MethodGet, "http://h/b/k", "AK", "sk", region)
			if _, err := v.Verify(context.Background(), req, creds); err != nil {
				t.Fatalf("region %q: %v", region, err)
			}
		}
		req := newSignedRequest(t, v, http.MethodGet, "http://h/b/k", "AK", "sk", "ap-south-1")
		_, err := v.Verify(context.Background(), req, creds)
		assertCode(t, err, apierr.AccessDenied)
	})

	t.Run("enforcement on requires exact match", func(t *testing.T) {
		v := NewVerifier("eu-west-2", "s3", true)
		req := newSignedRequest(t, v, http.MethodGet, "http://h/b/k", "AK", "sk", "us-east-1")
		_, err := v.Verify(context.Background(), req, creds)
		assertCode(t, err, apierr.AccessDenied)
	})

	t.Run("wrong service fails", func(t *testing.T) {
		v := NewVerifier("us-east-1", "s3", false)
		req := httptest.NewRequest(http.MethodGet, "http://h/b/k", nil)
		longDate := time.Now().UTC().Format(longDateFormat)
		req.Header.Set("X-Amz-Date", longDate)
		req.Header.Set("Authorization",
			algorithm+" Credential=AK/"+longDate[:8]+"/us-east-1/sqs/aws4_request,SignedHeaders=host,Signature=deadbeef")
		_, err := v.Verify(context.Background(), req, creds)
		assertCode(t, err, apierr.AccessDenied)
	})
}

// presign builds a presigned GET URL signed at signTime.
func presign(t *testing.T, v *Verifier, rawURL, access, secret string, signTime time.Time, expires int) *http.Request {
	t.Helper()

	date := signTime.Format(shortDateFormat)
	longDate := signTime.Format(longDateFormat)

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()
	q.Set("X-Amz-Algorithm", algorithm)
	q.Set("X-Amz-Credential", access+"/"+date+"/us-east-1/s3/aws4_request")
	q.Set("X-Amz-Date", longDate)
	q.Set("X-Amz-Expires", strconv.Itoa(expires))
	q.Set("X-Amz-SignedHeaders", "host")
	u.RawQuery = q.Encode()

	req := httptest.NewRequest(http.MethodGet, u.String(), nil)

	p := &parsed{
		accessKeyID:   access,
		date:          date,
		region:        "us-east-1",
		service:       "s3",
		signedHeaders: []string{"host"},
		payloadHash:   "UNSIGNED-PAYLOAD",
	}
	p.longDate, _ = time.Parse(longDateFormat, longDate)

	canonical, err := v.canonicalRequest(req, p)
	if err != nil {
		t.Fatalf("canonical request: %v", err)
	}
	sig := hmacHex(signingKey(secret, date, "us-east-1", "s3"), v.stringToSign(p, canonical))

	q.Set("X-Amz-Signature", sig)
	u.RawQuery = q.Encode()
	return httptest.NewRequest(http.MethodGet, u.String(), nil)
}

func TestPresignedExpiry(t *testing.T) {
	creds := &staticCreds{access: "AK", secret: "sk"}
	signTime, _ := time.Parse(longDateFormat, "20240101T000000Z")

	t.Run("valid inside the window", func(t *testing.T) {
		v := NewVerifier("us-east-1", "s3", false)
		v.Now = func() time.Time { return signTime.Add(59 * time.Second) }
		req := presign(t, v, "http://h/b/k", "AK", "sk", signTime, 60)
		if _, err := v.Verify(context.Background(), req, creds); err != nil {
			t.Fatalf("verify at +59s: %v", err)
		}
	})

	t.Run("expired past the window", func(t *testing.T) {
		v := NewVerifier("us-east-1", "s3", false)
		v.Now = func() time.Time { return signTime.Add(61 * time.Second) }
		req := presign(t, v, "http://h/b/k", "AK", "sk", signTime, 60)
		_, err := v.Verify(context.Background(), req, creds)
		assertCode(t, err, apierr.ExpiredSignature)
	})
}

func TestResolveHost(t *testing.T) {
	mk := func(headers map[string]string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "http://literal.host/", nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req
	}

	t.Run("Forwarded wins", func(t *testing.T) {
		req := mk(map[string]string{
			"Forwarded":        `for=1.2.3.4;host="fwd.example.com"`,
			"X-Forwarded-Host": "xfh.example.com",
		})
		if got := resolveHost(req, nil); got != "fwd.example.com" {
			t.Fatalf("host = %q", got)
		}
	})

	t.Run("alias beats X-Forwarded-Host", func(t *testing.T) {
		req := mk(map[string]string{
			"X-Real-Host":      "alias.example.com",
			"X-Forwarded-Host": "xfh.example.com",
		})
		if got := resolveHost(req, []string{"X-Real-Host"}); got != "alias.example.com" {
			t.Fatalf("host = %q", got)
		}
	})

	t.Run("X-Forwarded-Host applies non-default port", func(t *testing.T) {
		req := mk(map[string]string{
			"X-Forwarded-Host": "xfh.example.com",
			"X-Forwarded-Port": "8443",
		})
		if got := resolveHost(req, nil); got != "xfh.example.com:8443" {
			t.Fatalf("host = %q", got)
		}
	})

	t.Run("default port is dropped", func(t *testing.T) {
		req := mk(map[string]string{
			"X-Forwarded-Host": "xfh.example.com",
			"X-Forwarded-Port": "443",
		})
		if got := resolveHost(req, nil); got != "xfh.example.com" {
			t.Fatalf("host = %q", got)
		}
	})

	t.Run("falls back to literal host", func(t *testing.T) {
		req := mk(nil)
		if got := resolveHost(req, nil); got != "literal.host" {
			t.Fatalf("host = %q", got)
		}
	})
}

func TestNeverSignedHeadersExcluded(t *testing.T) {
	v := NewVerifier("us-east-1", "s3", false)
	req := httptest.NewRequest(http.MethodGet, "http://h/b/k", nil)
	req.Header.Set("User-Agent", "aws-sdk-go/1.0")

	p := &parsed{
		signedHeaders: []string{"host", "user-agent"},
		payloadHash:   emptyBodySHA256,
	}
	canonical, err := v.canonicalRequest(req, p)
	if err != nil {
		t.Fatalf("canonical request: %v", err)
	}
	if strings.Contains(canonical, "user-agent") {
		t.Fatalf("user-agent must not appear in canonical request:\n%s", canonical)
	}
}

func assertCode(t *testing.T, err error, want apierr.Code) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	ae := apierr.As(err)
	if ae.Code != want {
		t.Fatalf("code = %s, want %s (err: %v)", ae.Code, want, err)
	}
}
