// Package tenant defines the tenant record every policy decision in the
// gateway keys off, and the Resolver contract used to look it up.
//
// The tenant-config collaborator itself lives elsewhere: some other
// service owns provisioning tenants, rotating their keys, and persisting
// their webhook URL. This package only states the shape every other
// component needs from it.
package tenant

import "context"

// Tenant is the per-customer partition every bucket, credential, and
// cache key is scoped to.
type Tenant struct {
	ID   string
	Ref  string // external slug, e.g. subdomain
	Host string

	// JWTKeys holds the current and any still-valid rotated JWT signing
	// keys, newest first. REST JWT auth verifies against any of them.
	JWTKeys [][]byte

	// URLSigningKeys holds the current and any rotated HMAC keys used by
	// internal/signedurl.
	URLSigningKeys [][]byte

	// S3AccessKeyID/S3SecretAccessKey is this tenant's credential pair for
	// the gateway's own S3-compatible surface (internal/sigv4).
	S3AccessKeyID     string
	S3SecretAccessKey string

	// GlobalFileSizeLimit bounds every upload regardless of bucket policy;
	// zero means "no tenant-level cap" (bucket/global defaults still
	// apply).
	GlobalFileSizeLimit int64

	// IcebergSuffix overrides the default reserved "--iceberg" namespace
	// suffix for this tenant, if set.
	IcebergSuffix string

	// WebhookURL/WebhookSecret configure lifecycle event delivery.
	WebhookURL    string
	WebhookSecret string
}

// Resolver looks up tenants by id or external ref. Implementations may
// cache aggressively; callers needing bypass-the-cache semantics are
// expected to use the keyed-mutex-coalesced reload path Cache provides.
type Resolver interface {
	ByID(ctx context.Context, id string) (*Tenant, bool, error)
	ByRef(ctx context.Context, ref string) (*Tenant, bool, error)
	ByHost(ctx context.Context, host string) (*Tenant, bool, error)
	ByAccessKeyID(ctx context.Context, accessKeyID string) (*Tenant, bool, error)
}
