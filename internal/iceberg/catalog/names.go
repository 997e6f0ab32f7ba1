// Resource-name policy for catalogs, namespaces, and tables, plus the
// tenant-to-internal warehouse name mapping every upstream call goes
// through.
package catalog

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
)

// DefaultReservedSuffixes are rejected for any tenant-facing resource
// name; a per-tenant Iceberg suffix override is appended at check time.
var DefaultReservedSuffixes = []string{"--iceberg", "--s3-table"}

var resourceNameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9_]*[a-z0-9])?$`)

// ValidateResourceName enforces the naming policy shared by catalog,
// namespace, and table names: lowercase alphanumerics and underscores,
// must start and end alphanumeric, 1-255 chars, no "aws" prefix, and no
// reserved suffix.
func ValidateResourceName(name string, extraReservedSuffixes ...string) error {
	if len(name) < 1 || len(name) > 255 {
		return apierr.New(apierr.InvalidRequest, "resource name must be 1-255 characters")
	}
	if !resourceNameRe.MatchString(name) {
		return apierr.New(apierr.InvalidRequest, "resource name must match [a-z0-9][a-z0-9_]*[a-z0-9]")
	}
	if strings.HasPrefix(name, "aws") {
		return apierr.New(apierr.InvalidRequest, `resource name must not start with "aws"`)
	}
	for _, sfx := range DefaultReservedSuffixes {
		if strings.HasSuffix(name, sfx) {
			return apierr.New(apierr.InvalidRequest, "resource name uses a reserved suffix")
		}
	}
	for _, sfx := range extraReservedSuffixes {
		if sfx != "" && strings.HasSuffix(name, sfx) {
			return apierr.New(apierr.InvalidRequest, "resource name uses a reserved suffix")
		}
	}
	return nil
}

// InternalName mints the upstream-visible warehouse identifier for a
// tenant resource: the tenant id joined to a fresh UUID with every dash
// flattened to an underscore, so the result survives the same naming
// policy upstream catalogs apply.
func InternalName(tenantID string) string {
	return tenantID + "_" + strings.ReplaceAll(uuid.NewString(), "-", "_")
}
