package ducklake

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
)

// PathPrefix marks an object key as a virtual DuckLake metadata path.
const PathPrefix = "__ducklake__/"

// Path is a parsed virtual metadata path:
//
//	__ducklake__/t<tableId>/s<snapshotId>/snap-<snapshotId>.avro
//	__ducklake__/t<tableId>/s<snapshotId>/<snapshotId>-m<n>.avro
type Path struct {
	TableID        int64
	SnapshotID     int64
	File           string
	IsManifestList bool
}

var manifestFileRe = regexp.MustCompile(`^(\d+)-m(\d+)\.avro$`)

// IsVirtualPath reports whether key addresses DuckLake metadata.
func IsVirtualPath(key string) bool {
	return strings.HasPrefix(key, PathPrefix)
}

// ParsePath decodes a virtual path, validating that embedded snapshot
// ids agree with the directory components.
func ParsePath(p string) (*Path, error) {
	rest, ok := strings.CutPrefix(p, PathPrefix)
	if !ok {
		return nil, apierr.New(apierr.InvalidKey, "not a ducklake metadata path")
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return nil, apierr.New(apierr.InvalidKey, "malformed ducklake metadata path")
	}

	tablePart, snapPart, file := parts[0], parts[1], parts[2]
	if !strings.HasPrefix(tablePart, "t") || !strings.HasPrefix(snapPart, "s") {
		return nil, apierr.New(apierr.InvalidKey, "malformed ducklake metadata path")
	}
	tableID, err := strconv.ParseInt(tablePart[1:], 10, 64)
	if err != nil {
		return nil, apierr.New(apierr.InvalidKey, "invalid table id")
	}
	snapshotID, err := strconv.ParseInt(snapPart[1:], 10, 64)
	if err != nil {
		return nil, apierr.New(apierr.InvalidKey, "invalid snapshot id")
	}

	out := &Path{TableID: tableID, SnapshotID: snapshotID, File: file}
	switch {
	case file == fmt.Sprintf("snap-%d.avro", snapshotID):
		out.IsManifestList = true
	case manifestFileRe.MatchString(file):
		m := manifestFileRe.FindStringSubmatch(file)
		if m[1] != strconv.FormatInt(snapshotID, 10) {
			return nil, apierr.New(apierr.InvalidKey, "manifest snapshot id mismatch")
		}
	default:
		return nil, apierr.New(apierr.InvalidKey, "unrecognized ducklake metadata file")
	}
	return out, nil
}
