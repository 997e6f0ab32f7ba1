package s3router

import (
	"encoding/xml"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-mizu/mizu"
)

// parseByteRange parses a single "bytes=start-end" / "bytes=start-" /
// "bytes=-suffix" Range header against size. It returns the (offset,
// length) blobstore.ReadOptions needs, and false if the header doesn't
// describe a satisfiable single range.
func parseByteRange(header string, size int64) (offset, length int64, ok bool) {
	spec := strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	switch {
	case parts[0] == "" && parts[1] != "":
		suffixLen, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || suffixLen <= 0 {
			return 0, 0, false
		}
		if suffixLen > size {
			suffixLen = size
		}
		return size - suffixLen, suffixLen, true

	case parts[0] != "" && parts[1] == "":
		start, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil || start < 0 || start >= size {
			return 0, 0, false
		}
		return start, size - start, true

	case parts[0] != "" && parts[1] != "":
		start, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil || start < 0 || start >= size {
			return 0, 0, false
		}
		end, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || end < start {
			return 0, 0, false
		}
		if end >= size {
			end = size - 1
		}
		return start, end - start + 1, true
	}
	return 0, 0, false
}

func contentRangeHeader(start, end, size int64) string {
	return "bytes " + strconv.FormatInt(start, 10) + "-" + strconv.FormatInt(end, 10) + "/" + strconv.FormatInt(size, 10)
}

// parseCopySource splits an x-amz-copy-source header ("/bucket/key" or
// "bucket/key", URL-escaped per the AWS spec) into bucket and key.
func parseCopySource(src string) (bucket, key string, ok bool) {
	src = strings.TrimPrefix(src, "/")
	if unescaped, err := url.QueryUnescape(src); err == nil {
		src = unescaped
	}
	idx := strings.IndexByte(src, '/')
	if idx < 0 {
		return "", "", false
	}
	bucket = src[:idx]
	key = src[idx+1:]
	if bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// decodeXML decodes the request body as XML. Returns an error rather
// than panicking when the body is empty; callers that treat an empty
// body as "use defaults" (CompleteMultipartUpload) ignore it.
func decodeXML(c *mizu.Ctx, v any) error {
	return xml.NewDecoder(c.Request().Body).Decode(v)
}
