package s3router

import (
	"encoding/xml"

	"github.com/go-mizu/mizu"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
)

// xmlError is the S3 failure body
// (<Error><Code>…</Code><Message>…</Message></Error>) every S3 client
// SDK parses error responses against.
type xmlError struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

func writeXMLError(c *mizu.Ctx, err error) error {
	apiErr := apierr.As(err)
	status := apiErr.Status()
	return writeXML(c, status, xmlError{Code: string(apiErr.Code), Message: apiErr.Message})
}

func writeXML(c *mizu.Ctx, status int, v any) error {
	w := c.Writer()
	w.Header().Set("Content-Type", "application/xml")
	c.Status(status)
	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return err
	}
	return xml.NewEncoder(w).Encode(v)
}
