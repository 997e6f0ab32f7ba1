// Upstream REST catalog client. The tenant catalog composes one of
// these and delegates every upstream call through it after name mapping;
// it never embeds the client, so the delegation boundary stays explicit.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Backend is the contract the tenant catalog drives. Warehouse is always
// the internal (already-mapped) name; shard selects which upstream the
// request lands on.
type Backend interface {
	Config(ctx context.Context, shard int, warehouse string) (map[string]any, error)
	CreateNamespace(ctx context.Context, shard int, warehouse, namespace string) error
	DropNamespace(ctx context.Context, shard int, warehouse, namespace string) error
	ListTables(ctx context.Context, shard int, warehouse, namespace string) ([]string, error)
	CreateTable(ctx context.Context, shard int, warehouse, namespace, table string, body json.RawMessage) (json.RawMessage, error)
	LoadTable(ctx context.Context, shard int, warehouse, namespace, table string) (json.RawMessage, error)
	DropTable(ctx context.Context, shard int, warehouse, namespace, table string) error
}

// RESTError is the Iceberg REST error model: {message, type, code}.
type RESTError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func (e *RESTError) Error() string {
	return fmt.Sprintf("iceberg upstream: %s (%s, %d)", e.Message, e.Type, e.Code)
}

// IsConflict reports whether err is an upstream 409 (already exists),
// which CreateTable's namespace-ensure step tolerates.
func IsConflict(err error) bool {
	re, ok := err.(*RESTError)
	return ok && re.Code == http.StatusConflict
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	re, ok := err.(*RESTError)
	return ok && re.Code == http.StatusNotFound
}

// RESTClient implements Backend over the Iceberg REST catalog protocol.
// ShardURLs[i] is the base URL for shard i; Token, if set, is sent as a
// bearer credential on every request.
type RESTClient struct {
	ShardURLs []string
	Token     string
	HTTP      *http.Client
}

// NewRESTClient builds a client with a keep-alive pooled transport and a
// bounded per-call timeout.
func NewRESTClient(shardURLs []string, token string) *RESTClient {
	return &RESTClient{
		ShardURLs: shardURLs,
		Token:     token,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (c *RESTClient) baseURL(shard int) (string, error) {
	if shard < 0 || shard >= len(c.ShardURLs) {
		return "", fmt.Errorf("iceberg: no upstream configured for shard %d", shard)
	}
	return strings.TrimSuffix(c.ShardURLs[shard], "/"), nil
}

func (c *RESTClient) do(ctx context.Context, shard int, method, path string, body any) (json.RawMessage, error) {
	base, err := c.baseURL(shard)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if body != nil {
		if raw, ok := body.(json.RawMessage); ok {
			reqBody = bytes.NewReader(raw)
		} else {
			buf, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			reqBody = bytes.NewReader(buf)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, reqBody)
	if err != nil {
		return nil, err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, parseRESTError(resp.StatusCode, data)
	}
	return data, nil
}

// parseRESTError decodes the Iceberg error envelope, falling back to a
// synthesized RESTError when the upstream body is not in that shape.
func parseRESTError(status int, body []byte) error {
	var envelope struct {
		Error RESTError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		if envelope.Error.Code == 0 {
			envelope.Error.Code = status
		}
		return &envelope.Error
	}
	return &RESTError{
		Message: strings.TrimSpace(string(body)),
		Type:    http.StatusText(status),
		Code:    status,
	}
}

func (c *RESTClient) Config(ctx context.Context, shard int, warehouse string) (map[string]any, error) {
	data, err := c.do(ctx, shard, http.MethodGet, "/v1/config?warehouse="+url.QueryEscape(warehouse), nil)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RESTClient) CreateNamespace(ctx context.Context, shard int, warehouse, namespace string) error {
	body := map[string]any{"namespace": []string{namespace}, "properties": map[string]string{}}
	_, err := c.do(ctx, shard, http.MethodPost,
		"/v1/"+url.PathEscape(warehouse)+"/namespaces", body)
	return err
}

func (c *RESTClient) DropNamespace(ctx context.Context, shard int, warehouse, namespace string) error {
	_, err := c.do(ctx, shard, http.MethodDelete,
		"/v1/"+url.PathEscape(warehouse)+"/namespaces/"+url.PathEscape(namespace), nil)
	return err
}

func (c *RESTClient) ListTables(ctx context.Context, shard int, warehouse, namespace string) ([]string, error) {
	data, err := c.do(ctx, shard, http.MethodGet,
		"/v1/"+url.PathEscape(warehouse)+"/namespaces/"+url.PathEscape(namespace)+"/tables", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Identifiers []struct {
			Name string `json:"name"`
		} `json:"identifiers"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Identifiers))
	for _, id := range out.Identifiers {
		names = append(names, id.Name)
	}
	return names, nil
}

func (c *RESTClient) CreateTable(ctx context.Context, shard int, warehouse, namespace, table string, body json.RawMessage) (json.RawMessage, error) {
	if body == nil {
		buf, _ := json.Marshal(map[string]any{"name": table})
		body = buf
	}
	return c.do(ctx, shard, http.MethodPost,
		"/v1/"+url.PathEscape(warehouse)+"/namespaces/"+url.PathEscape(namespace)+"/tables", body)
}

func (c *RESTClient) LoadTable(ctx context.Context, shard int, warehouse, namespace, table string) (json.RawMessage, error) {
	return c.do(ctx, shard, http.MethodGet,
		"/v1/"+url.PathEscape(warehouse)+"/namespaces/"+url.PathEscape(namespace)+"/tables/"+url.PathEscape(table), nil)
}

func (c *RESTClient) DropTable(ctx context.Context, shard int, warehouse, namespace, table string) error {
	_, err := c.do(ctx, shard, http.MethodDelete,
		"/v1/"+url.PathEscape(warehouse)+"/namespaces/"+url.PathEscape(namespace)+"/tables/"+url.PathEscape(table), nil)
	return err
}
