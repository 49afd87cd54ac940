package appwrite

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pbsnet/gateway/internal/platform"
)

func (c *Client) documentsPath(collection string) string {
	return "/databases/" + url.PathEscape(c.cfg.DatabaseID) +
		"/collections/" + url.PathEscape(collection) + "/documents"
}

// decodeDocument strips Appwrite's $-prefixed metadata from raw.
func decodeDocument(raw map[string]json.RawMessage) (*platform.Document, error) {
	d := &platform.Document{Data: make(map[string]any, len(raw))}
	for k, v := range raw {
		if k == "$id" {
			if err := json.Unmarshal(v, &d.ID); err != nil {
				return nil, fmt.Errorf("decode $id: %w", err)
			}
			continue
		}
		if strings.HasPrefix(k, "$") {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return nil, fmt.Errorf("decode attribute %q: %w", k, err)
		}
		d.Data[k] = val
	}
	return d, nil
}

// Get implements platform.Documents.
func (c *Client) Get(ctx context.Context, collection, id string) (*platform.Document, error) {
	var raw map[string]json.RawMessage
	path := c.documentsPath(collection) + "/" + url.PathEscape(id)
	if err := c.call(ctx, c.admin(), http.MethodGet, path, nil, nil, &raw); err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return decodeDocument(raw)
}

// Create implements platform.Documents.
func (c *Client) Create(ctx context.Context, collection, id string, data map[string]any) (*platform.Document, error) {
	in := map[string]any{"documentId": id, "data": data}
	var raw map[string]json.RawMessage
	if err := c.call(ctx, c.admin(), http.MethodPost, c.documentsPath(collection), nil, in, &raw); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	return decodeDocument(raw)
}

// Update implements platform.Documents.
func (c *Client) Update(ctx context.Context, collection, id string, data map[string]any) (*platform.Document, error) {
	var raw map[string]json.RawMessage
	path := c.documentsPath(collection) + "/" + url.PathEscape(id)
	if err := c.call(ctx, c.admin(), http.MethodPatch, path, nil, map[string]any{"data": data}, &raw); err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	return decodeDocument(raw)
}

// List implements platform.Documents.
func (c *Client) List(ctx context.Context, collection string, queries ...platform.Query) ([]*platform.Document, error) {
	q, err := queryValues(queries)
	if err != nil {
		return nil, err
	}
	var list struct {
		Total     int                          `json:"total"`
		Documents []map[string]json.RawMessage `json:"documents"`
	}
	if err := c.call(ctx, c.admin(), http.MethodGet, c.documentsPath(collection), q, nil, &list); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	out := make([]*platform.Document, 0, len(list.Documents))
	for _, raw := range list.Documents {
		d, err := decodeDocument(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
