package appwrite

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/pbsnet/gateway/internal/platform"
)

func filesPath(bucket string) string {
	return "/storage/buckets/" + url.PathEscape(bucket) + "/files"
}

// Upload implements platform.Storage with a single-chunk multipart upload.
// Appwrite requires chunking above 5 MB; the gateway caps avatars below that.
func (c *Client) Upload(ctx context.Context, bucket, filename string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("fileId", "unique()"); err != nil {
		return "", fmt.Errorf("write fileId: %w", err)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+filesPath(bucket), &buf)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var file struct {
		ID string `json:"$id"`
	}
	if err := c.do(req, c.admin(), &file); err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	return file.ID, nil
}

// Delete implements platform.Storage.
func (c *Client) Delete(ctx context.Context, bucket, fileID string) error {
	path := filesPath(bucket) + "/" + url.PathEscape(fileID)
	if err := c.call(ctx, c.admin(), http.MethodDelete, path, nil, nil, nil); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// Open implements platform.Storage by streaming the download endpoint.
func (c *Client) Open(ctx context.Context, bucket, fileID string) (io.ReadCloser, string, error) {
	target := c.cfg.Endpoint + filesPath(bucket) + "/" + url.PathEscape(fileID) + "/download"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("X-Appwrite-Project", c.cfg.ProjectID)
	req.Header.Set("X-Appwrite-Key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, "", classify(resp.StatusCode, body)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

var _ platform.Storage = (*Client)(nil)
