// Package apiclient wraps HTTP calls to the StatStream gateway with token
// attachment, per-request timeouts, and typed error classification.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Client wraps API calls against the gateway.
type Client struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	base := strings.TrimRight(c.BaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, target interface{}) error {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return &TransportError{Op: fmt.Sprintf("%s %s", req.Method, req.URL.Path), Err: err}
	}
	defer resp.Body.Close()
	if err := classify(resp); err != nil {
		return err
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// classify maps non-2xx responses to the typed error hierarchy.
func classify(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusUnprocessableEntity:
		var payload struct {
			Errors map[string]string `json:"errors"`
			Error  string            `json:"error"`
		}
		if err := json.Unmarshal(body, &payload); err == nil && len(payload.Errors) > 0 {
			return &ValidationError{Fields: payload.Errors}
		}
		return &ValidationError{Fields: map[string]string{"_": strings.TrimSpace(string(body))}}
	default:
		var payload struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
}

// GetJSON issues a GET and decodes the JSON response into target.
func (c *Client) GetJSON(ctx context.Context, path string, target interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, target)
}

// PostJSON issues a POST with a JSON body and decodes the response.
func (c *Client) PostJSON(ctx context.Context, path string, payload interface{}, target interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, target)
}

// DeleteJSON issues a DELETE with an optional JSON body.
func (c *Client) DeleteJSON(ctx context.Context, path string, payload interface{}, target interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodDelete, path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, target)
}

// UploadFile posts a local file as multipart form-data together with extra
// string fields, decoding the JSON response into target.
func (c *Client) UploadFile(ctx context.Context, path, filePath string, fields map[string]string, target interface{}) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, target)
}

// Download streams a binary or text response body to w (report HTML, export
// artifacts). It returns the Content-Type of the response.
func (c *Client) Download(ctx context.Context, path string, w io.Writer) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	req.Header.Del("Accept")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", &TransportError{Op: "GET " + path, Err: err}
	}
	defer resp.Body.Close()
	if err := classify(resp); err != nil {
		return "", err
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", err
	}
	return resp.Header.Get("Content-Type"), nil
}

// Login exchanges credentials for a bearer token and installs it on the
// client.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.PostJSON(ctx, "/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", &APIError{StatusCode: http.StatusOK, Message: "login response missing token"}
	}
	c.Token = resp.Token
	return resp.Token, nil
}
