package outreach

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
)

const (
	contentType     = "application/json"
	contentEncoding = "gzip"
)

type itemResponse struct {
	Items   []map[string]any
	Found   int
	Pages   int
	Page    int
	PerPage int `json:"per_page"`
}

// getItems makes GET requests until every page is read.
func (c *Client) getItems(ctx context.Context, endpoint string, q url.Values) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	req.URL.RawQuery = q.Encode()

	var items []map[string]any
	for page := 0; ; page++ {
		var response itemResponse
		if err := c.do(withPage(req, page), http.StatusOK, &response); err != nil {
			return nil, err
		}
		items = append(items, response.Items...)

		if response.Page >= response.Pages-1 {
			break
		}
		c.logger.Debug("additional request needed", zap.String("reason", fmt.Sprintf(
			"current page (%d) < all page count (%d)", response.Page+1, response.Pages),
		))
	}
	return items, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload, target any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", contentType)

	return c.do(req, http.StatusCreated, target)
}

func (c *Client) do(req *http.Request, want int, target any) error {
	c.logger.Debug("make request", zap.String("method", req.Method), zap.String("url", req.URL.String()))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return err
		}
		defer gz.Close()
		reader = gz
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if resp.StatusCode != want {
		return &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: string(data)}
	}
	if target == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept-Encoding", contentEncoding)
}

// withPage returns a copy of req for the given page.
func withPage(req *http.Request, page int) *http.Request {
	next := req.Clone(req.Context())
	q := next.URL.Query()
	q.Set("page", strconv.Itoa(page))
	next.URL.RawQuery = q.Encode()
	return next
}

// StatusError is returned for unexpected API statuses.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad status: %s", e.Status)
}
