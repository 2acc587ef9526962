package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/queue"
)

// apiClient talks to a running server for the scheduler and review commands.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, payload, target any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, apiErr.Error)
	}
	if target == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func (c *apiClient) Pending(ctx context.Context, tenantID string) ([]queue.QueuedTask, error) {
	q := url.Values{}
	if tenantID != "" {
		q.Set("tenant", tenantID)
	}
	q.Set("limit", fmt.Sprint(queue.MaxPageSize))

	var page queue.Page
	if err := c.do(ctx, http.MethodGet, "/api/v1/queue?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return page.Tasks, nil
}

func (c *apiClient) Decide(ctx context.Context, d queue.Decision) (*model.Task, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/api/v1/queue/"+url.PathEscape(d.TaskID)+"/decision", d, &raw); err != nil {
		return nil, err
	}

	// A recorded decision whose execution could not be queued comes back wrapped.
	var accepted struct {
		Task  *model.Task `json:"task"`
		Error string      `json:"error"`
	}
	if err := json.Unmarshal(raw, &accepted); err == nil && accepted.Task != nil {
		return accepted.Task, errors.New(accepted.Error)
	}

	var task model.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *apiClient) Expire(ctx context.Context) ([]string, error) {
	var out struct {
		Expired []string `json:"expired"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/queue/expire", nil, &out); err != nil {
		return nil, err
	}
	return out.Expired, nil
}

func (c *apiClient) ResetCounters(ctx context.Context, tenantID, day string) error {
	path := "/api/v1/auto-approvals"
	if tenantID != "" {
		path = "/api/v1/tenants/" + url.PathEscape(tenantID) + "/auto-approvals"
	}
	if day != "" {
		path += "?day=" + url.QueryEscape(day)
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}
