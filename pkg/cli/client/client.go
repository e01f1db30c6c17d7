// Package client 构建协调器 HTTP API 客户端
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/LENAX/build-coordinator/pkg/api/dto"
	"github.com/LENAX/build-coordinator/pkg/core/engine"
)

// APIError 服务端返回的业务错误
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Client HTTP API客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// New 创建客户端
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		dialer: websocket.DefaultDialer,
	}
}

// ========== BuildSet API ==========

// SubmitBuildSet 提交配置集，被拒绝时同时返回响应和错误
func (c *Client) SubmitBuildSet(ctx context.Context, req dto.SubmitBuildSetRequest) (*dto.SubmitResponse, error) {
	var resp dto.APIResponse[dto.SubmitResponse]
	err := c.do(ctx, http.MethodPost, "/api/v1/build-sets", req, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity {
		return &resp.Data, err
	}
	if err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// ListBuildSets 列出组构建
func (c *Client) ListBuildSets(ctx context.Context, status string, limit, offset int) (*dto.ListResponse[dto.BuildSetSummary], error) {
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	var resp dto.APIResponse[dto.ListResponse[dto.BuildSetSummary]]
	if err := c.do(ctx, http.MethodGet, withQuery("/api/v1/build-sets", params), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// GetBuildSet 获取组构建详情
func (c *Client) GetBuildSet(ctx context.Context, id string) (*dto.BuildSetDetail, error) {
	var resp dto.APIResponse[dto.BuildSetDetail]
	if err := c.do(ctx, http.MethodGet, "/api/v1/build-sets/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// CancelBuildSet 取消组构建
func (c *Client) CancelBuildSet(ctx context.Context, id string) error {
	var resp dto.APIResponse[any]
	return c.do(ctx, http.MethodPost, "/api/v1/build-sets/"+url.PathEscape(id)+"/cancel", nil, &resp)
}

// ListRecords 查询组构建的构建记录
func (c *Client) ListRecords(ctx context.Context, setID, configID, status string, limit int) (*dto.ListResponse[dto.BuildRecordItem], error) {
	params := url.Values{}
	if configID != "" {
		params.Set("config_id", configID)
	}
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var resp dto.APIResponse[dto.ListResponse[dto.BuildRecordItem]]
	path := withQuery("/api/v1/build-sets/"+url.PathEscape(setID)+"/records", params)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// WatchBuildSet 订阅组构建事件，直到组构建结束、ctx 取消或 fn 返回错误
func (c *Client) WatchBuildSet(ctx context.Context, id string, fn func(dto.StreamMessage) error) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("服务器地址无效: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/build-sets/" + url.PathEscape(id) + "/events"

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return &APIError{StatusCode: resp.StatusCode, Code: 404, Message: "组构建不存在"}
		}
		return fmt.Errorf("建立事件订阅失败: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var msg dto.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("读取事件失败: %w", err)
		}
		if err := fn(msg); err != nil {
			return err
		}
		switch msg.Type {
		case "closed":
			return nil
		case "error":
			return errors.New(msg.Message)
		}
	}
}

// ========== Task API ==========

// SubmitTask 提交独立构建任务
func (c *Client) SubmitTask(ctx context.Context, req dto.SubmitTaskRequest) (*dto.SubmitResponse, error) {
	var resp dto.APIResponse[dto.SubmitResponse]
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// GetTask 获取任务详情
func (c *Client) GetTask(ctx context.Context, id int64) (*dto.TaskDetail, error) {
	var resp dto.APIResponse[dto.TaskDetail]
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/tasks/%d", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// CancelTask 取消任务
func (c *Client) CancelTask(ctx context.Context, id int64) error {
	var resp dto.APIResponse[any]
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/tasks/%d/cancel", id), nil, &resp)
}

// ========== Health API ==========

// Health 健康检查
func (c *Client) Health(ctx context.Context) (*dto.HealthResponse, error) {
	var resp dto.APIResponse[dto.HealthResponse]
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// Stats 引擎统计
func (c *Client) Stats(ctx context.Context) (*engine.EngineStats, error) {
	var resp dto.APIResponse[engine.EngineStats]
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// ========== HTTP Methods ==========

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()
	return parseResponse(resp, result)
}

func parseResponse(resp *http.Response, result any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("解析响应失败: %w, body: %s", err, string(body))
	}

	var envelope struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &envelope)
	if resp.StatusCode >= http.StatusBadRequest || envelope.Code != 0 {
		return &APIError{StatusCode: resp.StatusCode, Code: envelope.Code, Message: envelope.Message}
	}
	return nil
}

func withQuery(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}
