// Package directory 目录服务客户端与快照缓存
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"wisefido-kiosk/internal/kioskerr"
	"wisefido-kiosk/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Fetcher 目录数据来源
type Fetcher interface {
	ListRecords(ctx context.Context) ([]models.DisplayRecord, error)
	GetRecord(ctx context.Context, id string) (models.DisplayRecord, error)
}

// Client 目录服务 HTTP 客户端
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewClient 创建目录服务客户端
func NewClient(baseURL string, timeout time.Duration, retryCount int, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: httpClient,
		logger:     logger,
	}
}

// ListRecords 获取全部记录
func (c *Client) ListRecords(ctx context.Context) ([]models.DisplayRecord, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		Get("/records")
	if err != nil {
		return nil, &kioskerr.NetworkError{Op: "list records", Err: err}
	}
	if resp.IsError() {
		return nil, &kioskerr.NetworkError{Op: "list records", Err: fmt.Errorf("unexpected status %d", resp.StatusCode())}
	}

	items, err := decodeList(resp.Body())
	if err != nil {
		return nil, &kioskerr.NetworkError{Op: "list records", Err: err}
	}

	records := make([]models.DisplayRecord, 0, len(items))
	for _, item := range items {
		rec, err := Normalize(item)
		if err != nil {
			// 单条脏数据不影响整体加载
			c.logger.Warn("Skipping malformed directory record", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}

	c.logger.Debug("Directory records loaded", zap.Int("count", len(records)))
	return records, nil
}

// GetRecord 按 ID 获取单条记录，不存在时返回 kioskerr.ErrNotFound
func (c *Client) GetRecord(ctx context.Context, id string) (models.DisplayRecord, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		Get("/records/" + url.PathEscape(id))
	if err != nil {
		return models.DisplayRecord{}, &kioskerr.NetworkError{Op: "get record", Err: err}
	}
	if resp.StatusCode() == http.StatusNotFound {
		return models.DisplayRecord{}, fmt.Errorf("directory record %s: %w", id, kioskerr.ErrNotFound)
	}
	if resp.IsError() {
		return models.DisplayRecord{}, &kioskerr.NetworkError{Op: "get record", Err: fmt.Errorf("unexpected status %d", resp.StatusCode())}
	}

	obj, err := decodeObject(resp.Body())
	if err != nil {
		return models.DisplayRecord{}, &kioskerr.NetworkError{Op: "get record", Err: err}
	}
	return Normalize(obj)
}

// decodeList 接受裸数组或 {"data": [...]} / {"items": [...]} 包装
func decodeList(body []byte) ([]map[string]interface{}, error) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal directory list: %w", err)
	}

	if obj, ok := raw.(map[string]interface{}); ok {
		raw = nil
		for _, key := range []string{"data", "items", "records"} {
			if v, found := obj[key]; found {
				raw = v
				break
			}
		}
		// {"data": {"items": [...]}}
		if inner, ok := raw.(map[string]interface{}); ok {
			raw = inner["items"]
		}
	}

	arr, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("directory list is not an array")
	}
	out := make([]map[string]interface{}, 0, len(arr))
	for _, v := range arr {
		if obj, ok := v.(map[string]interface{}); ok {
			out = append(out, obj)
		}
	}
	return out, nil
}

// decodeObject 接受裸对象或 {"data": {...}} 包装
func decodeObject(body []byte) (map[string]interface{}, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("failed to unmarshal directory record: %w", err)
	}
	if inner, ok := obj["data"].(map[string]interface{}); ok {
		return inner, nil
	}
	return obj, nil
}
