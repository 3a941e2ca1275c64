// Package submission 扫码结果提交
// 提交后不等待结果，确认通过推送通道回到各显示站
package submission

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"wisefido-kiosk/internal/kioskerr"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Request 签到提交请求
type Request struct {
	Credential string `json:"credential"`
	StationID  string `json:"station_id"`
	Manual     bool   `json:"manual"`
	TraceID    string `json:"trace_id"`
}

// Client 签到提交客户端
type Client struct {
	httpClient *resty.Client
	submitURL  string
	stationID  string
	logger     *zap.Logger
}

// NewClient 创建提交客户端
func NewClient(submitURL, stationID string, timeout time.Duration, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: httpClient,
		submitURL:  submitURL,
		stationID:  stationID,
		logger:     logger,
	}
}

// Submit 提交凭证
// 凭证无法对应到未签到的人（404/409）时返回 kioskerr.ErrUnknownCredential
func (c *Client) Submit(ctx context.Context, credential string, manual bool) error {
	req := Request{
		Credential: credential,
		StationID:  c.stationID,
		Manual:     manual,
		TraceID:    uuid.NewString(),
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		Post(c.submitURL)
	if err != nil {
		return &kioskerr.NetworkError{Op: "submit checkin", Err: err}
	}

	switch resp.StatusCode() {
	case http.StatusNotFound, http.StatusConflict:
		return kioskerr.ErrUnknownCredential
	}
	if resp.IsError() {
		return &kioskerr.NetworkError{Op: "submit checkin", Err: fmt.Errorf("unexpected status %d", resp.StatusCode())}
	}

	c.logger.Info("Checkin submitted",
		zap.String("trace_id", req.TraceID),
		zap.Bool("manual", manual),
	)
	return nil
}
