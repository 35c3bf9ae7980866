// Package tracker 封装外部账本跟踪服务的HTTP接口
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client 跟踪服务客户端，同时承担标识校验、分配与描述符推导
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type validateResponse struct {
	Trackable bool   `json:"trackable"`
	Error     string `json:"error"`
}

type identifierResponse struct {
	Identifier string `json:"identifier"`
	Error      string `json:"error"`
}

// Validate 询问标识是否可跟踪，标识无法解析时服务返回400并携带错误信息
func (c *Client) Validate(ctx context.Context, identifier string) (bool, error) {
	body, status, err := c.doRequest(ctx, http.MethodPost, "/v1/track/validate", map[string]string{
		"identifier": identifier,
	})
	if err != nil {
		return false, err
	}

	var response validateResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return false, fmt.Errorf("fail to parse validate response: %w", err)
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("identifier %s rejected by tracker: %s", identifier, response.Error)
	}
	return response.Trackable, nil
}

// Allocate 向跟踪服务申请一个全新的跟踪标识
func (c *Client) Allocate(ctx context.Context) (string, error) {
	body, status, err := c.doRequest(ctx, http.MethodPost, "/v1/track/allocate", nil)
	if err != nil {
		return "", err
	}

	var response identifierResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("fail to parse allocate response: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("tracker refused to allocate identifier: %s", response.Error)
	}
	return response.Identifier, nil
}

// Derive 由钱包描述符推导规范跟踪标识
func (c *Client) Derive(ctx context.Context, descriptor string) (string, error) {
	body, status, err := c.doRequest(ctx, http.MethodPost, "/v1/track/derive", map[string]string{
		"descriptor": descriptor,
	})
	if err != nil {
		return "", err
	}

	var response identifierResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("fail to parse derive response: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("descriptor rejected by tracker: %s", response.Error)
	}
	return response.Identifier, nil
}

func (c *Client) doRequest(ctx context.Context, method string, path string, payload interface{}) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("fail to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("tracker request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("fail to read tracker response: %w", err)
	}
	return body, resp.StatusCode, nil
}
