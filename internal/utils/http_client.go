package utils

import (
	"net/http"
	"time"
)

// NewHTTPClient 出站请求客户端。timeout为0时不设上限，
// 流式响应的读取时长由上层自行决定。
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
