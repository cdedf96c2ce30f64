package marketdata

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoData 表示行情接口未返回任何有效数据。
	ErrNoData = errors.New("marketdata: 无数据")
	// ErrRateLimited 表示被接口限流（HTTP 429）。
	ErrRateLimited = errors.New("marketdata: 请求被限流")
	// ErrInvalidCrumb 表示 getcrumb 接口返回的内容不是有效的 crumb。
	ErrInvalidCrumb = errors.New("marketdata: crumb 无效")
)

// StatusError 描述非 200 的 HTTP 响应。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("marketdata: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable 判断错误是否可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError
	}

	return false
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

func isUnauthorized(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized
}
