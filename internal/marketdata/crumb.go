package marketdata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// crumbSession 缓存 quoteSummary 所需的 crumb，同一时刻只允许一个请求去刷新。
// crumb 与 Client 的 cookie jar 中的会话 cookie 绑定。
type crumbSession struct {
	client *Client

	mu    sync.Mutex
	crumb string
}

// get 返回当前 crumb，首次调用时建立会话。
func (s *crumbSession) get(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.crumb != "" {
		return s.crumb, nil
	}
	return s.fetchLocked(ctx)
}

// refresh 在 stale 仍为当前 crumb 时重新获取；已被其他请求刷新过则直接返回新值。
func (s *crumbSession) refresh(ctx context.Context, stale string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.crumb != "" && s.crumb != stale {
		return s.crumb, nil
	}
	s.crumb = ""
	return s.fetchLocked(ctx)
}

func (s *crumbSession) fetchLocked(ctx context.Context) (string, error) {
	c := s.client
	if c.cfg.CookieURL != "" {
		c.primeCookie(ctx)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/test/getcrumb", nil)
	if err != nil {
		return "", fmt.Errorf("marketdata: 构造请求失败: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return "", fmt.Errorf("marketdata: 读取 crumb 失败: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: preview(body)}
	}
	crumb := strings.TrimSpace(string(body))
	if crumb == "" || strings.ContainsAny(crumb, "<{ \n") {
		return "", fmt.Errorf("%w: %s", ErrInvalidCrumb, preview(body))
	}

	s.crumb = crumb
	c.logger.Debug("已获取 crumb")
	return crumb, nil
}

// primeCookie 访问 cookie 地址以取得会话 cookie。该地址通常返回 404，只要设置了 cookie 即可。
func (c *Client) primeCookie(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.CookieURL, nil)
	if err != nil {
		c.logger.Warn("构造 cookie 请求失败", zap.Error(err))
		return
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("获取会话 cookie 失败", zap.String("url", c.cfg.CookieURL), zap.Error(err))
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if u, err := url.Parse(c.cfg.CookieURL); err == nil && len(c.http.Jar.Cookies(u)) == 0 {
		c.logger.Warn("cookie 地址未返回会话 cookie", zap.String("url", c.cfg.CookieURL), zap.Int("status", resp.StatusCode))
	}
}

func withCrumb(endpoint string, query url.Values, crumb string) string {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("crumb", crumb)
	return endpoint + "?" + q.Encode()
}
