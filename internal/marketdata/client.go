package marketdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"set-portfolio/internal/config"
	"set-portfolio/internal/series"
)

// Client 负责访问 Yahoo Finance 行情接口并实现重试机制。
type Client struct {
	cfg     config.MarketDataConfig
	baseURL string
	http    *http.Client
	crumbs  *crumbSession
	logger  *zap.Logger
}

// NewClient 构造行情客户端。
func NewClient(cfg config.MarketDataConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}

	// cookiejar.New 在 Options 为 nil 时不会返回错误。
	jar, _ := cookiejar.New(nil)

	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout, Jar: jar},
		logger:  logger,
	}
	c.crumbs = &crumbSession{client: c}
	return c
}

// FetchDaily 获取 [start, end] 区间内的日线复权收盘价，空值视为缺口跳过。
// 日期按交易所当地时区换算为自然日。
func (c *Client) FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]DailyBar, error) {
	query := url.Values{}
	query.Set("period1", fmt.Sprintf("%d", start.Unix()))
	query.Set("period2", fmt.Sprintf("%d", end.Unix()))
	query.Set("interval", "1d")
	query.Set("events", "div,splits")
	query.Set("includeAdjustedClose", "true")
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), query.Encode())

	var resp chartResponse
	if err := c.callWithRetry(ctx, "fetch_chart_"+symbol, func() error {
		return c.getJSON(ctx, endpoint, &resp)
	}); err != nil {
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}

	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("%s: %w: %s", symbol, ErrNoData, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoData)
	}

	return convertChart(resp.Chart.Result[0]), nil
}

// FetchAnalystInfo 获取分析师目标价与评级。
func (c *Client) FetchAnalystInfo(ctx context.Context, symbol string) (AnalystInfo, error) {
	endpoint := fmt.Sprintf("%s/v10/finance/quoteSummary/%s", c.baseURL, url.PathEscape(symbol))
	query := url.Values{}
	query.Set("modules", "financialData,price")

	var resp quoteSummaryResponse
	if err := c.callWithRetry(ctx, "fetch_quote_summary_"+symbol, func() error {
		return c.getJSONWithCrumb(ctx, endpoint, query, &resp)
	}); err != nil {
		return AnalystInfo{}, fmt.Errorf("%s: %w", symbol, err)
	}

	if resp.QuoteSummary.Error != nil {
		return AnalystInfo{}, fmt.Errorf("%s: %w: %s", symbol, ErrNoData, resp.QuoteSummary.Error.Description)
	}
	if len(resp.QuoteSummary.Result) == 0 {
		return AnalystInfo{}, fmt.Errorf("%s: %w", symbol, ErrNoData)
	}

	result := resp.QuoteSummary.Result[0]
	info := AnalystInfo{Symbol: symbol}
	if result.Price != nil {
		if result.Price.Symbol != "" {
			info.Symbol = result.Price.Symbol
		}
		info.Name = result.Price.LongName
		if info.Name == "" {
			info.Name = result.Price.ShortName
		}
	}
	if fd := result.FinancialData; fd != nil {
		info.CurrentPrice = fd.CurrentPrice.Raw
		info.TargetHighPrice = fd.TargetHighPrice.Raw
		info.TargetLowPrice = fd.TargetLowPrice.Raw
		info.TargetMeanPrice = fd.TargetMeanPrice.Raw
		info.TargetMedianPrice = fd.TargetMedianPrice.Raw
		info.RecommendationMean = fd.RecommendationMean.Raw
		info.RecommendationKey = fd.RecommendationKey
		info.NumberOfAnalystOpinions = fd.NumberOfAnalystOpinions.intPtr()
	}

	return info, nil
}

// getJSONWithCrumb 携带会话 crumb 请求接口；返回 401 时刷新一次 crumb 后重试。
func (c *Client) getJSONWithCrumb(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	crumb, err := c.crumbs.get(ctx)
	if err != nil {
		return err
	}
	err = c.getJSON(ctx, withCrumb(endpoint, query, crumb), out)
	if !isUnauthorized(err) {
		return err
	}

	c.logger.Info("crumb 已失效，重新建立会话", zap.Error(err))
	if crumb, err = c.crumbs.refresh(ctx, crumb); err != nil {
		return err
	}
	return c.getJSON(ctx, withCrumb(endpoint, query, crumb), out)
}

func (c *Client) setHeaders(req *http.Request) {
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("marketdata: 构造请求失败: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("marketdata: 读取响应失败: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || strings.HasPrefix(string(body), "Edge: Too Many Requests") {
		return ErrRateLimited
	}
	if resp.StatusCode == http.StatusNotFound {
		// 404 通常带有 {"chart":{"error":...}}，交由调用方解析错误描述。
		if jsonErr := json.Unmarshal(body, out); jsonErr == nil {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNoData, preview(body))
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Body: preview(body)}
	}
	if strings.HasPrefix(string(body), "<") {
		return fmt.Errorf("marketdata: 非 JSON 响应: %s", preview(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("marketdata: 解析响应失败: %w", err)
	}
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("行情接口重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		retry := c.classifyError(err)
		if !retry || attempt >= c.cfg.Retry.MaxAttempts {
			c.logger.Debug("行情接口调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(err),
			)
			return err
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("行情接口调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *Client) classifyError(err error) bool {
	if IsRetryable(err) {
		return true
	}

	// 单次请求超时可重试；外层 ctx 结束由循环开头处理。
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || !errors.Is(err, context.Canceled)
	}
	return false
}

func convertChart(result chartResult) []DailyBar {
	values := make([]*float64, len(result.Timestamp))
	if len(result.Indicators.AdjClose) > 0 && len(result.Indicators.AdjClose[0].AdjClose) == len(result.Timestamp) {
		copy(values, result.Indicators.AdjClose[0].AdjClose)
	} else if len(result.Indicators.Quote) > 0 {
		copy(values, result.Indicators.Quote[0].Close)
	}

	offset := int64(result.Meta.GMTOffset)
	bars := make([]DailyBar, 0, len(values))
	for i, ts := range result.Timestamp {
		v := values[i]
		if v == nil || math.IsNaN(*v) || *v <= 0 {
			continue
		}
		bars = append(bars, DailyBar{
			Date:     series.Day(time.Unix(ts+offset, 0).UTC()),
			AdjClose: *v,
		})
	}
	return bars
}
