// Package casinoapi 提供赌台历史接口客户端：在实时流启动前拉取一段
// 最近的开奖历史，预热序列缓冲，避免等待窗口长度的实时结果。
package casinoapi

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/goroulette/internal/domain"
)

var log = logrus.WithField("component", "casinoapi")

// Client 历史接口 HTTP 客户端
type Client struct {
	client *resty.Client
}

// NewClient 创建客户端。baseURL 指向历史接口根地址。
// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）。
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时优先尊重 Retry-After 头
			if resp.StatusCode() == 429 {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return seconds, nil
					}
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		})

	return &Client{client: client}
}

// historyEntry 历史接口返回的单局记录（与实时流的快照格式一致）
type historyEntry struct {
	Time   string `json:"time"`
	Result string `json:"result"`
	Color  string `json:"color"`
	GameID string `json:"gameId"`
}

// historyResponse 历史接口响应，history 按最新在前排列
type historyResponse struct {
	TableID string         `json:"tableId"`
	History []historyEntry `json:"history"`
}

// FetchHistory 拉取指定赌台最近 limit 局的开奖历史，
// 按时间先后顺序（最旧在前）返回，可直接依次写入序列缓冲。
// 非法号码（解析失败或超出 0–36）会被跳过并告警。
func (c *Client) FetchHistory(ctx context.Context, tableID string, limit int) ([]domain.SpinOutcome, error) {
	if tableID == "" {
		return nil, errors.New("tableID 不能为空")
	}
	if limit <= 0 {
		limit = 100
	}

	var result historyResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("tableId", tableID).
		SetQueryParam("numberOfGames", strconv.Itoa(limit)).
		SetResult(&result).
		Get("/api/ui/statisticHistory")
	if err != nil {
		return nil, errors.Wrap(err, "请求开奖历史失败")
	}
	if !resp.IsSuccess() {
		return nil, errors.Errorf("开奖历史接口返回 %d: %s", resp.StatusCode(), resp.String())
	}
	if result.TableID != "" && result.TableID != tableID {
		return nil, errors.Errorf("历史接口返回了其他赌台的数据: %s", result.TableID)
	}

	// 响应最新在前，倒序成时间顺序
	outcomes := make([]domain.SpinOutcome, 0, len(result.History))
	for i := len(result.History) - 1; i >= 0; i-- {
		entry := result.History[i]
		value, err := strconv.Atoi(entry.Result)
		if err != nil {
			log.Warnf("⚠️ 跳过无法解析的历史号码: %q", entry.Result)
			continue
		}
		outcome := domain.SpinOutcome{Value: value, Time: time.Now()}
		if err := outcome.Validate(); err != nil {
			log.Warnf("⚠️ 跳过超出范围的历史号码: %d", value)
			continue
		}
		outcomes = append(outcomes, outcome)
	}

	log.Infof("📦 已拉取赌台 %s 的开奖历史: %d 局", tableID, len(outcomes))
	return outcomes, nil
}
