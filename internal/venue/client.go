package venue

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gosignal/internal/domain"
	"github.com/betbot/gosignal/pkg/ratelimit"
)

var log = logrus.WithField("component", "venue")

const (
	endpointOrder = "/order"
	endpointBook  = "/book"
)

// ClientConfig CLOB 客户端参数
type ClientConfig struct {
	BaseURL string
	Creds   Credentials
	Signer  *Signer
	Limiter ratelimit.RateLimiter
	Timeout time.Duration
}

// Client CLOB REST 客户端：下单、撤单、订单簿
type Client struct {
	http    *resty.Client
	creds   Credentials
	signer  *Signer
	limiter ratelimit.RateLimiter
	now     func() time.Time
}

// NewClient 创建客户端；GET 请求遇到 5xx / 网络错误自动重试，下单不重试
func NewClient(cfg ClientConfig) *Client {
	host := strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	rc := resty.New().
		SetBaseURL(host).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || resp.StatusCode() >= 500 || resp.StatusCode() == http.StatusTooManyRequests
		}).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if s := resp.Header().Get("Retry-After"); s != "" {
					if secs, err := strconv.Atoi(s); err == nil {
						return time.Duration(secs) * time.Second, nil
					}
				}
			}
			return 0, nil
		})
	return &Client{
		http:    rc,
		creds:   cfg.Creds,
		signer:  cfg.Signer,
		limiter: cfg.Limiter,
		now:     time.Now,
	}
}

// CanTrade 签名器与 API 凭证都已配置
func (c *Client) CanTrade() bool {
	return c != nil && c.signer != nil && c.creds.Valid()
}

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.http.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	return r
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "速率限制等待失败")
	}
	return nil
}

func (c *Client) authHeaders(method, path, body string) (map[string]string, error) {
	if !c.CanTrade() {
		return nil, errors.New("venue: 未配置签名器或 API 凭证")
	}
	return c.signer.L2Headers(c.creds, c.now().Unix(), method, path, body)
}

// PlaceOrder 签名并提交订单；交易所拒单返回 *RejectError
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	if err := c.wait(ctx); err != nil {
		return OrderAck{}, err
	}
	if !c.CanTrade() {
		return OrderAck{}, errors.New("venue: 未配置签名器或 API 凭证")
	}
	salt := int64(uuid.New().ID())
	order, err := c.signer.SignOrder(req, salt)
	if err != nil {
		return OrderAck{}, errors.Wrap(err, "签名订单失败")
	}
	body, err := json.Marshal(newOrderPayload{Order: order, Owner: c.creds.Key, OrderType: orderType(req.TimeInForce)})
	if err != nil {
		return OrderAck{}, errors.Wrap(err, "序列化订单失败")
	}
	headers, err := c.authHeaders(http.MethodPost, endpointOrder, string(body))
	if err != nil {
		return OrderAck{}, err
	}

	var out orderResponse
	resp, err := c.newRequest(ctx).
		SetHeaders(headers).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post(endpointOrder)
	if err != nil {
		return OrderAck{}, errors.Wrap(err, "提交订单失败")
	}
	if !resp.IsSuccess() {
		return OrderAck{}, Classify(resp.StatusCode(), errorMessage(resp.Body()))
	}
	if !out.Success && out.ErrorMsg != "" {
		return OrderAck{}, Classify(resp.StatusCode(), out.ErrorMsg)
	}

	ack := OrderAck{OrderID: out.OrderID, Status: strings.ToLower(out.Status)}
	ack.MakingAmount, _ = decimal.NewFromString(out.MakingAmount)
	ack.TakingAmount, _ = decimal.NewFromString(out.TakingAmount)
	log.Infof("[Venue] 下单 %s %s %s@%s (%s) -> %s %s", req.Side, req.TokenID, req.Size, req.Price, req.TimeInForce, ack.OrderID, ack.Status)
	return ack, nil
}

// CancelOrder 撤单
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{"orderID": orderID})
	headers, err := c.authHeaders(http.MethodDelete, endpointOrder, string(body))
	if err != nil {
		return err
	}
	resp, err := c.newRequest(ctx).
		SetHeaders(headers).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Delete(endpointOrder)
	if err != nil {
		return errors.Wrap(err, "撤单失败")
	}
	if !resp.IsSuccess() {
		return Classify(resp.StatusCode(), errorMessage(resp.Body()))
	}
	return nil
}

// OrderBook 获取 token 订单簿
func (c *Client) OrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	var book domain.OrderBook
	resp, err := c.newRequest(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&book).
		Get(endpointBook)
	if err != nil {
		return domain.OrderBook{}, errors.Wrapf(err, "获取订单簿失败 %s", tokenID)
	}
	if !resp.IsSuccess() {
		return domain.OrderBook{}, errors.Errorf("http %d: %s", resp.StatusCode(), errorMessage(resp.Body()))
	}
	if book.TokenID == "" {
		book.TokenID = tokenID
	}
	return book, nil
}

// errorMessage 提取 {"error": "..."} 等常见字段，否则返回原文
func errorMessage(body []byte) string {
	var payload map[string]any
	if json.Unmarshal(body, &payload) == nil {
		for _, k := range []string{"error", "errorMsg", "message", "msg", "detail"} {
			if s, ok := payload[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(body))
}
