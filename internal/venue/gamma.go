package venue

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/gosignal/internal/domain"
	"github.com/betbot/gosignal/internal/resolution"
)

// GammaClient 市场元数据与结算状态（gamma-api）
type GammaClient struct {
	http *resty.Client
}

// NewGammaClient 创建 gamma 客户端
func NewGammaClient(baseURL string, timeout time.Duration) *GammaClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	rc := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetHeader("Accept", "application/json")
	return &GammaClient{http: rc}
}

// gammaMarket gamma 返回的市场；token 信息是 JSON 字符串数组
type gammaMarket struct {
	ConditionID     string          `json:"conditionId"`
	Question        string          `json:"question"`
	Slug            string          `json:"slug"`
	EndDate         string          `json:"endDate"`
	EndDateISO      string          `json:"endDateIso"`
	Outcomes        json.RawMessage `json:"outcomes"`
	OutcomePrices   json.RawMessage `json:"outcomePrices"`
	ClobTokenIDs    json.RawMessage `json:"clobTokenIds"`
	Active          bool            `json:"active"`
	Closed          bool            `json:"closed"`
	Resolved        bool            `json:"resolved"`
	WinningOutcome  string          `json:"winningOutcome"`
	Winner          string          `json:"winner"`
	NegRiskMarketID string          `json:"negRiskMarketID"`
	ClosedTime      string          `json:"closedTime"`
}

// stringList 兼容 '["a","b"]' 字符串与原生数组两种编码
func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if json.Unmarshal(raw, &out) == nil {
		return out
	}
	var encoded string
	if json.Unmarshal(raw, &encoded) == nil {
		_ = json.Unmarshal([]byte(encoded), &out)
	}
	return out
}

// winner 显式字段优先，否则取已关闭市场中价格为 1 的唯一结果
func (m gammaMarket) winner(outcomes []string) string {
	for _, w := range []string{m.WinningOutcome, m.Winner} {
		if w != "" {
			return strings.ToUpper(w)
		}
	}
	if !m.Closed {
		return ""
	}
	prices := stringList(m.OutcomePrices)
	found := ""
	for i, p := range prices {
		v, err := decimal.NewFromString(p)
		if err != nil || i >= len(outcomes) {
			continue
		}
		if v.Equal(decimal.NewFromInt(1)) {
			if found != "" {
				return ""
			}
			found = strings.ToUpper(outcomes[i])
		}
	}
	return found
}

func (m gammaMarket) toInfo() domain.MarketInfo {
	outcomes := stringList(m.Outcomes)
	tokens := stringList(m.ClobTokenIDs)
	info := domain.MarketInfo{
		ID:       m.ConditionID,
		Question: m.Question,
		Slug:     m.Slug,
		GroupID:  m.NegRiskMarketID,
		Active:   m.Active,
		Closed:   m.Closed,
	}
	for _, s := range []string{m.EndDate, m.EndDateISO} {
		if t, ok := domain.ParseEndDate(s); ok {
			info.EndDate = t
			break
		}
	}
	for i, o := range outcomes {
		if i < len(tokens) {
			info.Tokens = append(info.Tokens, domain.OutcomeToken{TokenID: tokens[i], Outcome: o})
		}
	}
	info.WinningOutcome = m.winner(outcomes)
	info.Resolved = m.Resolved || (m.Closed && info.WinningOutcome != "")
	return info
}

func (g *GammaClient) fetch(ctx context.Context, params map[string]string) ([]gammaMarket, error) {
	var out []gammaMarket
	resp, err := g.http.R().SetContext(ctx).SetQueryParams(params).SetResult(&out).Get("/markets")
	if err != nil {
		return nil, errors.Wrap(err, "gamma 请求失败")
	}
	if !resp.IsSuccess() {
		return nil, errors.Errorf("gamma http %d: %s", resp.StatusCode(), errorMessage(resp.Body()))
	}
	return out, nil
}

// Markets 拉取活跃且未关闭的市场
func (g *GammaClient) Markets(ctx context.Context, limit int) ([]domain.MarketInfo, error) {
	if limit <= 0 {
		limit = 500
	}
	raw, err := g.fetch(ctx, map[string]string{
		"limit":  strconv.Itoa(limit),
		"active": "true",
		"closed": "false",
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.MarketInfo, 0, len(raw))
	for _, m := range raw {
		if m.ConditionID == "" {
			continue
		}
		out = append(out, m.toInfo())
	}
	return out, nil
}

func (g *GammaClient) lookup(ctx context.Context, conditionID string) (gammaMarket, error) {
	raw, err := g.fetch(ctx, map[string]string{"condition_ids": conditionID})
	if err != nil {
		return gammaMarket{}, err
	}
	for _, m := range raw {
		if strings.EqualFold(m.ConditionID, conditionID) {
			return m, nil
		}
	}
	return gammaMarket{}, errors.Errorf("gamma: 市场 %s 不存在", conditionID)
}

// Market 按 condition id 查询单个市场（包括已关闭的）
func (g *GammaClient) Market(ctx context.Context, conditionID string) (domain.MarketInfo, error) {
	m, err := g.lookup(ctx, conditionID)
	if err != nil {
		return domain.MarketInfo{}, err
	}
	return m.toInfo(), nil
}

// MarketStatus 实现 resolution.Source
func (g *GammaClient) MarketStatus(ctx context.Context, marketID string) (resolution.MarketStatus, error) {
	m, err := g.lookup(ctx, marketID)
	if err != nil {
		return resolution.MarketStatus{}, err
	}
	info := m.toInfo()
	st := resolution.MarketStatus{
		MarketID:       info.ID,
		Question:       info.Question,
		Resolved:       info.Resolved && info.WinningOutcome != "",
		WinningOutcome: info.WinningOutcome,
	}
	if t, ok := domain.ParseEndDate(m.ClosedTime); ok {
		st.ResolvedAt = t
	}
	return st, nil
}
