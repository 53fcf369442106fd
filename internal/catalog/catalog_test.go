package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/gosignal/internal/domain"
)

type fakeLister struct {
	markets []domain.MarketInfo
	err     error
}

func (f *fakeLister) Markets(context.Context, int) ([]domain.MarketInfo, error) {
	return f.markets, f.err
}

type fakeQuotes map[string]domain.Quote

func (q fakeQuotes) Quotes() map[string]domain.Quote { return q }

func binary(id, yes, no string) domain.MarketInfo {
	return domain.MarketInfo{
		ID:      id,
		EndDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Tokens:  []domain.OutcomeToken{{TokenID: yes, Outcome: "Yes"}, {TokenID: no, Outcome: "No"}},
		Active:  true,
	}
}

func TestCatalog_RefreshMergesAndReportsNewTokens(t *testing.T) {
	lister := &fakeLister{markets: []domain.MarketInfo{binary("m1", "y1", "n1")}}
	c := New(lister, fakeQuotes{"y1": {}}, 50)

	fresh, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"y1", "n1"}, fresh)

	closed := binary("m1", "y1", "n1")
	closed.Closed = true
	lister.markets = []domain.MarketInfo{closed, binary("m2", "y2", "n2")}
	fresh, err = c.Refresh(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"y2", "n2"}, fresh, "已知 token 不重复上报")
	_, ok := c.Market("m1")
	assert.False(t, ok, "关闭的市场移出目录")
	assert.Equal(t, 1, c.Len())

	lister.err = errors.New("boom")
	_, err = c.Refresh(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, c.Len(), "失败时保留原目录")
}

func TestCatalog_PairAndSnapshot(t *testing.T) {
	c := New(&fakeLister{}, fakeQuotes{"y1": {}}, 0)
	c.Put(binary("m1", "y1", "n1"))
	c.Put(domain.MarketInfo{ID: "m3", Tokens: []domain.OutcomeToken{{TokenID: "a", Outcome: "Team A"}}})

	p, ok := c.Pair("m1")
	require.True(t, ok)
	assert.Equal(t, "y1", p.YesToken)
	assert.Equal(t, "n1", p.NoToken)

	_, ok = c.Pair("m3")
	assert.False(t, ok, "非二元市场没有 YES/NO 对")

	snap := c.Snapshot()
	assert.Len(t, snap.Markets, 2)
	assert.Contains(t, snap.Quotes, "y1")
	assert.Equal(t, []string{"a", "n1", "y1"}, c.Tokens())
}
