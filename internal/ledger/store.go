package ledger

import (
	"sort"
	"strconv"
	"strings"

	"github.com/betbot/gosignal/internal/domain"
)

// Store 仓位持久化接口：写入被修改的仓位与下一个 ID
type Store interface {
	Save(nextID int, positions ...domain.Position) error
	LoadAll() ([]domain.Position, int, error)
	Reset() error
	Close() error
}

// positionSeq 从 pos_N 中解析 N，解析失败返回 -1
func positionSeq(id string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(id, "pos_"))
	if err != nil {
		return -1
	}
	return n
}

// sortByID 按数字 ID 排序
func sortByID(ps []domain.Position) {
	sort.SliceStable(ps, func(i, j int) bool {
		return positionSeq(ps[i].ID) < positionSeq(ps[j].ID)
	})
}
