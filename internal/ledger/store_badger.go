package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/betbot/gosignal/internal/domain"
)

const (
	positionPrefix = "pos/"
	nextIDKey      = "meta/next_id"
)

// BadgerStore 基于 Badger 的仓位存储：每个仓位一个 key
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore 打开（或创建）存储目录
func OpenBadgerStore(path string) (*BadgerStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("ledger: badger path is required")
	}
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("ledger: open badger %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

// Save 在一个事务内写入仓位与计数器
func (s *BadgerStore) Save(nextID int, positions ...domain.Position) error {
	if s == nil || s.db == nil {
		return errors.New("ledger: badger store not opened")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, p := range positions {
			b, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(positionPrefix+p.ID), b); err != nil {
				return err
			}
		}
		return txn.Set([]byte(nextIDKey), []byte(strconv.Itoa(nextID)))
	})
}

// LoadAll 读取全部仓位（按数字 ID 排序）与计数器
func (s *BadgerStore) LoadAll() ([]domain.Position, int, error) {
	if s == nil || s.db == nil {
		return nil, 0, errors.New("ledger: badger store not opened")
	}
	var (
		out    []domain.Position
		nextID int
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(nextIDKey))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				n, perr := strconv.Atoi(string(val))
				nextID = n
				return perr
			}); err != nil {
				return err
			}
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(positionPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p domain.Position
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sortByID(out)
	return out, nextID, nil
}

// Reset 清空所有仓位与计数器
func (s *BadgerStore) Reset() error {
	if s == nil || s.db == nil {
		return errors.New("ledger: badger store not opened")
	}
	if err := s.db.DropPrefix([]byte(positionPrefix)); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(nextIDKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Close 关闭数据库
func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
