package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/betbot/gosignal/internal/domain"
	"github.com/betbot/gosignal/pkg/logger"
)

// JSONFileStore 整体快照写入单个 JSON 文件（tmp + rename 原子替换）
type JSONFileStore struct {
	path string

	mu        sync.Mutex
	positions map[string]domain.Position
	nextID    int
}

type jsonSnapshot struct {
	NextID    int               `json:"next_id"`
	Positions []domain.Position `json:"positions"`
}

// NewJSONFileStore 创建文件存储
func NewJSONFileStore(path string) *JSONFileStore {
	return &JSONFileStore{path: path, positions: make(map[string]domain.Position)}
}

// Save 合并被修改的仓位并重写整个快照
func (s *JSONFileStore) Save(nextID int, positions ...domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range positions {
		s.positions[p.ID] = p
	}
	s.nextID = nextID
	return s.writeLocked()
}

func (s *JSONFileStore) writeLocked() error {
	logger.Debugf("[persistence] Save: path=%s positions=%d", s.path, len(s.positions))
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	snap := jsonSnapshot{NextID: s.nextID, Positions: make([]domain.Position, 0, len(s.positions))}
	for _, p := range s.positions {
		snap.Positions = append(snap.Positions, p)
	}
	sortByID(snap.Positions)

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// LoadAll 读取快照；文件不存在视为空
func (s *JSONFileStore) LoadAll() ([]domain.Position, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	if len(b) == 0 {
		return nil, 0, nil
	}
	var snap jsonSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, 0, err
	}
	s.positions = make(map[string]domain.Position, len(snap.Positions))
	for _, p := range snap.Positions {
		s.positions[p.ID] = p
	}
	s.nextID = snap.NextID
	sortByID(snap.Positions)
	return snap.Positions, snap.NextID, nil
}

// Reset 清空并写入空快照
func (s *JSONFileStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = make(map[string]domain.Position)
	s.nextID = 0
	return s.writeLocked()
}

// Close 无需释放资源
func (s *JSONFileStore) Close() error { return nil }
