package storage

import (
	"context"
	"sync"
)

// MemoryStorage хранит записи матчей в памяти процесса.
// Используется в тестах и для локальной разработки без внешних сервисов.
type MemoryStorage struct {
	mu      sync.RWMutex
	matches map[string]*Recording
}

// NewMemoryStorage создает пустое in-memory хранилище
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		matches: make(map[string]*Recording),
	}
}

// Open возвращает хендл над снимком записи
func (ms *MemoryStorage) Open(ctx context.Context, matchID string) (Handle, error) {
	ms.mu.RLock()
	rec, exists := ms.matches[matchID]
	ms.mu.RUnlock()

	if !exists {
		return nil, ErrNotFound
	}

	// Снимок: запись неизменяема после StoreMatch
	return &fileHandle{
		details: MatchDetails{
			MatchID:    rec.GameID,
			Teams:      rec.Teams,
			ChunkCount: int64(len(rec.Scores)),
		},
		scores: rec.Scores,
	}, nil
}

// StoreMatch сохраняет запись матча в память
func (ms *MemoryStorage) StoreMatch(ctx context.Context, rec *Recording) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.matches[rec.GameID] = rec
	return nil
}

// Close очищает карту записей
func (ms *MemoryStorage) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.matches = make(map[string]*Recording)
	return nil
}
