package catalog

import (
	"context"
	"sync"
)

// MemoryRepository потокобезопасный каталог в памяти процесса
type MemoryRepository struct {
	mu      sync.RWMutex
	matches map[string]*MatchInfo
}

// NewMemoryRepository создает пустой in-memory каталог
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		matches: make(map[string]*MatchInfo),
	}
}

// Get возвращает сводку матча
func (r *MemoryRepository) Get(ctx context.Context, matchID string) (*MatchInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.matches[matchID]
	if !exists {
		return nil, ErrMatchNotFound
	}

	// Возвращаем копию, чтобы вызывающий не мутировал каталог
	infoCopy := *info
	return &infoCopy, nil
}

// Put создает или обновляет сводку матча
func (r *MemoryRepository) Put(ctx context.Context, info *MatchInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	infoCopy := *info
	r.matches[info.MatchID] = &infoCopy
	return nil
}

// List возвращает все известные матчи
func (r *MemoryRepository) List(ctx context.Context) ([]*MatchInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*MatchInfo, 0, len(r.matches))
	for _, info := range r.matches {
		infoCopy := *info
		result = append(result, &infoCopy)
	}
	return result, nil
}

// Close очищает каталог
func (r *MemoryRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matches = make(map[string]*MatchInfo)
	return nil
}
