package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/match-replay/internal/config"
)

// ErrMatchNotFound матч отсутствует в каталоге
var ErrMatchNotFound = errors.New("match not found in catalog")

// MatchInfo сводка сыгранного матча в каталоге.
// Каталог отвечает на вопрос "какие матчи доступны для просмотра"
// и пополняется загрузчиком записей и менеджером при первом resolve.
type MatchInfo struct {
	MatchID    string    `json:"match_id" bson:"match_id"`
	Teams      []string  `json:"teams" bson:"teams"`
	ChunkCount int64     `json:"chunk_count" bson:"chunk_count"`
	PlayedAt   time.Time `json:"played_at" bson:"played_at"`
}

// Repository каталог метаданных матчей
type Repository interface {
	// Get возвращает сводку матча; ErrMatchNotFound если записи нет
	Get(ctx context.Context, matchID string) (*MatchInfo, error)
	// Put создает или обновляет сводку матча
	Put(ctx context.Context, info *MatchInfo) error
	// List возвращает все известные матчи
	List(ctx context.Context) ([]*MatchInfo, error)
	// Close освобождает ресурсы репозитория
	Close() error
}

// NewFromConfig создает репозиторий каталога по конфигурации.
func NewFromConfig(cfg *config.CatalogConfig) (Repository, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryRepository(), nil
	case "mongo":
		return NewMongoRepository(MongoConfig{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDatabase,
		})
	case "maria":
		return NewMariaRepository(cfg.MariaDSN)
	default:
		return nil, fmt.Errorf("неизвестный бэкенд каталога: %s", cfg.Backend)
	}
}
