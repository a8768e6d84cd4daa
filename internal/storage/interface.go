package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/annel0/match-replay/internal/config"
)

// Ошибки хранилища записей
var (
	// ErrNotFound матч не найден в хранилище
	ErrNotFound = errors.New("match not found")
	// ErrEndOfData запись исчерпана, дальше курсора данных нет
	ErrEndOfData = errors.New("end of recorded data")
)

// MatchDetails метаданные завершенного матча
type MatchDetails struct {
	MatchID    string   `json:"game_id"`
	Teams      []string `json:"teams"`
	ChunkCount int64    `json:"chunk_count"`
}

// Chunk один дискретный фрагмент записи матча (розыгрыш/очко)
type Chunk struct {
	Index   int64           `json:"index"`
	Payload json.RawMessage `json:"payload"`
}

// Recording полная запись матча в том виде, в котором ее выгружает
// движок симуляции: метаданные плюс упорядоченные фрагменты счета.
type Recording struct {
	GameID string            `json:"game_id"`
	Teams  []string          `json:"teams"`
	Scores []json.RawMessage `json:"scores"`
}

// Handle открытая запись одного матча.
//
// Контракт чтения: ReadChunk детерминирован и идемпотентен для пары
// (handle, cursor) — повторное чтение той же позиции после временной
// ошибки возвращает тот же чанк.
type Handle interface {
	// Details возвращает метаданные матча (загружаются при Open)
	Details() MatchDetails
	// ReadChunk возвращает чанк на позиции cursor и следующий курсор.
	// На конце записи возвращает ErrEndOfData.
	ReadChunk(ctx context.Context, cursor int64) (Chunk, int64, error)
	// Close освобождает ресурсы чтения
	Close() error
}

// GameStorage внешнее хранилище записанных матчей.
type GameStorage interface {
	// Open открывает запись матча; ErrNotFound если записи нет
	Open(ctx context.Context, matchID string) (Handle, error)
	// StoreMatch записывает готовую запись матча (используется загрузчиком)
	StoreMatch(ctx context.Context, rec *Recording) error
	// Close закрывает хранилище
	Close() error
}

// NewFromConfig создает хранилище по конфигурации.
func NewFromConfig(cfg *config.StorageConfig) (GameStorage, error) {
	switch cfg.GetBackend() {
	case "file":
		return NewFileStorage(cfg.GetDataDir())
	case "redis":
		return NewRedisStorage(RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			BatchSize: cfg.GetBatchSize(),
		})
	case "badger":
		return NewBadgerStorage(cfg.GetDataDir())
	case "memory":
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("неизвестный бэкенд хранилища: %s", cfg.GetBackend())
	}
}
