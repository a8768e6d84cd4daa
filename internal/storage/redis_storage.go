package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/match-replay/internal/logging"
)

// RedisOptions настройки подключения к Redis
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	BatchSize int
}

// RedisStorage читает записи матчей из Redis.
//
// Схема ключей (та же, что у пишущей стороны движка симуляции):
//   - <match_id>         — JSON метаданных матча
//   - <match_id>:scores  — список чанков записи (LPUSH в порядке матча)
//
// Чтение батчами через LRANGE с внутренним буфером хендла.
type RedisStorage struct {
	client    *redis.Client
	batchSize int
	logger    *logging.Logger
}

// NewRedisStorage подключается к Redis и проверяет соединение
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	addr := opts.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 30
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     opts.Password,
		DB:           opts.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info("Redis хранилище записей подключено: %s (batch=%d)", addr, batch)

	return &RedisStorage{
		client:    rdb,
		batchSize: batch,
		logger:    logging.GetStorageLogger(),
	}, nil
}

// Open загружает метаданные матча и фиксирует длину записи.
// Матч завершен и неизменяем, поэтому длину достаточно прочитать один раз.
func (rs *RedisStorage) Open(ctx context.Context, matchID string) (Handle, error) {
	raw, err := rs.client.Get(ctx, matchID).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения метаданных матча %s: %w", matchID, err)
	}

	var details MatchDetails
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		return nil, fmt.Errorf("ошибка разбора метаданных матча %s: %w", matchID, err)
	}

	scoreKey := matchID + ":scores"
	length, err := rs.client.LLen(ctx, scoreKey).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения длины записи %s: %w", matchID, err)
	}
	details.ChunkCount = length

	rs.logger.Debug("Открыта запись матча %s из Redis: %d чанков", matchID, length)

	return &redisHandle{
		client:    rs.client,
		scoreKey:  scoreKey,
		details:   details,
		batchSize: rs.batchSize,
	}, nil
}

// StoreMatch записывает метаданные и чанки матча в Redis
func (rs *RedisStorage) StoreMatch(ctx context.Context, rec *Recording) error {
	details := MatchDetails{
		MatchID:    rec.GameID,
		Teams:      rec.Teams,
		ChunkCount: int64(len(rec.Scores)),
	}
	meta, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}

	pipe := rs.client.TxPipeline()
	pipe.Set(ctx, rec.GameID, meta, 0)
	pipe.Del(ctx, rec.GameID+":scores")
	for _, score := range rec.Scores {
		pipe.RPush(ctx, rec.GameID+":scores", []byte(score))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ошибка записи матча %s в Redis: %w", rec.GameID, err)
	}

	rs.logger.Info("Запись матча %s загружена в Redis (%d чанков)", rec.GameID, len(rec.Scores))
	return nil
}

// Close закрывает соединение с Redis
func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}

// redisHandle читает чанки батчами, кешируя последний LRANGE.
// Буфер делает повторные чтения того же курсора дешевыми и
// детерминированными.
type redisHandle struct {
	client    *redis.Client
	scoreKey  string
	details   MatchDetails
	batchSize int

	mu       sync.Mutex
	buffer   []string
	bufStart int64
}

func (h *redisHandle) Details() MatchDetails {
	return h.details
}

func (h *redisHandle) ReadChunk(ctx context.Context, cursor int64) (Chunk, int64, error) {
	if cursor < 0 || cursor >= h.details.ChunkCount {
		return Chunk{}, cursor, ErrEndOfData
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.buffered(cursor) {
		end := cursor + int64(h.batchSize) - 1
		batch, err := h.client.LRange(ctx, h.scoreKey, cursor, end).Result()
		if err != nil {
			return Chunk{}, cursor, fmt.Errorf("ошибка чтения батча [%d..%d]: %w", cursor, end, err)
		}
		if len(batch) == 0 {
			return Chunk{}, cursor, ErrEndOfData
		}
		h.buffer = batch
		h.bufStart = cursor
	}

	payload := h.buffer[cursor-h.bufStart]
	return Chunk{Index: cursor, Payload: json.RawMessage(payload)}, cursor + 1, nil
}

func (h *redisHandle) buffered(cursor int64) bool {
	return len(h.buffer) > 0 && cursor >= h.bufStart && cursor < h.bufStart+int64(len(h.buffer))
}

// Close освобождает буфер; клиент общий и закрывается хранилищем
func (h *redisHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buffer = nil
	return nil
}
