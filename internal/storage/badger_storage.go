package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/match-replay/internal/logging"
)

// BadgerStorage хранит записи матчей во встроенной BadgerDB.
//
// Схема ключей:
//   - match:<id>           — JSON метаданных матча
//   - match:<id>:chunk:<n> — полезная нагрузка чанка n
type BadgerStorage struct {
	db     *badger.DB
	logger *logging.Logger
}

// NewBadgerStorage открывает BadgerDB в каталоге данных
func NewBadgerStorage(dataPath string) (*BadgerStorage, error) {
	dbPath := filepath.Join(dataPath, "matches")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerStorage{
		db:     db,
		logger: logging.GetStorageLogger(),
	}, nil
}

// Open читает метаданные матча; чанки читаются лениво по курсору
func (bs *BadgerStorage) Open(ctx context.Context, matchID string) (Handle, error) {
	var details MatchDetails

	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(matchID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &details)
		})
	})

	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения метаданных из BadgerDB: %w", err)
	}

	bs.logger.Debug("Открыта запись матча %s из BadgerDB: %d чанков", matchID, details.ChunkCount)

	return &badgerHandle{db: bs.db, details: details}, nil
}

// StoreMatch записывает метаданные и чанки матча одной транзакцией на батч
func (bs *BadgerStorage) StoreMatch(ctx context.Context, rec *Recording) error {
	details := MatchDetails{
		MatchID:    rec.GameID,
		Teams:      rec.Teams,
		ChunkCount: int64(len(rec.Scores)),
	}
	meta, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}

	wb := bs.db.NewWriteBatch()
	defer wb.Cancel()

	if err := wb.Set(metaKey(rec.GameID), meta); err != nil {
		return fmt.Errorf("ошибка записи метаданных: %w", err)
	}
	for i, score := range rec.Scores {
		if err := wb.Set(chunkKey(rec.GameID, int64(i)), []byte(score)); err != nil {
			return fmt.Errorf("ошибка записи чанка %d: %w", i, err)
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("ошибка сохранения матча в BadgerDB: %w", err)
	}

	bs.logger.Info("Запись матча %s сохранена в BadgerDB (%d чанков)", rec.GameID, len(rec.Scores))
	return nil
}

// Close закрывает базу
func (bs *BadgerStorage) Close() error {
	return bs.db.Close()
}

func metaKey(matchID string) []byte {
	return []byte(fmt.Sprintf("match:%s", matchID))
}

func chunkKey(matchID string, n int64) []byte {
	return []byte(fmt.Sprintf("match:%s:chunk:%d", matchID, n))
}

// badgerHandle читает чанки по ключу курсора
type badgerHandle struct {
	db      *badger.DB
	details MatchDetails
}

func (h *badgerHandle) Details() MatchDetails {
	return h.details
}

func (h *badgerHandle) ReadChunk(ctx context.Context, cursor int64) (Chunk, int64, error) {
	if cursor < 0 || cursor >= h.details.ChunkCount {
		return Chunk{}, cursor, ErrEndOfData
	}

	var data []byte
	err := h.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(h.details.MatchID, cursor))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})

	if err == badger.ErrKeyNotFound {
		// Метаданные обещали чанк, но его нет — запись повреждена
		return Chunk{}, cursor, fmt.Errorf("чанк %d матча %s отсутствует в BadgerDB", cursor, h.details.MatchID)
	}
	if err != nil {
		return Chunk{}, cursor, fmt.Errorf("ошибка чтения чанка из BadgerDB: %w", err)
	}

	return Chunk{Index: cursor, Payload: json.RawMessage(data)}, cursor + 1, nil
}

// Close ничего не держит: база общая и закрывается хранилищем
func (h *badgerHandle) Close() error {
	return nil
}
