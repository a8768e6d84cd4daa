package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/annel0/match-replay/internal/logging"
)

// FileStorage хранит записи матчей как JSON документы на диске:
// <dir>/<match_id>.json или <dir>/<match_id>.json.gz (сжатые записи).
// Запись читается целиком при Open и раздается из памяти — файлы
// матчей невелики (одна запись = один сыгранный матч).
type FileStorage struct {
	dir    string
	logger *logging.Logger
}

// NewFileStorage создает файловое хранилище в указанном каталоге
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания каталога записей: %w", err)
	}
	return &FileStorage{
		dir:    dir,
		logger: logging.GetStorageLogger(),
	}, nil
}

// Open читает и разбирает файл записи матча
func (fs *FileStorage) Open(ctx context.Context, matchID string) (Handle, error) {
	path, compressed, err := fs.resolvePath(matchID)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла записи %s: %w", path, err)
	}
	defer f.Close()

	var reader io.Reader = f
	if compressed {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения gzip записи %s: %w", path, err)
		}
		defer gz.Close()
		reader = gz
	}

	var rec Recording
	if err := json.NewDecoder(reader).Decode(&rec); err != nil {
		return nil, fmt.Errorf("ошибка разбора записи %s: %w", path, err)
	}

	fs.logger.Debug("Загружена запись матча %s: %d чанков", matchID, len(rec.Scores))

	return &fileHandle{
		details: MatchDetails{
			MatchID:    rec.GameID,
			Teams:      rec.Teams,
			ChunkCount: int64(len(rec.Scores)),
		},
		scores: rec.Scores,
	}, nil
}

// StoreMatch записывает запись матча в <dir>/<game_id>.json
func (fs *FileStorage) StoreMatch(ctx context.Context, rec *Recording) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}

	path := filepath.Join(fs.dir, rec.GameID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("ошибка записи файла %s: %w", path, err)
	}

	fs.logger.Info("Запись матча %s сохранена: %s (%d чанков)", rec.GameID, path, len(rec.Scores))
	return nil
}

// Close ничего не держит открытым между вызовами
func (fs *FileStorage) Close() error {
	return nil
}

// resolvePath находит файл записи, предпочитая несжатый вариант
func (fs *FileStorage) resolvePath(matchID string) (string, bool, error) {
	// Защита от выхода за пределы каталога данных
	if strings.ContainsAny(matchID, `/\`) || strings.Contains(matchID, "..") {
		return "", false, ErrNotFound
	}

	plain := filepath.Join(fs.dir, matchID+".json")
	if _, err := os.Stat(plain); err == nil {
		return plain, false, nil
	}

	gzPath := filepath.Join(fs.dir, matchID+".json.gz")
	if _, err := os.Stat(gzPath); err == nil {
		return gzPath, true, nil
	}

	return "", false, ErrNotFound
}

// fileHandle раздает чанки загруженной в память записи
type fileHandle struct {
	details MatchDetails
	scores  []json.RawMessage
}

func (h *fileHandle) Details() MatchDetails {
	return h.details
}

func (h *fileHandle) ReadChunk(ctx context.Context, cursor int64) (Chunk, int64, error) {
	if err := ctx.Err(); err != nil {
		return Chunk{}, cursor, err
	}
	if cursor < 0 || cursor >= int64(len(h.scores)) {
		return Chunk{}, cursor, ErrEndOfData
	}
	return Chunk{Index: cursor, Payload: h.scores[cursor]}, cursor + 1, nil
}

func (h *fileHandle) Close() error {
	h.scores = nil
	return nil
}
