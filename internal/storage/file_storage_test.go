package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func testRecording(matchID string, chunks int) *Recording {
	scores := make([]json.RawMessage, chunks)
	for i := range scores {
		scores[i] = json.RawMessage(`{"point":` + string(rune('0'+i)) + `}`)
	}
	return &Recording{
		GameID: matchID,
		Teams:  []string{"alpha", "beta"},
		Scores: scores,
	}
}

func TestFileStorageRoundTrip(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("Ошибка создания хранилища: %v", err)
	}

	rec := testRecording("m1", 5)
	if err := fs.StoreMatch(context.Background(), rec); err != nil {
		t.Fatalf("Ошибка сохранения записи: %v", err)
	}

	h, err := fs.Open(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Ошибка открытия записи: %v", err)
	}
	defer h.Close()

	details := h.Details()
	if details.MatchID != "m1" || details.ChunkCount != 5 {
		t.Errorf("Неверные метаданные: %+v", details)
	}
	if len(details.Teams) != 2 || details.Teams[0] != "alpha" {
		t.Errorf("Неверные команды: %v", details.Teams)
	}

	// чтение детерминировано и идемпотентно по (handle, cursor)
	chunk1, next, err := h.ReadChunk(context.Background(), 2)
	if err != nil {
		t.Fatalf("Ошибка чтения чанка: %v", err)
	}
	if next != 3 || chunk1.Index != 2 {
		t.Errorf("Неверный курсор: chunk=%d next=%d", chunk1.Index, next)
	}
	chunk2, _, err := h.ReadChunk(context.Background(), 2)
	if err != nil {
		t.Fatalf("Повторное чтение не удалось: %v", err)
	}
	if string(chunk1.Payload) != string(chunk2.Payload) {
		t.Error("Повторное чтение того же курсора вернуло другой чанк")
	}

	// конец записи
	if _, _, err := h.ReadChunk(context.Background(), 5); err != ErrEndOfData {
		t.Errorf("За концом записи ожидался ErrEndOfData, получено: %v", err)
	}
}

func TestFileStorageGzip(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("Ошибка создания хранилища: %v", err)
	}

	rec := testRecording("packed", 3)
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Ошибка сериализации: %v", err)
	}

	f, err := os.Create(filepath.Join(dir, "packed.json.gz"))
	if err != nil {
		t.Fatalf("Ошибка создания файла: %v", err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write(data); err != nil {
		t.Fatalf("Ошибка записи gzip: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("Ошибка закрытия gzip: %v", err)
	}
	f.Close()

	h, err := fs.Open(context.Background(), "packed")
	if err != nil {
		t.Fatalf("Сжатая запись не открылась: %v", err)
	}
	defer h.Close()

	if h.Details().ChunkCount != 3 {
		t.Errorf("Неверное число чанков в сжатой записи: %d", h.Details().ChunkCount)
	}
}

func TestFileStorageNotFound(t *testing.T) {
	fs, _ := NewFileStorage(t.TempDir())

	if _, err := fs.Open(context.Background(), "ghost"); err != ErrNotFound {
		t.Errorf("Для отсутствующего матча ожидался ErrNotFound, получено: %v", err)
	}

	// попытка выйти за пределы каталога данных
	if _, err := fs.Open(context.Background(), "../etc/passwd"); err != ErrNotFound {
		t.Errorf("Для опасного идентификатора ожидался ErrNotFound, получено: %v", err)
	}
}

func TestMemoryStorageRoundTrip(t *testing.T) {
	ms := NewMemoryStorage()
	defer ms.Close()

	if err := ms.StoreMatch(context.Background(), testRecording("m1", 4)); err != nil {
		t.Fatalf("Ошибка сохранения: %v", err)
	}

	h, err := ms.Open(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Ошибка открытия: %v", err)
	}
	if h.Details().ChunkCount != 4 {
		t.Errorf("Неверное число чанков: %d", h.Details().ChunkCount)
	}

	if _, err := ms.Open(context.Background(), "ghost"); err != ErrNotFound {
		t.Errorf("Ожидался ErrNotFound, получено: %v", err)
	}
}
