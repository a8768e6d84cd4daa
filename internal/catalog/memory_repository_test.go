package catalog

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryRepositoryPutGet(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if _, err := repo.Get(ctx, "ghost"); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("Пустой каталог должен давать ErrMatchNotFound, получено: %v", err)
	}

	info := &MatchInfo{
		MatchID:    "m1",
		Teams:      []string{"nadal", "federer"},
		ChunkCount: 42,
		PlayedAt:   time.Now().UTC(),
	}
	if err := repo.Put(ctx, info); err != nil {
		t.Fatalf("Put вернул ошибку: %v", err)
	}

	got, err := repo.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("Get вернул ошибку: %v", err)
	}
	if got.MatchID != "m1" || got.ChunkCount != 42 || len(got.Teams) != 2 {
		t.Errorf("Сводка искажена: %+v", got)
	}

	// возвращается копия: мутация результата не трогает каталог
	got.ChunkCount = 0
	again, _ := repo.Get(ctx, "m1")
	if again.ChunkCount != 42 {
		t.Error("Get должен возвращать копию, а не внутреннюю запись")
	}

	// повторный Put перезаписывает сводку
	info.ChunkCount = 100
	if err := repo.Put(ctx, info); err != nil {
		t.Fatalf("Повторный Put вернул ошибку: %v", err)
	}
	updated, _ := repo.Get(ctx, "m1")
	if updated.ChunkCount != 100 {
		t.Errorf("Put должен обновлять запись: ожидалось 100, получено %d", updated.ChunkCount)
	}
}

func TestMemoryRepositoryList(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	empty, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List вернул ошибку: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Пустой каталог должен давать пустой список, получено %d", len(empty))
	}

	for _, id := range []string{"m1", "m2", "m3"} {
		if err := repo.Put(ctx, &MatchInfo{MatchID: id, ChunkCount: 1}); err != nil {
			t.Fatalf("Put(%s) вернул ошибку: %v", id, err)
		}
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List вернул ошибку: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Ожидалось 3 матча, получено %d", len(all))
	}
	seen := make(map[string]bool)
	for _, info := range all {
		seen[info.MatchID] = true
	}
	for _, id := range []string{"m1", "m2", "m3"} {
		if !seen[id] {
			t.Errorf("Матч %s отсутствует в списке", id)
		}
	}
}

func TestMemoryRepositoryClose(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	_ = repo.Put(ctx, &MatchInfo{MatchID: "m1"})
	if err := repo.Close(); err != nil {
		t.Fatalf("Close вернул ошибку: %v", err)
	}
	if _, err := repo.Get(ctx, "m1"); !errors.Is(err, ErrMatchNotFound) {
		t.Errorf("После Close каталог должен быть пуст, получено: %v", err)
	}
}
