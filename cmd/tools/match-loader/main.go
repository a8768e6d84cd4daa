package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/annel0/match-replay/internal/catalog"
	"github.com/annel0/match-replay/internal/config"
	"github.com/annel0/match-replay/internal/storage"
)

// match-loader загружает запись сыгранного матча (JSON выгрузка движка
// симуляции) в настроенный бэкенд хранилища и обновляет каталог.
//
// Использование:
//
//	match-loader -file match_42.json [-config config.yml] [-match <id>]
func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации")
	filePath := flag.String("file", "", "файл записи матча (.json или .json.gz)")
	matchID := flag.String("match", "", "переопределить идентификатор матча")
	flag.Parse()

	if *filePath == "" {
		fmt.Println("Использование: match-loader -file <запись.json> [-config <config.yml>] [-match <id>]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}

	rec, err := readRecording(*filePath)
	if err != nil {
		fatalf("Ошибка чтения записи: %v", err)
	}
	if *matchID != "" {
		rec.GameID = *matchID
	}
	if rec.GameID == "" {
		fatalf("В записи нет game_id, задайте его флагом -match")
	}

	store, err := storage.NewFromConfig(&cfg.Storage)
	if err != nil {
		fatalf("Ошибка инициализации хранилища: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.StoreMatch(ctx, rec); err != nil {
		fatalf("Ошибка записи матча в хранилище: %v", err)
	}

	cat, err := catalog.NewFromConfig(&cfg.Catalog)
	if err != nil {
		fatalf("Ошибка инициализации каталога: %v", err)
	}
	defer cat.Close()

	err = cat.Put(ctx, &catalog.MatchInfo{
		MatchID:    rec.GameID,
		Teams:      rec.Teams,
		ChunkCount: int64(len(rec.Scores)),
		PlayedAt:   time.Now().UTC(),
	})
	if err != nil {
		fatalf("Ошибка обновления каталога: %v", err)
	}

	fmt.Printf("✅ Матч %s загружен: %d чанков, команды %v (бэкенд %s)\n",
		rec.GameID, len(rec.Scores), rec.Teams, cfg.Storage.GetBackend())
}

// readRecording читает JSON запись матча, при необходимости распаковывая gzip
func readRecording(path string) (*storage.Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("поврежденный gzip: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	var rec storage.Recording
	if err := json.NewDecoder(reader).Decode(&rec); err != nil {
		return nil, fmt.Errorf("некорректный JSON записи: %w", err)
	}
	return &rec, nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
	os.Exit(1)
}
