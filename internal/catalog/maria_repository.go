package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MariaRepository реализует Repository для MariaDB
type MariaRepository struct {
	db *sql.DB
}

// NewMariaRepository создает новое подключение к MariaDB и возвращает репозиторий
func NewMariaRepository(dsn string) (*MariaRepository, error) {
	if dsn == "" {
		dsn = "replay:replay@tcp(localhost:3306)/matchreplay?charset=utf8mb4&parseTime=True&loc=Local"
	}

	// Открываем подключение
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть подключение к MariaDB: %w", err)
	}

	// Проверяем подключение
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	repo := &MariaRepository{db: db}

	// Создаем таблицы, если их нет
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("не удалось создать таблицы: %w", err)
	}

	return repo, nil
}

// createTables создает таблицу каталога матчей
func (m *MariaRepository) createTables() error {
	createMatchesTable := `
	CREATE TABLE IF NOT EXISTS matches (
		match_id VARCHAR(128) NOT NULL PRIMARY KEY,
		teams JSON NOT NULL,
		chunk_count BIGINT NOT NULL DEFAULT 0,
		played_at TIMESTAMP NULL DEFAULT NULL,
		INDEX idx_played_at (played_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`

	if _, err := m.db.Exec(createMatchesTable); err != nil {
		return fmt.Errorf("не удалось создать таблицу matches: %w", err)
	}

	return nil
}

// Get возвращает сводку матча
func (m *MariaRepository) Get(ctx context.Context, matchID string) (*MatchInfo, error) {
	row := m.db.QueryRowContext(ctx,
		"SELECT match_id, teams, chunk_count, played_at FROM matches WHERE match_id = ?", matchID)

	info, err := scanMatchInfo(row)
	if err == sql.ErrNoRows {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения матча из MariaDB: %w", err)
	}
	return info, nil
}

// Put создает или обновляет сводку матча
func (m *MariaRepository) Put(ctx context.Context, info *MatchInfo) error {
	teams, err := json.Marshal(info.Teams)
	if err != nil {
		return fmt.Errorf("ошибка сериализации команд: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO matches (match_id, teams, chunk_count, played_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE teams = VALUES(teams),
			chunk_count = VALUES(chunk_count), played_at = VALUES(played_at)`,
		info.MatchID, teams, info.ChunkCount, info.PlayedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи матча в MariaDB: %w", err)
	}
	return nil
}

// List возвращает все известные матчи
func (m *MariaRepository) List(ctx context.Context) ([]*MatchInfo, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT match_id, teams, chunk_count, played_at FROM matches ORDER BY played_at DESC")
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения каталога из MariaDB: %w", err)
	}
	defer rows.Close()

	var result []*MatchInfo
	for rows.Next() {
		info, err := scanMatchInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения строки каталога: %w", err)
		}
		result = append(result, info)
	}
	return result, rows.Err()
}

// Close закрывает подключение к БД
func (m *MariaRepository) Close() error {
	return m.db.Close()
}

// rowScanner общий интерфейс *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMatchInfo(row rowScanner) (*MatchInfo, error) {
	var info MatchInfo
	var teamsRaw []byte
	var playedAt sql.NullTime

	if err := row.Scan(&info.MatchID, &teamsRaw, &info.ChunkCount, &playedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(teamsRaw, &info.Teams); err != nil {
		return nil, err
	}
	if playedAt.Valid {
		info.PlayedAt = playedAt.Time
	}
	return &info, nil
}
