package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS epg_sources (
	id SERIAL PRIMARY KEY,
	url VARCHAR(2048) UNIQUE NOT NULL,
	position INTEGER NOT NULL,
	last_fetched TIMESTAMP WITH TIME ZONE,
	last_status TEXT
);`

// Database инкапсулирует пул соединений к PostgreSQL, где хранится
// реестр источников EPG и журнал их загрузок.
type Database struct {
	Pool *pgxpool.Pool
}

// NewDB создаёт новый пул соединений по connString и возвращает Database.
func NewDB(ctx context.Context, connString string) (*Database, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return &Database{Pool: pool}, nil
}

// Close закрывает пул соединений.
func (db *Database) Close() {
	db.Pool.Close()
}

func (db *Database) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Migrate создаёт таблицу epg_sources, если её нет.
func (db *Database) Migrate(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, schema)
	return err
}

// SaveSource сохраняет URL источника с его позицией и возвращает id.
// Для существующего URL обновляется только позиция.
func (db *Database) SaveSource(ctx context.Context, url string, position int) (int, error) {
	var id int
	err := db.Pool.QueryRow(ctx, `
        INSERT INTO epg_sources (url, position)
        VALUES ($1, $2)
        ON CONFLICT (url) DO UPDATE SET position = EXCLUDED.position
        RETURNING id
    `, url, position).Scan(&id)
	return id, err
}

// SyncSources записывает источники из конфигурации в одной транзакции,
// позиция равна индексу в списке.
func (db *Database) SyncSources(ctx context.Context, urls []string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i, u := range urls {
		if _, err := tx.Exec(ctx, `
            INSERT INTO epg_sources (url, position)
            VALUES ($1, $2)
            ON CONFLICT (url) DO UPDATE SET position = EXCLUDED.position
        `, u, i); err != nil {
			return fmt.Errorf("save source %s: %w", u, err)
		}
	}
	return tx.Commit(ctx)
}

// ListSources возвращает URL всех источников в порядке позиции.
func (db *Database) ListSources(ctx context.Context) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `SELECT url FROM epg_sources ORDER BY position, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// RecordFetch отмечает время и итог последней загрузки источника.
func (db *Database) RecordFetch(ctx context.Context, url string, fetchErr error) error {
	status := "ok"
	if fetchErr != nil {
		status = fetchErr.Error()
	}
	_, err := db.Pool.Exec(ctx, `
        UPDATE epg_sources
        SET last_fetched = NOW(), last_status = $2
        WHERE url = $1
    `, url, status)
	return err
}
