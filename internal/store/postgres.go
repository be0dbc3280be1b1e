package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres is the alternate KV backend: one jsonb table holds every
// logical table's items, keyed by (table_name, pk, sk). Index lookups
// go through expression indexes created by Migrate.
type Postgres struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgres opens a Postgres connection with sane pool defaults.
func NewPostgres(connString string, opTimeout time.Duration) (*Postgres, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	p := &Postgres{db: db, timeout: opTimeout}
	ctx, cancel := p.opCtx(context.Background())
	defer cancel()
	return p, db.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

// Migrate creates the item table and one expression index per
// declared index attribute. Safe to run repeatedly.
func (p *Postgres) Migrate(ctx context.Context, tables []TableSpec) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv_items (
			table_name text NOT NULL,
			pk text NOT NULL,
			sk text NOT NULL DEFAULT '',
			attrs jsonb NOT NULL,
			PRIMARY KEY (table_name, pk, sk)
		)
	`)
	if err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	for _, t := range tables {
		for _, attr := range t.Indexes {
			name := "kv_items_" + strings.ToLower(t.Name) + "_" + strings.ToLower(attr) + "_idx"
			stmt := fmt.Sprintf(
				`CREATE INDEX IF NOT EXISTS %s ON kv_items ((attrs->'%s'->>'s')) WHERE table_name = '%s'`,
				name, attr, t.Name,
			)
			if _, err := p.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("postgres migrate index %s: %w", name, err)
			}
		}
	}
	return nil
}

// GetItem returns the item at key, or ErrNotFound.
func (p *Postgres) GetItem(ctx context.Context, table string, key Key) (Item, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	row := p.db.QueryRowContext(ctx, `
		SELECT attrs FROM kv_items WHERE table_name = $1 AND pk = $2 AND sk = $3
	`, table, key.Partition, key.Sort)
	return scanItem(row)
}

// PutItem overwrites the item at key.
func (p *Postgres) PutItem(ctx context.Context, table string, key Key, item Item) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("postgres encode %s: %w", table, err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO kv_items (table_name, pk, sk, attrs)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (table_name, pk, sk) DO UPDATE SET attrs = EXCLUDED.attrs
	`, table, key.Partition, key.Sort, raw)
	if err != nil {
		return fmt.Errorf("postgres put %s: %w", table, err)
	}
	return nil
}

// UpdateItem applies set/remove inside a row-locked transaction.
func (p *Postgres) UpdateItem(ctx context.Context, table string, key Key, set Item, remove []string) (Item, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres update begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT attrs FROM kv_items
		WHERE table_name = $1 AND pk = $2 AND sk = $3
		FOR UPDATE
	`, table, key.Partition, key.Sort)
	existing, err := scanItem(row)
	if err != nil {
		return nil, err
	}
	updated := existing.Clone()
	for name, v := range set {
		updated[name] = v
	}
	for _, name := range remove {
		delete(updated, name)
	}
	raw, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("postgres encode %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE kv_items SET attrs = $4
		WHERE table_name = $1 AND pk = $2 AND sk = $3
	`, table, key.Partition, key.Sort, raw); err != nil {
		return nil, fmt.Errorf("postgres update %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres update commit: %w", err)
	}
	return updated, nil
}

// DeleteItem removes the item; absent keys are a no-op.
func (p *Postgres) DeleteItem(ctx context.Context, table string, key Key) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM kv_items WHERE table_name = $1 AND pk = $2 AND sk = $3
	`, table, key.Partition, key.Sort)
	if err != nil {
		return fmt.Errorf("postgres delete %s: %w", table, err)
	}
	return nil
}

// QueryIndex looks items up by an indexed scalar attribute; results
// come back in key order so duplicate matches are stable.
func (p *Postgres) QueryIndex(ctx context.Context, table, attribute, value string, limit int) ([]Item, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	query := `
		SELECT attrs FROM kv_items
		WHERE table_name = $1 AND attrs->$2->>'s' = $3
		ORDER BY pk, sk
	`
	args := []any{table, attribute, value}
	if limit > 0 {
		query += " LIMIT $4"
		args = append(args, limit)
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres index %s.%s: %w", table, attribute, err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// QueryRange returns one partition's items with sk in [start, end],
// keyset-paginated on sk.
func (p *Postgres) QueryRange(ctx context.Context, table, partition, startSort, endSort, cursor string, limit int) ([]Item, string, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT sk, attrs FROM kv_items
		WHERE table_name = $1 AND pk = $2 AND sk >= $3 AND sk <= $4 AND sk > $5
		ORDER BY sk
		LIMIT $6
	`, table, partition, startSort, endSort, cursor, limit+1)
	if err != nil {
		return nil, "", fmt.Errorf("postgres range %s: %w", table, err)
	}
	defer rows.Close()

	var items []Item
	var sks []string
	for rows.Next() {
		var sk string
		var raw []byte
		if err := rows.Scan(&sk, &raw); err != nil {
			return nil, "", err
		}
		item, err := decodeItem(string(raw))
		if err != nil {
			return nil, "", err
		}
		items = append(items, item)
		sks = append(sks, sk)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(items) > limit {
		items = items[:limit]
		next = sks[limit-1]
	}
	return items, next, nil
}

// Scan iterates the whole logical table, keyset-paginated on (pk, sk).
func (p *Postgres) Scan(ctx context.Context, table, cursor string, limit int) ([]Item, string, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 100
	}
	cpk, csk, _ := strings.Cut(cursor, keySep)
	rows, err := p.db.QueryContext(ctx, `
		SELECT pk, sk, attrs FROM kv_items
		WHERE table_name = $1 AND (pk, sk) > ($2, $3)
		ORDER BY pk, sk
		LIMIT $4
	`, table, cpk, csk, limit+1)
	if err != nil {
		return nil, "", fmt.Errorf("postgres scan %s: %w", table, err)
	}
	defer rows.Close()

	type rowItem struct {
		pk, sk string
		item   Item
	}
	var result []rowItem
	for rows.Next() {
		var ri rowItem
		var raw []byte
		if err := rows.Scan(&ri.pk, &ri.sk, &raw); err != nil {
			return nil, "", err
		}
		if ri.item, err = decodeItem(string(raw)); err != nil {
			return nil, "", err
		}
		result = append(result, ri)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(result) > limit {
		result = result[:limit]
		last := result[limit-1]
		next = last.pk + keySep + last.sk
	}
	items := make([]Item, 0, len(result))
	for _, ri := range result {
		items = append(items, ri.item)
	}
	return items, next, nil
}

func scanItem(row *sql.Row) (Item, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeItem(string(raw))
}

func collectItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		item, err := decodeItem(string(raw))
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
