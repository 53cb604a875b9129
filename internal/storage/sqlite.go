package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"gardenbot/internal/stock"
	"gardenbot/internal/user"
	logx "gardenbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore persists profiles one row per user. Watchlists and the cooldown
// ledger are JSON columns, so a ledger update is a single row write.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (user.Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) FindAll(ctx context.Context) ([]*user.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipient_id, display_name, watchlists, cooldowns FROM users ORDER BY recipient_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*user.Profile
	for rows.Next() {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) FindByRecipientID(ctx context.Context, id string) (*user.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT recipient_id, display_name, watchlists, cooldowns FROM users WHERE recipient_id = ?`, id)
	p, err := scanProfile(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, user.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *sqliteStore) Upsert(ctx context.Context, p *user.Profile) error {
	wl, err := json.Marshal(nonNilWatchlists(p.Watchlists))
	if err != nil {
		return fmt.Errorf("encode watchlists: %w", err)
	}
	cd, err := json.Marshal(nonNilLedger(p.Cooldowns))
	if err != nil {
		return fmt.Errorf("encode cooldowns: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users(recipient_id, display_name, watchlists, cooldowns, updated_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(recipient_id) DO UPDATE SET
		   display_name=excluded.display_name,
		   watchlists=excluded.watchlists,
		   cooldowns=excluded.cooldowns,
		   updated_at=excluded.updated_at`,
		p.RecipientID, p.DisplayName, string(wl), string(cd), time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) UpsertCooldowns(ctx context.Context, id string, ledger map[string]int64) error {
	cd, err := json.Marshal(nonNilLedger(ledger))
	if err != nil {
		return fmt.Errorf("encode cooldowns: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET cooldowns = ?, updated_at = ? WHERE recipient_id = ?`,
		string(cd), time.Now().UnixMilli(), id,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE recipient_id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.ErrNotFound
	}
	return nil
}

func scanProfile(scan func(dest ...any) error) (*user.Profile, error) {
	var (
		p      user.Profile
		wlJSON string
		cdJSON string
	)
	if err := scan(&p.RecipientID, &p.DisplayName, &wlJSON, &cdJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(wlJSON), &p.Watchlists); err != nil {
		return nil, fmt.Errorf("decode watchlists for %s: %w", p.RecipientID, err)
	}
	if err := json.Unmarshal([]byte(cdJSON), &p.Cooldowns); err != nil {
		return nil, fmt.Errorf("decode cooldowns for %s: %w", p.RecipientID, err)
	}
	if p.Watchlists == nil {
		p.Watchlists = map[stock.Category][]string{}
	}
	if p.Cooldowns == nil {
		p.Cooldowns = map[string]int64{}
	}
	return &p, nil
}

func nonNilWatchlists(m map[stock.Category][]string) map[stock.Category][]string {
	if m == nil {
		return map[stock.Category][]string{}
	}
	return m
}

func nonNilLedger(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}
