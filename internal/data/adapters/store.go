package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"pitsafe/internal/types"
)

// Manifest 记录某个 symbol 本地行情文件的统计信息。
type Manifest struct {
	Symbol     string `json:"symbol"`
	Interval   string `json:"interval"`
	MinDate    int64  `json:"min_date"`
	MaxDate    int64  `json:"max_date"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

// BarStore 本地日线行情库：每个 symbol 一个 sqlite 文件，附带 manifest 统计表。
type BarStore struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewBarStore(root string) (*BarStore, error) {
	if root == "" {
		return nil, fmt.Errorf("data root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &BarStore{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *BarStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *BarStore) db(symbol string) (*sql.DB, string, error) {
	if symbol == "" {
		return nil, "", fmt.Errorf("symbol 不能为空")
	}
	key := strings.ToUpper(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, s.dbPath(symbol), nil
	}
	path := s.dbPath(symbol)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db, symbol); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

func (s *BarStore) dbPath(symbol string) string {
	name := strings.ReplaceAll(strings.ToUpper(symbol), ".", "_")
	return filepath.Join(s.root, name, "1d.db")
}

func ensureSchema(db *sql.DB, symbol string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			date       INTEGER PRIMARY KEY,
			open       REAL NOT NULL,
			high       REAL NOT NULL,
			low        REAL NOT NULL,
			close      REAL NOT NULL,
			volume     INTEGER NOT NULL,
			adj_close  REAL,
			source     TEXT NOT NULL DEFAULT '',
			fetched_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			symbol TEXT NOT NULL,
			interval TEXT NOT NULL,
			min_date INTEGER,
			max_date INTEGER,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER
		);`,
		`INSERT INTO manifest (id, symbol, interval) VALUES (1, ?, '1d')
		 ON CONFLICT(id) DO UPDATE SET symbol=excluded.symbol;`,
	}
	for i, stmt := range stmts {
		var err error
		if i == len(stmts)-1 {
			_, err = db.Exec(stmt, strings.ToUpper(symbol))
		} else {
			_, err = db.Exec(stmt)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// InsertBars 批量写入日线（重复日期将被覆盖）。
func (s *BarStore) InsertBars(ctx context.Context, symbol string, bars []types.OHLCVRecord) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	db, _, err := s.db(symbol)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (date, open, high, low, close, volume, adj_close, source, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume,
		    adj_close=excluded.adj_close,
		    source=excluded.source,
		    fetched_at=excluded.fetched_at`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, b := range bars {
		var adj interface{}
		if b.AdjClose != nil {
			adj = *b.AdjClose
		}
		fetched := b.FetchedAt
		if fetched.IsZero() {
			fetched = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, b.Date.UTC().Unix(), b.Open, b.High, b.Low, b.Close, b.Volume, adj, b.DataSource, fetched.Unix()); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if err := s.refreshManifest(ctx, db); err != nil {
		return count, err
	}
	return count, nil
}

// RangeBars 返回 [start, end] 闭区间内的日线（日期升序）。
func (s *BarStore) RangeBars(ctx context.Context, symbol string, start, end time.Time) ([]types.OHLCVRecord, error) {
	db, _, err := s.db(symbol)
	if err != nil {
		return nil, err
	}
	lo, hi := start.UTC().Unix(), end.UTC().Unix()
	if hi < lo {
		lo, hi = hi, lo
	}
	rows, err := db.QueryContext(ctx, `
		SELECT date, open, high, low, close, volume, adj_close, source, fetched_at
		FROM bars WHERE date BETWEEN ? AND ?
		ORDER BY date ASC`, lo, hi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sym := strings.ToUpper(symbol)
	var list []types.OHLCVRecord
	for rows.Next() {
		var (
			ts, fetched int64
			adj         sql.NullFloat64
			r           types.OHLCVRecord
		)
		if err := rows.Scan(&ts, &r.Open, &r.High, &r.Low, &r.Close, &r.Volume, &adj, &r.DataSource, &fetched); err != nil {
			return nil, err
		}
		r.Symbol = sym
		r.Date = time.Unix(ts, 0).UTC()
		r.FetchedAt = time.Unix(fetched, 0).UTC()
		if adj.Valid {
			v := adj.Float64
			r.AdjClose = &v
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

func (s *BarStore) Manifest(ctx context.Context, symbol string) (Manifest, error) {
	db, path, err := s.db(symbol)
	if err != nil {
		return Manifest{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT symbol,interval,COALESCE(min_date,0),COALESCE(max_date,0),rows,COALESCE(last_sync_at,0) FROM manifest WHERE id=1`)
	var m Manifest
	if err := row.Scan(&m.Symbol, &m.Interval, &m.MinDate, &m.MaxDate, &m.Rows, &m.LastSyncAt); err != nil {
		return Manifest{}, err
	}
	m.Path = path
	return m, nil
}

func (s *BarStore) refreshManifest(ctx context.Context, db *sql.DB) error {
	now := time.Now().Unix()
	_, err := db.ExecContext(ctx, `
		UPDATE manifest
		SET min_date = (SELECT COALESCE(MIN(date), 0) FROM bars),
		    max_date = (SELECT COALESCE(MAX(date), 0) FROM bars),
		    rows = (SELECT COUNT(1) FROM bars),
		    last_sync_at = ?
		WHERE id = 1`, now)
	return err
}
