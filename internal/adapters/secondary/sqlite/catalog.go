package sqlite

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"detection-quant-bench/internal/core/domain"
	ports "detection-quant-bench/internal/core/ports/output"
)

const maxLineBytes = 64 << 20

// Manifest is published at datasets/<name>/manifest.json in the registry.
type Manifest struct {
	Name   string   `json:"name"`
	Splits []string `json:"splits"`
}

// Line is one record of datasets/<name>/<split>.jsonl. Image holds the
// base64-encoded PNG or JPEG bytes.
type Line struct {
	Image   []byte         `json:"image"`
	Objects domain.Objects `json:"objects"`
}

type catalog struct {
	dir      string
	registry ports.ModelRegistry
}

// NewDatasetCatalog caches datasets as <dir>/<name>.sqlite, with '/' in the
// name replaced by '_'. Splits are downloaded from the registry on first use.
func NewDatasetCatalog(dir string, registry ports.ModelRegistry) ports.DatasetCatalog {
	return &catalog{dir: dir, registry: registry}
}

func (c *catalog) Load(ctx context.Context, name string) (ports.Dataset, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dataset dir: %w", err)
	}
	path := filepath.Join(c.dir, strings.ReplaceAll(name, "/", "_")+".sqlite")

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset cache: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	ds := &dataset{name: name, conn: conn, registry: c.registry}
	if err := ds.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate dataset cache: %w", err)
	}
	if err := ds.loadManifest(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return ds, nil
}

type dataset struct {
	name     string
	conn     *sql.DB
	registry ports.ModelRegistry
	splits   map[string]bool
}

func (d *dataset) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS splits (
		name TEXT PRIMARY KEY,
		complete INTEGER NOT NULL DEFAULT 0,
		records INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS records (
		split TEXT NOT NULL,
		idx INTEGER NOT NULL,
		image BLOB NOT NULL,
		objects TEXT NOT NULL,
		PRIMARY KEY (split, idx)
	);
	`
	_, err := d.conn.ExecContext(ctx, schema)
	return err
}

// loadManifest reads the split list from the cache, fetching it once.
func (d *dataset) loadManifest(ctx context.Context) error {
	var raw string
	err := d.conn.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'manifest'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		raw, err = d.fetchManifest(ctx)
	}
	if err != nil {
		return err
	}

	var m Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return fmt.Errorf("decode manifest of %s: %w", d.name, err)
	}
	d.splits = make(map[string]bool, len(m.Splits))
	for _, s := range m.Splits {
		d.splits[s] = true
	}
	return nil
}

func (d *dataset) fetchManifest(ctx context.Context) (string, error) {
	key := fmt.Sprintf("datasets/%s/manifest.json", d.name)
	rc, err := d.registry.Fetch(ctx, key)
	if errors.Is(err, domain.ErrBlobNotFound) {
		return "", fmt.Errorf("%w: %s", domain.ErrDatasetNotFound, d.name)
	}
	if err != nil {
		return "", fmt.Errorf("fetch manifest: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}
	if !json.Valid(data) {
		return "", fmt.Errorf("manifest of %s is not valid JSON", d.name)
	}
	if _, err := d.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO meta (key, value) VALUES ('manifest', ?)`, string(data)); err != nil {
		return "", fmt.Errorf("store manifest: %w", err)
	}
	return string(data), nil
}

func (d *dataset) Name() string {
	return d.name
}

func (d *dataset) Split(name string) (ports.Split, error) {
	if !d.splits[name] {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrSplitNotFound, d.name, name)
	}
	return &split{ds: d, name: name}, nil
}

func (d *dataset) Close() error {
	return d.conn.Close()
}

type split struct {
	ds   *dataset
	name string
}

func (s *split) Name() string {
	return s.name
}

// Open downloads the split on first use and iterates it in stored order.
func (s *split) Open(ctx context.Context) (ports.RecordIterator, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	rows, err := s.ds.conn.QueryContext(ctx,
		`SELECT idx, image, objects FROM records WHERE split = ? ORDER BY idx`, s.name)
	if err != nil {
		return nil, fmt.Errorf("query %s records: %w", s.name, err)
	}
	return &recordIterator{rows: rows}, nil
}

func (s *split) ensure(ctx context.Context) error {
	var complete bool
	err := s.ds.conn.QueryRowContext(ctx, `SELECT complete FROM splits WHERE name = ?`, s.name).Scan(&complete)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read split state: %w", err)
	}
	if complete {
		return nil
	}
	return s.download(ctx)
}

func (s *split) download(ctx context.Context) error {
	key := fmt.Sprintf("datasets/%s/%s.jsonl", s.ds.name, s.name)
	logger := log.WithFields(log.Fields{"dataset": s.ds.name, "split": s.name})
	logger.Info("downloading dataset split")

	rc, err := s.ds.registry.Fetch(ctx, key)
	if errors.Is(err, domain.ErrBlobNotFound) {
		return fmt.Errorf("%w: %s/%s", domain.ErrSplitNotFound, s.ds.name, s.name)
	}
	if err != nil {
		return fmt.Errorf("fetch split: %w", err)
	}
	defer rc.Close()

	tx, err := s.ds.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE split = ?`, s.name); err != nil {
		return fmt.Errorf("clear split: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records (split, idx, image, objects) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 1<<20), maxLineBytes)
	n := 0
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var line Line
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return fmt.Errorf("decode %s line %d: %w", key, n+1, err)
		}
		objects, err := json.Marshal(line.Objects)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, s.name, n, line.Image, string(objects)); err != nil {
			return fmt.Errorf("insert record %d: %w", n, err)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO splits (name, complete, records) VALUES (?, 1, ?)`, s.name, n); err != nil {
		return fmt.Errorf("mark split complete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.WithField("records", n).Info("dataset split cached")
	return nil
}

type recordIterator struct {
	rows *sql.Rows
}

func (it *recordIterator) Next(ctx context.Context) (*domain.DatasetRecord, error) {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var (
		idx     int
		img     []byte
		objects string
	)
	if err := it.rows.Scan(&idx, &img, &objects); err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}

	decoded, err := imaging.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("decode image %d: %w", idx, err)
	}
	rec := &domain.DatasetRecord{Index: idx, Image: decoded}
	if err := json.Unmarshal([]byte(objects), &rec.Objects); err != nil {
		return nil, fmt.Errorf("decode objects %d: %w", idx, err)
	}
	return rec, nil
}

func (it *recordIterator) Close() error {
	return it.rows.Close()
}
