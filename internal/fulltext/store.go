package fulltext

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/maruel/ksid"
	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS entries (
	tm      TEXT    NOT NULL,
	seg     INTEGER NOT NULL,
	payload BLOB    NOT NULL,
	PRIMARY KEY (tm, seg)
);
CREATE TABLE IF NOT EXISTS commits (
	generation   INTEGER PRIMARY KEY,
	committed_at TEXT    NOT NULL,
	upserts      INTEGER NOT NULL,
	deletes      INTEGER NOT NULL
);
`

var (
	encoders = sync.Pool{New: func() any {
		e, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return e
	}}
	decoders = sync.Pool{New: func() any {
		d, _ := zstd.NewReader(nil)
		return d
	}}
)

func encodeEntry(e *Entry) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	enc := encoders.Get().(*zstd.Encoder)
	defer encoders.Put(enc)
	return enc.EncodeAll(raw, nil), nil
}

func decodeEntry(b []byte) (Entry, error) {
	dec := decoders.Get().(*zstd.Decoder)
	defer decoders.Put(dec)
	raw, err := dec.DecodeAll(b, nil)
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	err = json.Unmarshal(raw, &e)
	return e, err
}

// store persists entries in SQLite.
type store struct {
	db *sql.DB
}

func openStore(ctx context.Context, path string) (*store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// An in-memory database is private to its connection.
	db.SetMaxOpenConns(1)
	for _, q := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", schemaSQL} {
		if _, err := db.ExecContext(ctx, q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", firstLine(q), err)
		}
	}
	return &store{db: db}, nil
}

func (s *store) close() error {
	return s.db.Close()
}

// load reads every entry and the last commit generation.
func (s *store) load(ctx context.Context) ([]Entry, ksid.ID, error) {
	var gen ksid.ID
	var g int64
	switch err := s.db.QueryRowContext(ctx, "SELECT generation FROM commits ORDER BY generation DESC LIMIT 1").Scan(&g); {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, gen, err
	default:
		gen = ksid.ID(g)
	}
	rows, err := s.db.QueryContext(ctx, "SELECT tm, seg, payload FROM entries ORDER BY tm, seg")
	if err != nil {
		return nil, gen, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var id ID
		var payload []byte
		if err := rows.Scan(&id.TMID, &id.SegKey, &payload); err != nil {
			return nil, gen, err
		}
		e, err := decodeEntry(payload)
		if err != nil {
			return nil, gen, fmt.Errorf("entry %s/%d: %w", id.TMID, id.SegKey, err)
		}
		e.ID = id
		out = append(out, e)
	}
	return out, gen, rows.Err()
}

// apply persists ops in one transaction, tagged with gen.
func (s *store) apply(ctx context.Context, gen ksid.ID, ops []op) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	var upserts, deletes int
	for _, o := range ops {
		switch o.kind {
		case opPut:
			payload, err := encodeEntry(o.entry)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO entries (tm, seg, payload) VALUES (?, ?, ?) ON CONFLICT (tm, seg) DO UPDATE SET payload = excluded.payload",
				o.id.TMID, o.id.SegKey, payload); err != nil {
				return err
			}
			upserts++
		case opDelete:
			if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE tm = ? AND seg = ?", o.id.TMID, o.id.SegKey); err != nil {
				return err
			}
			deletes++
		case opDeleteTM:
			res, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE tm = ?", o.id.TMID)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			deletes += int(n)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO commits (generation, committed_at, upserts, deletes) VALUES (?, ?, ?, ?)",
		int64(gen), time.Now().UTC().Format(time.RFC3339Nano), upserts, deletes); err != nil {
		return err
	}
	return tx.Commit()
}

func firstLine(q string) string {
	l, _, _ := strings.Cut(strings.TrimSpace(q), "\n")
	return l
}
