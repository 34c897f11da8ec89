// CLAUDE:SUMMARY Postcode to city-code reference table (La Poste hexasmal) persisted in SQLite, plus its windows-1252 CSV parser.
package postal

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/hazyhaar/french-cities/pkg/normalize"

	_ "modernc.org/sqlite"
)

// DefaultHexasmalURL is the raw download of the La Poste postcode table.
const DefaultHexasmalURL = "https://datanova.laposte.fr/data-fair/api/v1/datasets/laposte-hexasmal/raw"

// Record is one postcode / city pair.
type Record struct {
	Postcode string
	Insee    string
	Label    string
}

// Store holds the postcode table.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the SQLite database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open postal db: %w", err)
	}
	const ddl = `CREATE TABLE IF NOT EXISTS postcodes (
		postcode TEXT NOT NULL,
		insee    TEXT NOT NULL,
		label    TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (postcode, insee)
	)`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("create postcodes table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close ferme la connexion SQLite.
func (s *Store) Close() error {
	return s.db.Close()
}

// Count returns the number of stored pairs.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM postcodes`).Scan(&n)
	return n, err
}

// Replace swaps the whole table for records in one transaction.
func (s *Store) Replace(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM postcodes`); err != nil {
		return fmt.Errorf("truncate postcodes: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO postcodes (postcode, insee, label) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Postcode, r.Insee, r.Label); err != nil {
			return fmt.Errorf("insert %s/%s: %w", r.Postcode, r.Insee, err)
		}
	}
	return tx.Commit()
}

const lookupBatch = 500

// Lookup returns the distinct city codes of each known postcode.
func (s *Store) Lookup(ctx context.Context, postcodes []string) (map[string][]string, error) {
	out := make(map[string][]string)
	for start := 0; start < len(postcodes); start += lookupBatch {
		batch := postcodes[start:min(start+lookupBatch, len(postcodes))]
		args := make([]any, len(batch))
		for i, p := range batch {
			args[i] = p
		}
		q := `SELECT postcode, insee FROM postcodes WHERE postcode IN (?` +
			strings.Repeat(",?", len(batch)-1) + `) ORDER BY postcode, insee`
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("lookup postcodes: %w", err)
		}
		for rows.Next() {
			var pc, insee string
			if err := rows.Scan(&pc, &insee); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan postcode: %w", err)
			}
			out[pc] = append(out[pc], insee)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ParseHexasmal reads the La Poste table: ';'-separated, windows-1252 encoded,
// with at least the #Code_commune_INSEE and Code_postal columns.
func ParseHexasmal(r io.Reader) ([]Record, error) {
	enc, err := htmlindex.Get("windows-1252")
	if err != nil {
		return nil, fmt.Errorf("get encoding: %w", err)
	}
	cr := csv.NewReader(enc.NewDecoder().Reader(r))
	cr.Comma = ';'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	colIdx := make(map[string]int)
	for i, h := range header {
		colIdx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	inseeCol, ok1 := colIdx["#Code_commune_INSEE"]
	postCol, ok2 := colIdx["Code_postal"]
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("unexpected hexasmal header %v", header)
	}
	labelCol, hasLabel := colIdx["Nom_de_la_commune"]
	if !hasLabel {
		labelCol, hasLabel = colIdx["Nom_commune"]
	}

	var records []Record
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if inseeCol >= len(rec) || postCol >= len(rec) {
			continue
		}
		r := Record{
			Postcode: normalize.Postcode(rec[postCol]),
			Insee:    strings.TrimSpace(rec[inseeCol]),
		}
		if hasLabel && labelCol < len(rec) {
			r.Label = strings.TrimSpace(rec[labelCol])
		}
		if r.Postcode == "" || r.Insee == "" {
			continue
		}
		records = append(records, r)
	}
	return records, nil
}
