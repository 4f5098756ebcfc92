package db

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/labsweep/internal/dataset"
	"github.com/banshee-data/labsweep/internal/sweeperr"
)

const (
	kindIndependent = "independent"
	kindDependent   = "dependent"
)

// Open implements dataset.Vault. Sessions share the DB handle; closing a
// session does not close the database.
func (db *DB) Open() (dataset.Session, error) {
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("vault unavailable: %w", err)
	}
	return &session{db: db}, nil
}

type session struct {
	db      *DB
	cwd     []string
	current string
	width   int
	nextRow int
	closed  bool
}

func (s *session) check() error {
	if s.closed {
		return fmt.Errorf("%w: session closed", sweeperr.ErrInvalidState)
	}
	return nil
}

func joinPath(path []string) (string, error) {
	for _, p := range path {
		if p == "" || strings.Contains(p, "/") {
			return "", fmt.Errorf("%w: invalid directory name %q", sweeperr.ErrInvalidArgument, p)
		}
	}
	return strings.Join(path, "/"), nil
}

func (s *session) Cd(path []string, create bool) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := joinPath(path); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i := 1; i <= len(path); i++ {
		key := strings.Join(path[:i], "/")
		var exists bool
		if err := tx.QueryRow(`SELECT COUNT(*) > 0 FROM directories WHERE path = ?`, key).Scan(&exists); err != nil {
			return fmt.Errorf("looking up directory %q: %w", key, err)
		}
		if exists {
			continue
		}
		if !create {
			return fmt.Errorf("%w: directory %q does not exist", sweeperr.ErrInvalidArgument, key)
		}
		if _, err := tx.Exec(`INSERT INTO directories (path, created_at) VALUES (?, ?)`, key, formatTime(time.Now())); err != nil {
			return fmt.Errorf("creating directory %q: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.cwd = append([]string(nil), path...)
	return nil
}

func (s *session) New(name string, independents, dependents []string) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	dir, err := joinPath(s.cwd)
	if err != nil {
		return "", err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	id := uuid.NewString()
	if _, err := tx.Exec(`INSERT INTO datasets (dataset_id, directory, name, created_at) VALUES (?, ?, ?, ?)`,
		id, dir, name, formatTime(time.Now())); err != nil {
		return "", fmt.Errorf("inserting dataset %q: %w", name, err)
	}
	insertVars := func(kind string, labels []string) error {
		for i, l := range labels {
			if _, err := tx.Exec(`INSERT INTO variables (dataset_id, kind, position, label) VALUES (?, ?, ?, ?)`,
				id, kind, i, l); err != nil {
				return fmt.Errorf("inserting %s variable %q: %w", kind, l, err)
			}
		}
		return nil
	}
	if err := insertVars(kindIndependent, independents); err != nil {
		return "", err
	}
	if err := insertVars(kindDependent, dependents); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	s.current = id
	s.width = len(independents) + len(dependents)
	s.nextRow = 0
	return id, nil
}

func (s *session) dataset() (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	if s.current == "" {
		return "", fmt.Errorf("%w: no dataset open in session", sweeperr.ErrInvalidState)
	}
	return s.current, nil
}

func (s *session) Add(rows [][]float64) error {
	id, err := s.dataset()
	if err != nil {
		return err
	}
	for _, row := range rows {
		if len(row) != s.width {
			return fmt.Errorf("%w: row has %d values, dataset has %d columns", sweeperr.ErrInvalidArgument, len(row), s.width)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO data_values (dataset_id, row_index, column_index, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, row := range rows {
		for col, v := range row {
			if _, err := stmt.Exec(id, s.nextRow+i, col, nullFloat(v)); err != nil {
				return fmt.Errorf("inserting row %d: %w", s.nextRow+i, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.nextRow += len(rows)
	return nil
}

func (s *session) AddComment(text, author string) error {
	id, err := s.dataset()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO comments (dataset_id, author, text, created_at) VALUES (?, ?, ?, ?)`,
		id, author, text, formatTime(time.Now()))
	return err
}

func (s *session) AddParameter(p dataset.Parameter) error {
	id, err := s.dataset()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO parameters (dataset_id, name, units, value) VALUES (?, ?, ?, ?)`,
		id, p.Name, p.Units, nullFloat(p.Value))
	return err
}

func (s *session) Close() error {
	s.closed = true
	return nil
}

// DatasetSummary is a list entry for a stored dataset.
type DatasetSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  []string  `json:"location"`
	CreatedAt time.Time `json:"created_at"`
	Rows      int       `json:"rows"`
}

// ListDatasets returns every dataset in creation order.
func (db *DB) ListDatasets() ([]DatasetSummary, error) {
	rows, err := db.Query(`
		SELECT d.dataset_id, d.name, d.directory, d.created_at,
		       (SELECT COUNT(DISTINCT row_index) FROM data_values v WHERE v.dataset_id = d.dataset_id)
		FROM datasets d
		ORDER BY d.created_at, d.rowid
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DatasetSummary
	for rows.Next() {
		var (
			ds        DatasetSummary
			dir       string
			createdAt sql.NullString
		)
		if err := rows.Scan(&ds.ID, &ds.Name, &dir, &createdAt, &ds.Rows); err != nil {
			return nil, err
		}
		ds.Location = splitPath(dir)
		ds.CreatedAt = parseTime(createdAt)
		out = append(out, ds)
	}
	return out, rows.Err()
}

// Dataset loads a whole dataset: variables, comments, parameters and rows.
func (db *DB) Dataset(id string) (dataset.Record, error) {
	rec := dataset.Record{ID: id}
	var dir string
	err := db.QueryRow(`SELECT name, directory FROM datasets WHERE dataset_id = ?`, id).Scan(&rec.Name, &dir)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("%w: no dataset %q", sweeperr.ErrInvalidArgument, id)
	}
	if err != nil {
		return rec, fmt.Errorf("querying dataset %s: %w", id, err)
	}
	rec.Location = splitPath(dir)

	vars, err := db.Query(`SELECT kind, label FROM variables WHERE dataset_id = ? ORDER BY kind DESC, position`, id)
	if err != nil {
		return rec, err
	}
	for vars.Next() {
		var kind, label string
		if err := vars.Scan(&kind, &label); err != nil {
			vars.Close()
			return rec, err
		}
		if kind == kindIndependent {
			rec.Independents = append(rec.Independents, label)
		} else {
			rec.Dependents = append(rec.Dependents, label)
		}
	}
	vars.Close()
	if err := vars.Err(); err != nil {
		return rec, err
	}

	comments, err := db.Query(`SELECT text, author FROM comments WHERE dataset_id = ? ORDER BY comment_id`, id)
	if err != nil {
		return rec, err
	}
	for comments.Next() {
		var c dataset.Comment
		if err := comments.Scan(&c.Text, &c.Author); err != nil {
			comments.Close()
			return rec, err
		}
		rec.Comments = append(rec.Comments, c)
	}
	comments.Close()

	params, err := db.Query(`SELECT name, units, value FROM parameters WHERE dataset_id = ? ORDER BY parameter_id`, id)
	if err != nil {
		return rec, err
	}
	for params.Next() {
		var (
			p dataset.Parameter
			v sql.NullFloat64
		)
		if err := params.Scan(&p.Name, &p.Units, &v); err != nil {
			params.Close()
			return rec, err
		}
		p.Value = floatOrNaN(v)
		rec.Parameters = append(rec.Parameters, p)
	}
	params.Close()

	rec.Rows, err = db.Rows(id, len(rec.Independents)+len(rec.Dependents))
	return rec, err
}

// Rows returns the data of a dataset with the given column count. Missing
// or NULL cells read back as NaN.
func (db *DB) Rows(id string, width int) ([][]float64, error) {
	rs, err := db.Query(`SELECT row_index, column_index, value FROM data_values WHERE dataset_id = ? ORDER BY row_index, column_index`, id)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out [][]float64
	for rs.Next() {
		var (
			r, c int
			v    sql.NullFloat64
		)
		if err := rs.Scan(&r, &c, &v); err != nil {
			return nil, err
		}
		for len(out) <= r {
			row := make([]float64, width)
			for i := range row {
				row[i] = math.NaN()
			}
			out = append(out, row)
		}
		if c < width {
			out[r][c] = floatOrNaN(v)
		}
	}
	return out, rs.Err()
}

// ExportCSV writes a dataset as CSV: header then rows.
func (db *DB) ExportCSV(w io.Writer, id string) error {
	rec, err := db.Dataset(id)
	if err != nil {
		return err
	}
	return dataset.WriteRecord(w, rec)
}

func splitPath(dir string) []string {
	if dir == "" {
		return []string{}
	}
	return strings.Split(dir, "/")
}

func nullFloat(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, ns.String); err == nil {
			return t
		}
	}
	return time.Time{}
}
