package takeoff

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore is a Repository backed by a SQLite file. Geometry columns hold
// JSON; everything else is a plain column so sheets can be listed in order.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path
func OpenSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLiteStore wraps db and applies the schema
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Measurements
// ---------------------------------------------------------------------------

const measurementColumns = `id, project_id, sheet_id, condition_id, condition_name, type, pdf_page,
	points, calculated_value, unit, color, cutouts, net_value, perimeter_value, created_at`

// CreateMeasurement implements Persistence
func (s *SQLiteStore) CreateMeasurement(ctx context.Context, m Measurement) (string, error) {
	if err := validateMeasurement(m); err != nil {
		return "", err
	}
	points, cutouts, err := encodeMeasurementGeometry(m.Points, m.Cutouts)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	created := m.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO measurements (`+measurementColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		id, m.ProjectID, m.SheetID, m.ConditionID, m.ConditionName, string(m.Type), m.PdfPage,
		points, m.CalculatedValue, m.Unit, m.Color, cutouts,
		nullFloat(m.NetCalculatedValue), nullFloat(m.PerimeterValue), created.UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("insert measurement: %w", err)
	}
	return id, nil
}

// UpdateMeasurement implements Persistence
func (s *SQLiteStore) UpdateMeasurement(ctx context.Context, id string, patch MeasurementPatch) error {
	points, cutouts, err := encodeMeasurementGeometry(patch.Points, patch.Cutouts)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
        UPDATE measurements
        SET points = ?, calculated_value = ?, cutouts = ?, net_value = ?, perimeter_value = ?
        WHERE id = ?
    `, points, patch.CalculatedValue, cutouts, nullFloat(patch.NetCalculatedValue), nullFloat(patch.PerimeterValue), id)
	if err != nil {
		return fmt.Errorf("update measurement %s: %w", id, err)
	}
	return expectRow(res, "measurement", id)
}

// DeleteMeasurement implements Persistence
func (s *SQLiteStore) DeleteMeasurement(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM measurements WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete measurement %s: %w", id, err)
	}
	return expectRow(res, "measurement", id)
}

// GetMeasurement implements Repository
func (s *SQLiteStore) GetMeasurement(ctx context.Context, id string) (Measurement, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+measurementColumns+` FROM measurements WHERE id = ?`, id)
	m, err := scanMeasurement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Measurement{}, fmt.Errorf("measurement %s: %w", id, ErrNotFound)
	}
	return m, err
}

// ListMeasurements implements Repository. An empty sheetID lists the whole project.
func (s *SQLiteStore) ListMeasurements(ctx context.Context, projectID, sheetID string) ([]Measurement, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+measurementColumns+`
        FROM measurements
        WHERE project_id = ? AND (? = '' OR sheet_id = ?)
        ORDER BY created_at, id
    `, projectID, sheetID, sheetID)
	if err != nil {
		return nil, fmt.Errorf("list measurements: %w", err)
	}
	defer rows.Close()

	var out []Measurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeasurement(row rowScanner) (Measurement, error) {
	var (
		m              Measurement
		typ            string
		points         string
		cutouts        string
		net, perimeter sql.NullFloat64
		created        int64
	)
	err := row.Scan(&m.ID, &m.ProjectID, &m.SheetID, &m.ConditionID, &m.ConditionName, &typ, &m.PdfPage,
		&points, &m.CalculatedValue, &m.Unit, &m.Color, &cutouts, &net, &perimeter, &created)
	if err != nil {
		return Measurement{}, err
	}
	m.Type = MeasurementType(typ)
	if err := json.Unmarshal([]byte(points), &m.Points); err != nil {
		return Measurement{}, fmt.Errorf("decode points of %s: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(cutouts), &m.Cutouts); err != nil {
		return Measurement{}, fmt.Errorf("decode cutouts of %s: %w", m.ID, err)
	}
	if len(m.Cutouts) == 0 {
		m.Cutouts = nil
	}
	if net.Valid {
		m.NetCalculatedValue = floatPtr(net.Float64)
	}
	if perimeter.Valid {
		m.PerimeterValue = floatPtr(perimeter.Float64)
	}
	m.CreatedAt = time.Unix(0, created).UTC()
	return m, nil
}

// ---------------------------------------------------------------------------
// Annotations
// ---------------------------------------------------------------------------

const annotationColumns = `id, project_id, sheet_id, page_number, type, points, color, text, created_at`

// CreateAnnotation implements Persistence
func (s *SQLiteStore) CreateAnnotation(ctx context.Context, a Annotation) (string, error) {
	if err := validateAnnotation(a); err != nil {
		return "", err
	}
	points, err := json.Marshal(a.Points)
	if err != nil {
		return "", fmt.Errorf("encode points: %w", err)
	}
	id := uuid.NewString()
	created := a.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO annotations (`+annotationColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, id, a.ProjectID, a.SheetID, a.PageNumber, string(a.Type), string(points), a.Color, a.Text, created.UnixNano())
	if err != nil {
		return "", fmt.Errorf("insert annotation: %w", err)
	}
	return id, nil
}

// UpdateAnnotation implements Persistence
func (s *SQLiteStore) UpdateAnnotation(ctx context.Context, id string, patch AnnotationPatch) error {
	points, err := json.Marshal(patch.Points)
	if err != nil {
		return fmt.Errorf("encode points: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
        UPDATE annotations SET points = ?, color = ?, text = ? WHERE id = ?
    `, string(points), patch.Color, patch.Text, id)
	if err != nil {
		return fmt.Errorf("update annotation %s: %w", id, err)
	}
	return expectRow(res, "annotation", id)
}

// DeleteAnnotation implements Persistence
func (s *SQLiteStore) DeleteAnnotation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM annotations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete annotation %s: %w", id, err)
	}
	return expectRow(res, "annotation", id)
}

// GetAnnotation implements Repository
func (s *SQLiteStore) GetAnnotation(ctx context.Context, id string) (Annotation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+annotationColumns+` FROM annotations WHERE id = ?`, id)
	a, err := scanAnnotation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Annotation{}, fmt.Errorf("annotation %s: %w", id, ErrNotFound)
	}
	return a, err
}

// ListAnnotations implements Repository
func (s *SQLiteStore) ListAnnotations(ctx context.Context, projectID, sheetID string) ([]Annotation, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+annotationColumns+`
        FROM annotations
        WHERE project_id = ? AND (? = '' OR sheet_id = ?)
        ORDER BY created_at, id
    `, projectID, sheetID, sheetID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	var out []Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAnnotation(row rowScanner) (Annotation, error) {
	var (
		a       Annotation
		typ     string
		points  string
		created int64
	)
	if err := row.Scan(&a.ID, &a.ProjectID, &a.SheetID, &a.PageNumber, &typ, &points, &a.Color, &a.Text, &created); err != nil {
		return Annotation{}, err
	}
	a.Type = AnnotationType(typ)
	if err := json.Unmarshal([]byte(points), &a.Points); err != nil {
		return Annotation{}, fmt.Errorf("decode points of %s: %w", a.ID, err)
	}
	a.CreatedAt = time.Unix(0, created).UTC()
	return a, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func encodeMeasurementGeometry(points []Point, cutouts []Cutout) (string, string, error) {
	p, err := json.Marshal(points)
	if err != nil {
		return "", "", fmt.Errorf("encode points: %w", err)
	}
	if cutouts == nil {
		cutouts = []Cutout{}
	}
	c, err := json.Marshal(cutouts)
	if err != nil {
		return "", "", fmt.Errorf("encode cutouts: %w", err)
	}
	return string(p), string(c), nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
