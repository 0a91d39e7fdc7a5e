package store

import (
	"database/sql"
	"fmt"
	"slices"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cyface-de/uplink/common"
	"github.com/cyface-de/uplink/model"
)

// point3dTable maps an inertial stream kind to its table. This is the single
// descriptor that distinguishes the three Point3D streams; there is no
// per-kind reader code anywhere else.
var point3dTable = map[uint]string{
	common.STREAM_ACCELERATION: "accelerations",
	common.STREAM_ROTATION:     "rotations",
	common.STREAM_DIRECTION:    "directions",
}

const schema = `
CREATE TABLE IF NOT EXISTS measurements (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	status INTEGER NOT NULL,
	modality TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS locations (
	measurement_id INTEGER NOT NULL REFERENCES measurements(id),
	ts INTEGER NOT NULL,
	lat REAL NOT NULL,
	lon REAL NOT NULL,
	speed REAL NOT NULL,
	accuracy INTEGER
);
CREATE INDEX IF NOT EXISTS idx_locations ON locations(measurement_id, ts);
CREATE TABLE IF NOT EXISTS accelerations (
	measurement_id INTEGER NOT NULL REFERENCES measurements(id),
	ts INTEGER NOT NULL,
	x REAL NOT NULL, y REAL NOT NULL, z REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_accelerations ON accelerations(measurement_id, ts);
CREATE TABLE IF NOT EXISTS rotations (
	measurement_id INTEGER NOT NULL REFERENCES measurements(id),
	ts INTEGER NOT NULL,
	x REAL NOT NULL, y REAL NOT NULL, z REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rotations ON rotations(measurement_id, ts);
CREATE TABLE IF NOT EXISTS directions (
	measurement_id INTEGER NOT NULL REFERENCES measurements(id),
	ts INTEGER NOT NULL,
	x REAL NOT NULL, y REAL NOT NULL, z REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_directions ON directions(measurement_id, ts);
`

type Sqlite struct {
	db *sql.DB
}

// Open opens (and if needed creates) the measurement database. Use ":memory:"
// for an ephemeral store in tests.
func Open(path string) (*Sqlite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Sqlite{db: db}, nil
}

func (s *Sqlite) Close() error {
	return s.db.Close()
}

func (s *Sqlite) FetchLocationPage(measurementID int64, offset, limit int) ([]model.GeoLocation, error) {
	rows, err := s.db.Query(
		`SELECT ts, lat, lon, speed, accuracy FROM locations
		 WHERE measurement_id = ? ORDER BY ts, rowid LIMIT ? OFFSET ?`,
		measurementID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch locations: %v", ErrDataSourceUnavailable, err)
	}
	defer rows.Close()

	page := make([]model.GeoLocation, 0, limit)
	for rows.Next() {
		var l model.GeoLocation
		var acc sql.NullInt32
		if err := rows.Scan(&l.Timestamp, &l.Lat, &l.Lon, &l.Speed, &acc); err != nil {
			return nil, fmt.Errorf("%w: scan location: %v", ErrDataSourceUnavailable, err)
		}
		if acc.Valid {
			v := acc.Int32
			l.Accuracy = &v
		}
		page = append(page, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch locations: %v", ErrDataSourceUnavailable, err)
	}
	return page, nil
}

func (s *Sqlite) FetchPoint3DPage(kind uint, measurementID int64, offset, limit int) ([]model.Point3D, error) {
	table, ok := point3dTable[kind]
	if !ok {
		return nil, fmt.Errorf("not a point3d stream kind: %#x", kind)
	}
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT ts, x, y, z FROM %s
		 WHERE measurement_id = ? ORDER BY ts, rowid LIMIT ? OFFSET ?`, table),
		measurementID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrDataSourceUnavailable, table, err)
	}
	defer rows.Close()

	page := make([]model.Point3D, 0, limit)
	for rows.Next() {
		var p model.Point3D
		if err := rows.Scan(&p.Timestamp, &p.X, &p.Y, &p.Z); err != nil {
			return nil, fmt.Errorf("%w: scan %s: %v", ErrDataSourceUnavailable, table, err)
		}
		page = append(page, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrDataSourceUnavailable, table, err)
	}
	return page, nil
}

func (s *Sqlite) CountRows(kind uint, measurementID int64) (int, error) {
	table := "locations"
	if kind != common.STREAM_LOCATION {
		var ok bool
		table, ok = point3dTable[kind]
		if !ok {
			return 0, fmt.Errorf("not a stream kind: %#x", kind)
		}
	}
	var n int
	err := s.db.QueryRow(
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE measurement_id = ?", table),
		measurementID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count %s: %v", ErrDataSourceUnavailable, table, err)
	}
	return n, nil
}

func (s *Sqlite) FinishedMeasurements() ([]model.Measurement, error) {
	rows, err := s.db.Query(
		"SELECT id, status, modality FROM measurements WHERE status = ? ORDER BY id",
		common.MEASUREMENT_FINISHED)
	if err != nil {
		return nil, fmt.Errorf("%w: list finished: %v", ErrDataSourceUnavailable, err)
	}
	defer rows.Close()

	var out []model.Measurement
	for rows.Next() {
		var m model.Measurement
		if err := rows.Scan(&m.ID, &m.Status, &m.Modality); err != nil {
			return nil, fmt.Errorf("%w: scan measurement: %v", ErrDataSourceUnavailable, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Sqlite) Status(measurementID int64) (uint, error) {
	var status uint
	err := s.db.QueryRow("SELECT status FROM measurements WHERE id = ?", measurementID).Scan(&status)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("no measurement with id %d", measurementID)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read status: %v", ErrDataSourceUnavailable, err)
	}
	return status, nil
}

func (s *Sqlite) SetStatus(measurementID int64, status uint) error {
	res, err := s.db.Exec("UPDATE measurements SET status = ? WHERE id = ?", status, measurementID)
	if err != nil {
		return fmt.Errorf("%w: set status: %v", ErrDataSourceUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no measurement with id %d", measurementID)
	}
	return nil
}

// CreateMeasurement inserts a new session in OPEN state. The capture side of
// the SDK appends samples to it and marks it FINISHED when the trip ends.
func (s *Sqlite) CreateMeasurement(modality string) (int64, error) {
	if !slices.Contains(common.ValidModalities, modality) {
		return 0, fmt.Errorf("invalid modality %q", modality)
	}
	res, err := s.db.Exec("INSERT INTO measurements (status, modality) VALUES (?, ?)",
		common.MEASUREMENT_OPEN, modality)
	if err != nil {
		return 0, fmt.Errorf("%w: create measurement: %v", ErrDataSourceUnavailable, err)
	}
	return res.LastInsertId()
}

func (s *Sqlite) AppendLocation(measurementID int64, l model.GeoLocation) error {
	var acc interface{}
	if l.Accuracy != nil {
		acc = *l.Accuracy
	}
	_, err := s.db.Exec(
		"INSERT INTO locations (measurement_id, ts, lat, lon, speed, accuracy) VALUES (?, ?, ?, ?, ?, ?)",
		measurementID, l.Timestamp, l.Lat, l.Lon, l.Speed, acc)
	if err != nil {
		return fmt.Errorf("%w: append location: %v", ErrDataSourceUnavailable, err)
	}
	return err
}

func (s *Sqlite) AppendPoint3D(kind uint, measurementID int64, p model.Point3D) error {
	table, ok := point3dTable[kind]
	if !ok {
		return fmt.Errorf("not a point3d stream kind: %#x", kind)
	}
	_, err := s.db.Exec(
		fmt.Sprintf("INSERT INTO %s (measurement_id, ts, x, y, z) VALUES (?, ?, ?, ?, ?)", table),
		measurementID, p.Timestamp, p.X, p.Y, p.Z)
	if err != nil {
		return fmt.Errorf("%w: append %s: %v", ErrDataSourceUnavailable, table, err)
	}
	return nil
}
