// Package persistence stores vehicle environment snapshots and simulator
// metadata in SQLite.
package persistence

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/starlight/internal/sim/environment"
)

// Metadata keys written by the simulator.
const (
	MetaSimTime = "sim_time"
	MetaSystem  = "system"
)

// DB wraps a SQLite connection.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vehicle_environment (
		vehicle_id TEXT PRIMARY KEY,
		simulated INTEGER NOT NULL,
		seconds_since_evaluation REAL NOT NULL,
		dominant_source_id TEXT NOT NULL,
		fields_json TEXT NOT NULL,
		saved_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS simulator_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type vehicleRow struct {
	VehicleID                  string  `db:"vehicle_id"`
	Simulated                  int     `db:"simulated"`
	SecondsSinceLastEvaluation float64 `db:"seconds_since_evaluation"`
	DominantSourceID           string  `db:"dominant_source_id"`
	FieldsJSON                 string  `db:"fields_json"`
}

// SaveVehicles replaces the stored snapshots with snaps.
//
// Collaborator fields are stored as a protobuf Struct, so they must be
// JSON-like values (nil, bool, numbers, strings, []any, map[string]any).
func (db *DB) SaveVehicles(snaps []environment.Snapshot) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM vehicle_environment"); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO vehicle_environment
		(vehicle_id, simulated, seconds_since_evaluation, dominant_source_id, fields_json, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	savedAt := time.Now().UTC().Format(time.RFC3339)
	for _, snap := range snaps {
		fields, err := encodeFields(snap.Fields)
		if err != nil {
			return fmt.Errorf("vehicle %q: %w", snap.VehicleID, err)
		}
		simulated := 0
		if snap.Simulated {
			simulated = 1
		}
		_, err = stmt.Exec(snap.VehicleID, simulated, snap.SecondsSinceLastEvaluation, snap.DominantSourceID, fields, savedAt)
		if err != nil {
			return fmt.Errorf("insert vehicle %q: %w", snap.VehicleID, err)
		}
	}
	return tx.Commit()
}

// LoadVehicles returns all stored snapshots ordered by vehicle ID.
// Numeric fields come back as float64.
func (db *DB) LoadVehicles() ([]environment.Snapshot, error) {
	var rows []vehicleRow
	err := db.conn.Select(&rows, `SELECT vehicle_id, simulated, seconds_since_evaluation,
		dominant_source_id, fields_json FROM vehicle_environment ORDER BY vehicle_id`)
	if err != nil {
		return nil, fmt.Errorf("load vehicles: %w", err)
	}

	out := make([]environment.Snapshot, 0, len(rows))
	for _, r := range rows {
		fields, err := decodeFields(r.FieldsJSON)
		if err != nil {
			return nil, fmt.Errorf("vehicle %q: %w", r.VehicleID, err)
		}
		out = append(out, environment.Snapshot{
			VehicleID:                  r.VehicleID,
			Simulated:                  r.Simulated != 0,
			SecondsSinceLastEvaluation: r.SecondsSinceLastEvaluation,
			DominantSourceID:           r.DominantSourceID,
			Fields:                     fields,
		})
	}
	return out, nil
}

// SaveMeta stores a key-value pair in simulator metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO simulator_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value. A missing key yields sql.ErrNoRows.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM simulator_meta WHERE key = ?", key)
	return value, err
}

// SaveSimTime records the simulation time reached.
func (db *DB) SaveSimTime(t time.Time) error {
	return db.SaveMeta(MetaSimTime, t.UTC().Format(time.RFC3339Nano))
}

// SimTime returns the recorded simulation time.
func (db *DB) SimTime() (time.Time, error) {
	raw, err := db.GetMeta(MetaSimTime)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, raw)
}

func encodeFields(fields map[string]any) (string, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return string(b), nil
}

func decodeFields(raw string) (map[string]any, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return s.AsMap(), nil
}
