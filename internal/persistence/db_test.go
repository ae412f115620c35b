package persistence

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/starlight/internal/sim/environment"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "starlight.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveLoadVehicles(t *testing.T) {
	db := openTestDB(t)
	snaps := []environment.Snapshot{
		{
			VehicleID:                  "station",
			Simulated:                  true,
			SecondsSinceLastEvaluation: 0.75,
			DominantSourceID:           "sun",
			Fields:                     map[string]any{"crew": 3, "label": "alpha", "deployed": true},
		},
		{VehicleID: "flag", DominantSourceID: ""},
	}
	if err := db.SaveVehicles(snaps); err != nil {
		t.Fatalf("SaveVehicles error: %v", err)
	}

	got, err := db.LoadVehicles()
	if err != nil {
		t.Fatalf("LoadVehicles error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("LoadVehicles returned %d snapshots, want 2", len(got))
	}
	// Ordered by vehicle ID.
	flag, station := got[0], got[1]
	if flag.VehicleID != "flag" || flag.Simulated || len(flag.Fields) != 0 {
		t.Fatalf("flag = %+v", flag)
	}
	if !station.Simulated || station.SecondsSinceLastEvaluation != 0.75 || station.DominantSourceID != "sun" {
		t.Fatalf("station = %+v", station)
	}
	if station.Fields["crew"] != 3.0 || station.Fields["label"] != "alpha" || station.Fields["deployed"] != true {
		t.Fatalf("station fields = %#v", station.Fields)
	}
}

func TestSaveVehiclesReplaces(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveVehicles([]environment.Snapshot{{VehicleID: "a"}, {VehicleID: "b"}}); err != nil {
		t.Fatalf("SaveVehicles error: %v", err)
	}
	if err := db.SaveVehicles([]environment.Snapshot{{VehicleID: "c"}}); err != nil {
		t.Fatalf("SaveVehicles error: %v", err)
	}
	got, err := db.LoadVehicles()
	if err != nil {
		t.Fatalf("LoadVehicles error: %v", err)
	}
	if len(got) != 1 || got[0].VehicleID != "c" {
		t.Fatalf("LoadVehicles = %+v, want only c", got)
	}
}

func TestSaveVehiclesRejectsUnsupportedFields(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveVehicles([]environment.Snapshot{{VehicleID: "a"}}); err != nil {
		t.Fatalf("SaveVehicles error: %v", err)
	}
	bad := []environment.Snapshot{{VehicleID: "b", Fields: map[string]any{"ch": make(chan int)}}}
	if err := db.SaveVehicles(bad); err == nil {
		t.Fatalf("expected error for unsupported field value")
	}
	// The failed transaction leaves the previous save intact.
	got, _ := db.LoadVehicles()
	if len(got) != 1 || got[0].VehicleID != "a" {
		t.Fatalf("LoadVehicles after failed save = %+v", got)
	}
}

func TestMeta(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetMeta("missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("GetMeta(missing) error = %v, want sql.ErrNoRows", err)
	}
	if err := db.SaveMeta(MetaSystem, "configs/system.yaml"); err != nil {
		t.Fatalf("SaveMeta error: %v", err)
	}
	if err := db.SaveMeta(MetaSystem, "other.yaml"); err != nil {
		t.Fatalf("SaveMeta error: %v", err)
	}
	if v, err := db.GetMeta(MetaSystem); err != nil || v != "other.yaml" {
		t.Fatalf("GetMeta = %q, %v", v, err)
	}

	at := time.Date(2030, 5, 1, 12, 30, 0, 500, time.UTC)
	if err := db.SaveSimTime(at); err != nil {
		t.Fatalf("SaveSimTime error: %v", err)
	}
	got, err := db.SimTime()
	if err != nil || !got.Equal(at) {
		t.Fatalf("SimTime = %v, %v, want %v", got, err, at)
	}
}

func TestRestoreFromDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restore.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	st := environment.NewState("probe")
	st.SetField("mission", "survey")
	if err := db.SaveVehicles([]environment.Snapshot{st.Snapshot()}); err != nil {
		t.Fatalf("SaveVehicles error: %v", err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer db.Close()
	snaps, err := db.LoadVehicles()
	if err != nil || len(snaps) != 1 {
		t.Fatalf("LoadVehicles = %v, %v", snaps, err)
	}
	restored := environment.NewState("")
	restored.Restore(snaps[0])
	if v, _ := restored.Field("mission"); v != "survey" || restored.VehicleID() != "probe" {
		t.Fatalf("restored = %+v", restored.Snapshot())
	}
}
