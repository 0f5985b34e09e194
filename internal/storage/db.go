package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cptspacemanspiff/syspower/internal/supply"
)

const schema = `
CREATE TABLE IF NOT EXISTS supply_samples (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	online INTEGER NOT NULL,
	capacity_pct INTEGER,
	current_ma INTEGER,
	voltage_mv INTEGER,
	power_mw INTEGER
);
CREATE INDEX IF NOT EXISTS idx_supply_samples_ts ON supply_samples(timestamp);
CREATE INDEX IF NOT EXISTS idx_supply_samples_name ON supply_samples(name, timestamp);

CREATE TABLE IF NOT EXISTS supply_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	name TEXT NOT NULL,
	action TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_supply_events_ts ON supply_events(timestamp);

CREATE TABLE IF NOT EXISTS resume_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	irq INTEGER,
	actions TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_resume_events_ts ON resume_events(timestamp);

CREATE TABLE IF NOT EXISTS wakeup_changes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	name TEXT NOT NULL,
	enabled INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_wakeup_changes_ts ON wakeup_changes(timestamp);
`

// SupplySample is one stored power supply reading. Unknown readings are
// stored as NULL.
type SupplySample struct {
	Timestamp   int64          `json:"timestamp"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Status      string         `json:"status"`
	Online      bool           `json:"online"`
	CapacityPct supply.Reading `json:"capacity_pct"`
	CurrentMA   supply.Reading `json:"current_ma"`
	VoltageMV   supply.Reading `json:"voltage_mv"`
	PowerMW     supply.Reading `json:"power_mw"`
}

// SampleFromInfo converts a supply snapshot into a stored sample.
func SampleFromInfo(info *supply.Info) SupplySample {
	return SupplySample{
		Timestamp:   info.Timestamp,
		Name:        info.Name,
		Type:        info.Type.String(),
		Status:      info.Status.String(),
		Online:      info.Online,
		CapacityPct: info.CapacityPct,
		CurrentMA:   info.CurrentNowMA,
		VoltageMV:   info.VoltageNowMV,
		PowerMW:     info.PowerNowMW,
	}
}

// SupplyEvent records a power supply uevent.
type SupplyEvent struct {
	Timestamp int64  `json:"timestamp"`
	Name      string `json:"name"`
	Action    string `json:"action"`
}

// ResumeEvent records why the system woke up. IRQ is unknown when the
// reason could not be read; Error then says why.
type ResumeEvent struct {
	Timestamp int64          `json:"timestamp"`
	IRQ       supply.Reading `json:"irq"`
	Actions   string         `json:"actions"`
	Error     string         `json:"error,omitempty"`
}

// WakeupChange records a wakeup source being enabled or disabled.
type WakeupChange struct {
	Timestamp int64  `json:"timestamp"`
	Name      string `json:"name"`
	Enabled   bool   `json:"enabled"`
}

// DB wraps a SQLite database of power history.
type DB struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func nullable(r supply.Reading) sql.NullInt64 {
	return sql.NullInt64{Int64: r.Value, Valid: r.Known}
}

func reading(n sql.NullInt64) supply.Reading {
	return supply.Reading{Value: n.Int64, Known: n.Valid}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// InsertSupplySamples batch-inserts supply samples in a single transaction.
func (d *DB) InsertSupplySamples(samples []SupplySample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT INTO supply_samples (timestamp, name, type, status, online, capacity_pct, current_ma, voltage_mv, power_mw) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, s := range samples {
		_, err := stmt.Exec(s.Timestamp, s.Name, s.Type, s.Status, boolInt(s.Online),
			nullable(s.CapacityPct), nullable(s.CurrentMA), nullable(s.VoltageMV), nullable(s.PowerMW))
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LatestSupplySample returns the most recent sample of the named supply.
func (d *DB) LatestSupplySample(name string) (*SupplySample, error) {
	row := d.db.QueryRow(
		"SELECT timestamp, name, type, status, online, capacity_pct, current_ma, voltage_mv, power_mw FROM supply_samples WHERE name = ? ORDER BY timestamp DESC, id DESC LIMIT 1",
		name,
	)
	s, err := scanSupplySample(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSupplySample(row scanner) (*SupplySample, error) {
	var (
		s                                 SupplySample
		online                            int
		capacity, current, voltage, power sql.NullInt64
	)
	if err := row.Scan(&s.Timestamp, &s.Name, &s.Type, &s.Status, &online, &capacity, &current, &voltage, &power); err != nil {
		return nil, err
	}
	s.Online = online != 0
	s.CapacityPct = reading(capacity)
	s.CurrentMA = reading(current)
	s.VoltageMV = reading(voltage)
	s.PowerMW = reading(power)
	return &s, nil
}

// SupplySamplesInRange returns samples within the given time range. An
// empty name selects every supply.
func (d *DB) SupplySamplesInRange(name string, from, to int64) ([]SupplySample, error) {
	rows, err := d.db.Query(
		"SELECT timestamp, name, type, status, online, capacity_pct, current_ma, voltage_mv, power_mw FROM supply_samples WHERE (? = '' OR name = ?) AND timestamp >= ? AND timestamp <= ? ORDER BY timestamp, id",
		name, name, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var samples []SupplySample
	for rows.Next() {
		s, err := scanSupplySample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, *s)
	}
	return samples, rows.Err()
}

// InsertSupplyEvent inserts a supply event.
func (d *DB) InsertSupplyEvent(e SupplyEvent) error {
	_, err := d.db.Exec(
		"INSERT INTO supply_events (timestamp, name, action) VALUES (?, ?, ?)",
		e.Timestamp, e.Name, e.Action,
	)
	return err
}

// SupplyEventsInRange returns supply events within the given time range.
func (d *DB) SupplyEventsInRange(from, to int64) ([]SupplyEvent, error) {
	rows, err := d.db.Query(
		"SELECT timestamp, name, action FROM supply_events WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp, id",
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []SupplyEvent
	for rows.Next() {
		var e SupplyEvent
		if err := rows.Scan(&e.Timestamp, &e.Name, &e.Action); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// InsertResumeEvent inserts a resume event.
func (d *DB) InsertResumeEvent(e ResumeEvent) error {
	_, err := d.db.Exec(
		"INSERT INTO resume_events (timestamp, irq, actions, error) VALUES (?, ?, ?, ?)",
		e.Timestamp, nullable(e.IRQ), e.Actions, e.Error,
	)
	return err
}

// ResumeEventsInRange returns resume events within the given time range.
func (d *DB) ResumeEventsInRange(from, to int64) ([]ResumeEvent, error) {
	rows, err := d.db.Query(
		"SELECT timestamp, irq, actions, error FROM resume_events WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp, id",
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []ResumeEvent
	for rows.Next() {
		var (
			e   ResumeEvent
			irq sql.NullInt64
		)
		if err := rows.Scan(&e.Timestamp, &irq, &e.Actions, &e.Error); err != nil {
			return nil, err
		}
		e.IRQ = reading(irq)
		events = append(events, e)
	}
	return events, rows.Err()
}

// InsertWakeupChange inserts a wakeup source change.
func (d *DB) InsertWakeupChange(c WakeupChange) error {
	_, err := d.db.Exec(
		"INSERT INTO wakeup_changes (timestamp, name, enabled) VALUES (?, ?, ?)",
		c.Timestamp, c.Name, boolInt(c.Enabled),
	)
	return err
}

// WakeupChangesInRange returns wakeup source changes within the given time
// range.
func (d *DB) WakeupChangesInRange(from, to int64) ([]WakeupChange, error) {
	rows, err := d.db.Query(
		"SELECT timestamp, name, enabled FROM wakeup_changes WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp, id",
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var changes []WakeupChange
	for rows.Next() {
		var (
			c       WakeupChange
			enabled int
		)
		if err := rows.Scan(&c.Timestamp, &c.Name, &enabled); err != nil {
			return nil, err
		}
		c.Enabled = enabled != 0
		changes = append(changes, c)
	}
	return changes, rows.Err()
}
