package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/gridctl/internal/engine"
)

// MaxHistoryLimit caps the number of rows a history query returns.
const MaxHistoryLimit = 5000

// FanSample is one channel's row of a recorded cycle. RPM, Voltage and Current
// are only meaningful when Polled is set.
type FanSample struct {
	Channel int     `json:"channel"`
	Target  int     `json:"target"`
	Level   int     `json:"level"`
	Polled  bool    `json:"polled"`
	RPM     int     `json:"rpm,omitempty"`
	Voltage float64 `json:"voltage,omitempty"`
	Current float64 `json:"current,omitempty"`
}

// SignalSample is a signal value recorded with a cycle.
type SignalSample struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// CycleRecord is a stored cycle.
type CycleRecord struct {
	ID          int64          `json:"id"`
	RunID       string         `json:"run_id"`
	Cycle       uint64         `json:"cycle"`
	Epoch       uint64         `json:"epoch"`
	Time        time.Time      `json:"time"`
	Duration    time.Duration  `json:"duration_ns"`
	OK          bool           `json:"ok"`
	TelemetryOK bool           `json:"telemetry_ok"`
	State       string         `json:"state"`
	Port        string         `json:"port,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Sent        int            `json:"sent"`
	Errors      []string       `json:"errors,omitempty"`
	Fans        []FanSample    `json:"fans"`
	Signals     []SignalSample `json:"signals"`
}

// ChannelPoint is one channel at one point in time.
type ChannelPoint struct {
	Time   time.Time `json:"time"`
	Target int       `json:"target"`
	Level  int       `json:"level"`
	RPM    int       `json:"rpm,omitempty"`
}

// SignalPoint is one signal value at one point in time.
type SignalPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// RecordCycle stores st under the current run id. It satisfies
// engine.Recorder.
func (db *DB) RecordCycle(ctx context.Context, st engine.Status) error {
	errs := st.Errors
	if errs == nil {
		errs = []string{}
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("failed to encode errors: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO cycles (
			run_id, cycle, epoch, recorded_unix_ns, duration_ns, ok, telemetry_ok,
			state, port, reason, sent, errors_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		db.runID, int64(st.Cycle), int64(st.Epoch), st.Time.UnixNano(), int64(st.Duration),
		st.OK, st.TelemetryOK, st.Connection.State.String(), st.Connection.Port,
		st.Connection.Reason, st.Sent, string(errsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert cycle %d: %w", st.Cycle, err)
	}
	cycleID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	polled := make(map[int]int, len(st.Fans))
	for i, f := range st.Fans {
		polled[f.Channel] = i
	}
	for i := range st.Targets {
		ch := i + 1
		level := -1
		if i < len(st.Levels) {
			level = st.Levels[i]
		}
		var rpm sql.NullInt64
		var voltage, current sql.NullFloat64
		if j, ok := polled[ch]; ok {
			f := st.Fans[j]
			rpm = sql.NullInt64{Int64: int64(f.RPM), Valid: true}
			voltage = sql.NullFloat64{Float64: f.Voltage, Valid: true}
			current = sql.NullFloat64{Float64: f.Current, Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fan_samples (cycle_id, channel, target, level, rpm, voltage, current) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			cycleID, ch, st.Targets[i], level, rpm, voltage, current,
		); err != nil {
			return fmt.Errorf("failed to insert fan %d sample: %w", ch, err)
		}
	}

	for _, s := range st.Signals {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO signal_samples (cycle_id, name, value) VALUES (?, ?, ?)`,
			cycleID, s.Name, s.Value,
		); err != nil {
			return fmt.Errorf("failed to insert signal %q: %w", s.Name, err)
		}
	}

	return tx.Commit()
}

// RecentCycles returns up to limit cycles, newest first.
func (db *DB) RecentCycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	limit = clampLimit(limit)
	rows, err := db.QueryContext(ctx, `SELECT cycle_id, run_id, cycle, epoch, recorded_unix_ns, duration_ns,
			ok, telemetry_ok, state, port, reason, sent, errors_json
		FROM cycles ORDER BY recorded_unix_ns DESC, cycle_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []CycleRecord
	for rows.Next() {
		var (
			rec        CycleRecord
			cycle      int64
			epoch      int64
			recordedNs int64
			durationNs int64
			errsJSON   string
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &cycle, &epoch, &recordedNs, &durationNs,
			&rec.OK, &rec.TelemetryOK, &rec.State, &rec.Port, &rec.Reason, &rec.Sent, &errsJSON,
		); err != nil {
			return nil, err
		}
		rec.Cycle = uint64(cycle)
		rec.Epoch = uint64(epoch)
		rec.Time = time.Unix(0, recordedNs)
		rec.Duration = time.Duration(durationNs)
		if err := json.Unmarshal([]byte(errsJSON), &rec.Errors); err != nil {
			return nil, fmt.Errorf("cycle %d: failed to decode errors: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range records {
		if records[i].Fans, err = db.fanSamples(ctx, records[i].ID); err != nil {
			return nil, err
		}
		if records[i].Signals, err = db.signalSamples(ctx, records[i].ID); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (db *DB) fanSamples(ctx context.Context, cycleID int64) ([]FanSample, error) {
	rows, err := db.QueryContext(ctx, `SELECT channel, target, level, rpm, voltage, current
		FROM fan_samples WHERE cycle_id = ? ORDER BY channel`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FanSample
	for rows.Next() {
		var (
			f       FanSample
			rpm     sql.NullInt64
			voltage sql.NullFloat64
			current sql.NullFloat64
		)
		if err := rows.Scan(&f.Channel, &f.Target, &f.Level, &rpm, &voltage, &current); err != nil {
			return nil, err
		}
		f.Polled = rpm.Valid
		f.RPM = int(rpm.Int64)
		f.Voltage = voltage.Float64
		f.Current = current.Float64
		out = append(out, f)
	}
	return out, rows.Err()
}

func (db *DB) signalSamples(ctx context.Context, cycleID int64) ([]SignalSample, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, value FROM signal_samples WHERE cycle_id = ? ORDER BY rowid`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SignalSample
	for rows.Next() {
		var s SignalSample
		if err := rows.Scan(&s.Name, &s.Value); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ChannelHistory returns channel ch recorded at or after since, oldest first.
func (db *DB) ChannelHistory(ctx context.Context, ch int, since time.Time, limit int) ([]ChannelPoint, error) {
	rows, err := db.QueryContext(ctx, `SELECT recorded_unix_ns, target, level, rpm FROM (
			SELECT c.recorded_unix_ns, c.cycle_id, f.target, f.level, f.rpm
			FROM fan_samples f JOIN cycles c ON c.cycle_id = f.cycle_id
			WHERE f.channel = ? AND c.recorded_unix_ns >= ?
			ORDER BY c.recorded_unix_ns DESC, c.cycle_id DESC LIMIT ?
		) ORDER BY recorded_unix_ns, cycle_id`, ch, since.UnixNano(), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChannelPoint
	for rows.Next() {
		var (
			p   ChannelPoint
			ns  int64
			rpm sql.NullInt64
		)
		if err := rows.Scan(&ns, &p.Target, &p.Level, &rpm); err != nil {
			return nil, err
		}
		p.Time = time.Unix(0, ns)
		p.RPM = int(rpm.Int64)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SignalHistory returns the named signal recorded at or after since, oldest
// first.
func (db *DB) SignalHistory(ctx context.Context, name string, since time.Time, limit int) ([]SignalPoint, error) {
	rows, err := db.QueryContext(ctx, `SELECT recorded_unix_ns, value FROM (
			SELECT c.recorded_unix_ns, c.cycle_id, s.value
			FROM signal_samples s JOIN cycles c ON c.cycle_id = s.cycle_id
			WHERE s.name = ? AND c.recorded_unix_ns >= ?
			ORDER BY c.recorded_unix_ns DESC, c.cycle_id DESC LIMIT ?
		) ORDER BY recorded_unix_ns, cycle_id`, name, since.UnixNano(), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SignalPoint
	for rows.Next() {
		var (
			p  SignalPoint
			ns int64
		)
		if err := rows.Scan(&ns, &p.Value); err != nil {
			return nil, err
		}
		p.Time = time.Unix(0, ns)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Prune deletes cycles recorded before cutoff and returns how many were
// removed.
func (db *DB) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ns := cutoff.UnixNano()
	for _, table := range []string{"fan_samples", "signal_samples"} {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE cycle_id IN (SELECT cycle_id FROM cycles WHERE recorded_unix_ns < ?)`, ns,
		); err != nil {
			return 0, fmt.Errorf("failed to prune %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM cycles WHERE recorded_unix_ns < ?`, ns)
	if err != nil {
		return 0, fmt.Errorf("failed to prune cycles: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
