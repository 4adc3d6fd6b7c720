package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"hearingcal/internal/appointment"
	"hearingcal/internal/colors"
	appLog "hearingcal/internal/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS appointments (
	id             TEXT PRIMARY KEY,
	owner_id       TEXT NOT NULL,
	kind           TEXT NOT NULL,
	title          TEXT NOT NULL,
	location       TEXT NOT NULL DEFAULT '',
	start_ns       INTEGER NOT NULL,
	end_ns         INTEGER NOT NULL,
	day            TEXT NOT NULL,
	case_reference TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT '',
	note           TEXT NOT NULL DEFAULT '',
	participants   TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS appointments_owner_day ON appointments(owner_id, day);
CREATE INDEX IF NOT EXISTS appointments_owner_start ON appointments(owner_id, start_ns);

CREATE TABLE IF NOT EXISTS schedule_revisions (
	owner_id TEXT NOT NULL,
	day      TEXT NOT NULL,
	revision INTEGER NOT NULL,
	PRIMARY KEY (owner_id, day)
);

CREATE TABLE IF NOT EXISTS location_colors (
	owner_id TEXT NOT NULL,
	location TEXT NOT NULL,
	rgb      INTEGER NOT NULL,
	PRIMARY KEY (owner_id, location)
);
`

const selectColumns = `id, owner_id, kind, title, location, start_ns, end_ns,
	case_reference, status, note, participants`

// SQLite stores appointments and location colors in one database file. It
// implements Appointments and colors.Store.
type SQLite struct {
	pool *Pool
	loc  *time.Location

	// afterDayRows runs between the two reads of readDay. Tests only.
	afterDayRows func()
}

var (
	_ Appointments = (*SQLite)(nil)
	_ colors.Store = (*SQLite)(nil)
)

// OpenSQLite opens (creating if needed) the database at path. Calendar
// dates are computed in loc.
func OpenSQLite(path string, loc *time.Location) (*SQLite, error) {
	if loc == nil {
		loc = time.Local
	}
	pool, err := OpenPool(PoolConfig{
		Path:   path,
		Logger: appLog.Logger(),
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, err
	}
	return &SQLite{pool: pool, loc: loc}, nil
}

// Close releases the connection pool.
func (s *SQLite) Close() error {
	return s.pool.Close()
}

// Name identifies the store as a calendar source.
func (s *SQLite) Name() string { return "appointments" }

func (s *SQLite) dayKey(t time.Time) string {
	return appointment.DayKey(t.In(s.loc))
}

func (s *SQLite) ListForOwnerOnDate(ctx context.Context, owner string, day time.Time) (rows []appointment.Appointment, rev Revision, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer s.pool.Put(conn)

	// Rows and revision must come from one snapshot. Outside a transaction
	// each SELECT would see whatever was committed when it ran.
	release := sqlitex.Save(conn)
	defer release(&err)

	rows, rev, err = s.readDay(conn, owner, s.dayKey(day))
	if err != nil {
		return nil, 0, fmt.Errorf("store: list %s on %s: %w", owner, s.dayKey(day), err)
	}
	return rows, rev, nil
}

func (s *SQLite) InsertIfNonConflicting(ctx context.Context, a appointment.Appointment, expected Revision, check CheckFunc) (out appointment.Appointment, err error) {
	if a.ID != "" {
		return appointment.Appointment{}, fmt.Errorf("store: insert: appointment already has id %q", a.ID)
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return appointment.Appointment{}, err
	}
	defer s.pool.Put(conn)

	// IMMEDIATE takes the write lock up front so the read below cannot
	// be invalidated by another writer before this transaction commits.
	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return appointment.Appointment{}, fmt.Errorf("store: begin: %w", err)
	}
	defer endFn(&err)

	day := s.dayKey(a.Start)
	existing, current, err := s.readDay(conn, a.OwnerID, day)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if current != expected {
		return appointment.Appointment{}, staleRevision(expected, current)
	}
	if check != nil {
		if res := check(a, existing); !res.Valid {
			return appointment.Appointment{}, &ConflictError{Result: res}
		}
	}

	a = a.WithID(appointment.NewID())
	participants, err := json.Marshal(nonNil(a.Participants))
	if err != nil {
		return appointment.Appointment{}, err
	}

	err = sqlitex.Execute(conn, `INSERT INTO appointments (
		id, owner_id, kind, title, location, start_ns, end_ns, day,
		case_reference, status, note, participants
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			a.ID, a.OwnerID, string(a.Kind), a.Title, a.Location,
			a.Start.UnixNano(), a.End.UnixNano(), day,
			a.CaseReference, a.Status, a.Note, string(participants),
		},
	})
	if err != nil {
		return appointment.Appointment{}, fmt.Errorf("store: insert: %w", err)
	}
	if err = bumpRevision(conn, a.OwnerID, day); err != nil {
		return appointment.Appointment{}, err
	}

	appLog.Debug("appointment stored", "id", a.ID, "owner", a.OwnerID, "day", day, "revision", current+1)
	return s.normalize(a), nil
}

func (s *SQLite) Get(ctx context.Context, owner, id string) (appointment.Appointment, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return appointment.Appointment{}, err
	}
	defer s.pool.Put(conn)

	var out []appointment.Appointment
	err = sqlitex.Execute(conn, `SELECT `+selectColumns+` FROM appointments WHERE owner_id = ? AND id = ?`,
		&sqlitex.ExecOptions{
			Args:       []any{owner, id},
			ResultFunc: s.collect(&out),
		})
	if err != nil {
		return appointment.Appointment{}, fmt.Errorf("store: get %s: %w", id, err)
	}
	if len(out) == 0 {
		return appointment.Appointment{}, ErrNotFound
	}
	return out[0], nil
}

func (s *SQLite) Delete(ctx context.Context, owner, id string) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer endFn(&err)

	var day string
	err = sqlitex.Execute(conn, `SELECT day FROM appointments WHERE owner_id = ? AND id = ?`, &sqlitex.ExecOptions{
		Args: []any{owner, id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			day = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	if day == "" {
		return ErrNotFound
	}
	err = sqlitex.Execute(conn, `DELETE FROM appointments WHERE owner_id = ? AND id = ?`, &sqlitex.ExecOptions{
		Args: []any{owner, id},
	})
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	return bumpRevision(conn, owner, day)
}

func (s *SQLite) Appointments(ctx context.Context, owner string, from, to time.Time) ([]appointment.Appointment, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var out []appointment.Appointment
	err = sqlitex.Execute(conn, `SELECT `+selectColumns+` FROM appointments
		WHERE owner_id = ? AND start_ns < ? AND end_ns > ?
		ORDER BY start_ns, end_ns, id`, &sqlitex.ExecOptions{
		Args:       []any{owner, to.UnixNano(), from.UnixNano()},
		ResultFunc: s.collect(&out),
	})
	if err != nil {
		return nil, fmt.Errorf("store: range %s: %w", owner, err)
	}
	return out, nil
}

// readDay must run inside a transaction or savepoint on conn.
func (s *SQLite) readDay(conn *sqlite.Conn, owner, day string) ([]appointment.Appointment, Revision, error) {
	var rows []appointment.Appointment
	err := sqlitex.Execute(conn, `SELECT `+selectColumns+` FROM appointments
		WHERE owner_id = ? AND day = ? ORDER BY start_ns, end_ns, id`, &sqlitex.ExecOptions{
		Args:       []any{owner, day},
		ResultFunc: s.collect(&rows),
	})
	if err != nil {
		return nil, 0, err
	}
	if s.afterDayRows != nil {
		s.afterDayRows()
	}

	var rev Revision
	err = sqlitex.Execute(conn, `SELECT revision FROM schedule_revisions WHERE owner_id = ? AND day = ?`, &sqlitex.ExecOptions{
		Args: []any{owner, day},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rev = Revision(stmt.ColumnInt64(0))
			return nil
		},
	})
	if err != nil {
		return nil, 0, err
	}
	return rows, rev, nil
}

func bumpRevision(conn *sqlite.Conn, owner, day string) error {
	err := sqlitex.Execute(conn, `INSERT INTO schedule_revisions (owner_id, day, revision) VALUES (?, ?, 1)
		ON CONFLICT (owner_id, day) DO UPDATE SET revision = revision + 1`, &sqlitex.ExecOptions{
		Args: []any{owner, day},
	})
	if err != nil {
		return fmt.Errorf("store: bump revision: %w", err)
	}
	return nil
}

func (s *SQLite) collect(out *[]appointment.Appointment) func(stmt *sqlite.Stmt) error {
	return func(stmt *sqlite.Stmt) error {
		a := appointment.Appointment{
			ID:            stmt.ColumnText(0),
			OwnerID:       stmt.ColumnText(1),
			Kind:          appointment.Kind(stmt.ColumnText(2)),
			Title:         stmt.ColumnText(3),
			Location:      stmt.ColumnText(4),
			Start:         time.Unix(0, stmt.ColumnInt64(5)).In(s.loc),
			End:           time.Unix(0, stmt.ColumnInt64(6)).In(s.loc),
			CaseReference: stmt.ColumnText(7),
			Status:        stmt.ColumnText(8),
			Note:          stmt.ColumnText(9),
		}
		if raw := stmt.ColumnText(10); raw != "" && raw != "[]" {
			if err := json.Unmarshal([]byte(raw), &a.Participants); err != nil {
				return fmt.Errorf("participants of %s: %w", a.ID, err)
			}
		}
		*out = append(*out, a)
		return nil
	}
}

func (s *SQLite) normalize(a appointment.Appointment) appointment.Appointment {
	a.Start = a.Start.In(s.loc)
	a.End = a.End.In(s.loc)
	return a
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

// GetColor implements colors.Store.
func (s *SQLite) GetColor(ctx context.Context, owner, location string) (colors.Color, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, false, err
	}
	defer s.pool.Put(conn)

	var (
		c     colors.Color
		found bool
	)
	err = sqlitex.Execute(conn, `SELECT rgb FROM location_colors WHERE owner_id = ? AND location = ?`, &sqlitex.ExecOptions{
		Args: []any{owner, location},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			c = colors.Color(stmt.ColumnInt64(0))
			found = true
			return nil
		},
	})
	if err != nil {
		return 0, false, err
	}
	return c, found, nil
}

// PutColor implements colors.Store.
func (s *SQLite) PutColor(ctx context.Context, owner, location string, c colors.Color) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `INSERT INTO location_colors (owner_id, location, rgb) VALUES (?, ?, ?)
		ON CONFLICT (owner_id, location) DO UPDATE SET rgb = excluded.rgb`, &sqlitex.ExecOptions{
		Args: []any{owner, location, int64(c)},
	})
}

// DeleteColor implements colors.Store.
func (s *SQLite) DeleteColor(ctx context.Context, owner, location string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `DELETE FROM location_colors WHERE owner_id = ? AND location = ?`, &sqlitex.ExecOptions{
		Args: []any{owner, location},
	})
}

// ListColors implements colors.Store.
func (s *SQLite) ListColors(ctx context.Context, owner string) (map[string]colors.Color, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	out := make(map[string]colors.Color)
	err = sqlitex.Execute(conn, `SELECT location, rgb FROM location_colors WHERE owner_id = ?`, &sqlitex.ExecOptions{
		Args: []any{owner},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			out[stmt.ColumnText(0)] = colors.Color(stmt.ColumnInt64(1))
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
