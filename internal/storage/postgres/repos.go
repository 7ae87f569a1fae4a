package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lapforge/ingest/internal/timing"
)

// EventStore persists events, unique on provider_event_id.
type EventStore struct {
	*Store
}

// Events returns the event repository view of the store.
func (s *Store) Events() *EventStore { return &EventStore{Store: s} }

// UpsertBySource inserts or updates an event. It assumes a table schema
// like:
// CREATE TABLE events (
//
//	id UUID PRIMARY KEY,
//	provider_event_id TEXT NOT NULL UNIQUE,
//	name TEXT NOT NULL,
//	source_url TEXT NOT NULL,
//	created_at TIMESTAMPTZ NOT NULL,
//	updated_at TIMESTAMPTZ NOT NULL
//
// );
func (s *EventStore) UpsertBySource(ctx context.Context, event timing.Event) (timing.Event, error) {
	if event.ProviderEventID == "" {
		return timing.Event{}, fmt.Errorf("provider event id is required")
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return timing.Event{}, fmt.Errorf("generate event id: %w", err)
	}
	now := s.clock.Now()
	query := `
		INSERT INTO events (id, provider_event_id, name, source_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (provider_event_id) DO UPDATE
		SET name = EXCLUDED.name,
			source_url = EXCLUDED.source_url,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at;
	`
	err = s.db.QueryRow(ctx, query, id, event.ProviderEventID, event.Name, event.SourceURL, now).
		Scan(&event.ID, &event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		return timing.Event{}, fmt.Errorf("upsert event: %w", err)
	}
	return event, nil
}

// FindBySource looks up an event by provider event id.
func (s *EventStore) FindBySource(ctx context.Context, providerEventID string) (timing.Event, error) {
	query := `
		SELECT id, provider_event_id, name, source_url, created_at, updated_at
		FROM events
		WHERE provider_event_id = $1;
	`
	var event timing.Event
	err := s.db.QueryRow(ctx, query, providerEventID).Scan(
		&event.ID,
		&event.ProviderEventID,
		&event.Name,
		&event.SourceURL,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return timing.Event{}, timing.ErrNotFound
		}
		return timing.Event{}, fmt.Errorf("find event: %w", err)
	}
	return event, nil
}

// ClassStore persists race classes, unique on (event_id, class_code).
type ClassStore struct {
	*Store
}

// Classes returns the class repository view of the store.
func (s *Store) Classes() *ClassStore { return &ClassStore{Store: s} }

// UpsertBySource inserts or updates a class.
func (c *ClassStore) UpsertBySource(ctx context.Context, class timing.RaceClass) (timing.RaceClass, error) {
	if class.EventID == "" || class.ClassCode == "" {
		return timing.RaceClass{}, fmt.Errorf("event id and class code are required")
	}
	id, err := c.idGen.NewID()
	if err != nil {
		return timing.RaceClass{}, fmt.Errorf("generate class id: %w", err)
	}
	query := `
		INSERT INTO race_classes (id, event_id, class_code, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id, class_code) DO UPDATE
		SET name = EXCLUDED.name
		RETURNING id;
	`
	err = c.db.QueryRow(ctx, query, id, class.EventID, class.ClassCode, class.Name).Scan(&class.ID)
	if err != nil {
		return timing.RaceClass{}, fmt.Errorf("upsert class: %w", err)
	}
	return class, nil
}

// SessionStore persists sessions, unique on provider_session_id.
type SessionStore struct {
	*Store
}

// Sessions returns the session repository view of the store.
func (s *Store) Sessions() *SessionStore { return &SessionStore{Store: s} }

// UpsertBySource inserts or updates a session.
func (st *SessionStore) UpsertBySource(ctx context.Context, session timing.Session) (timing.Session, error) {
	if session.ProviderSessionID == "" {
		return timing.Session{}, fmt.Errorf("provider session id is required")
	}
	id, err := st.idGen.NewID()
	if err != nil {
		return timing.Session{}, fmt.Errorf("generate session id: %w", err)
	}
	query := `
		INSERT INTO sessions (id, event_id, race_class_id, provider_session_id, name, scheduled_start, source_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider_session_id) DO UPDATE
		SET name = EXCLUDED.name,
			scheduled_start = EXCLUDED.scheduled_start,
			source_url = EXCLUDED.source_url
		RETURNING id;
	`
	err = st.db.QueryRow(
		ctx,
		query,
		id,
		session.EventID,
		session.RaceClassID,
		session.ProviderSessionID,
		session.Name,
		session.ScheduledStart,
		session.SourceURL,
	).Scan(&session.ID)
	if err != nil {
		return timing.Session{}, fmt.Errorf("upsert session: %w", err)
	}
	return session, nil
}

// CountByEvent returns how many sessions belong to an event.
func (st *SessionStore) CountByEvent(ctx context.Context, eventID string) (int, error) {
	var count int
	err := st.db.QueryRow(ctx, `SELECT COUNT(*) FROM sessions WHERE event_id = $1;`, eventID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

// DriverStore persists driver identities with two natural keys: a unique
// index on (provider, provider_driver_id) and a partial unique index on
// (provider, normalized_name) WHERE provider_driver_id = ''.
type DriverStore struct {
	*Store
}

// Drivers returns the driver repository view of the store.
func (s *Store) Drivers() *DriverStore { return &DriverStore{Store: s} }

// UpsertBySource inserts or updates a driver keyed by provider id.
func (d *DriverStore) UpsertBySource(ctx context.Context, driver timing.Driver) (timing.Driver, error) {
	if driver.Provider == "" || driver.ProviderDriverID == "" {
		return timing.Driver{}, fmt.Errorf("provider and provider driver id are required")
	}
	id, err := d.idGen.NewID()
	if err != nil {
		return timing.Driver{}, fmt.Errorf("generate driver id: %w", err)
	}
	query := `
		INSERT INTO drivers (id, provider, provider_driver_id, display_name, normalized_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, provider_driver_id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
			normalized_name = EXCLUDED.normalized_name
		RETURNING id;
	`
	err = d.db.QueryRow(ctx, query, id, driver.Provider, driver.ProviderDriverID, driver.DisplayName, driver.NormalizedName).
		Scan(&driver.ID)
	if err != nil {
		return timing.Driver{}, fmt.Errorf("upsert driver: %w", err)
	}
	return driver, nil
}

// UpsertByDisplayName inserts or updates a driver keyed by normalized
// display name. Only reached when the payload carries no provider ids.
func (d *DriverStore) UpsertByDisplayName(ctx context.Context, driver timing.Driver) (timing.Driver, error) {
	if driver.NormalizedName == "" {
		return timing.Driver{}, fmt.Errorf("normalized name is required")
	}
	id, err := d.idGen.NewID()
	if err != nil {
		return timing.Driver{}, fmt.Errorf("generate driver id: %w", err)
	}
	query := `
		INSERT INTO drivers (id, provider, provider_driver_id, display_name, normalized_name)
		VALUES ($1, $2, '', $3, $4)
		ON CONFLICT (provider, normalized_name) WHERE provider_driver_id = '' DO UPDATE
		SET display_name = EXCLUDED.display_name
		RETURNING id;
	`
	err = d.db.QueryRow(ctx, query, id, driver.Provider, driver.DisplayName, driver.NormalizedName).
		Scan(&driver.ID)
	if err != nil {
		return timing.Driver{}, fmt.Errorf("upsert driver by name: %w", err)
	}
	return driver, nil
}

// EntrantStore persists entrants, unique on
// (event_id, race_class_id, session_id, provider_entrant_id).
type EntrantStore struct {
	*Store
}

// Entrants returns the entrant repository view of the store.
func (s *Store) Entrants() *EntrantStore { return &EntrantStore{Store: s} }

// UpsertBySource inserts or updates an entrant.
func (e *EntrantStore) UpsertBySource(ctx context.Context, entrant timing.Entrant) (timing.Entrant, error) {
	if entrant.ProviderEntrantID == "" {
		return timing.Entrant{}, fmt.Errorf("provider entrant id is required")
	}
	id, err := e.idGen.NewID()
	if err != nil {
		return timing.Entrant{}, fmt.Errorf("generate entrant id: %w", err)
	}
	query := `
		INSERT INTO entrants (id, event_id, race_class_id, session_id, driver_id, provider_entrant_id, car_number, transponder)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id, race_class_id, session_id, provider_entrant_id) DO UPDATE
		SET driver_id = EXCLUDED.driver_id,
			car_number = EXCLUDED.car_number,
			transponder = EXCLUDED.transponder
		RETURNING id;
	`
	err = e.db.QueryRow(
		ctx,
		query,
		id,
		entrant.EventID,
		entrant.RaceClassID,
		entrant.SessionID,
		entrant.DriverID,
		entrant.ProviderEntrantID,
		entrant.CarNumber,
		entrant.Transponder,
	).Scan(&entrant.ID)
	if err != nil {
		return timing.Entrant{}, fmt.Errorf("upsert entrant: %w", err)
	}
	return entrant, nil
}

// LapStore persists laps. Replacement runs in one transaction so readers
// never observe a partially swapped lap set.
type LapStore struct {
	*Store
}

// Laps returns the lap repository view of the store.
func (s *Store) Laps() *LapStore { return &LapStore{Store: s} }

// ReplaceForEntrantSession deletes and reinserts the lap set for one
// entrant+session.
func (l *LapStore) ReplaceForEntrantSession(ctx context.Context, entrantID, sessionID string, laps []timing.Lap) error {
	if entrantID == "" || sessionID == "" {
		return fmt.Errorf("entrant id and session id are required")
	}
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin lap replacement: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `DELETE FROM laps WHERE entrant_id = $1 AND session_id = $2;`, entrantID, sessionID)
	if err != nil {
		return fmt.Errorf("delete laps: %w", err)
	}
	insert := `
		INSERT INTO laps (entrant_id, session_id, number, time_seconds, penalty_seconds)
		VALUES ($1, $2, $3, $4, $5);
	`
	for _, lap := range laps {
		_, err = tx.Exec(ctx, insert, entrantID, sessionID, lap.Number, lap.TimeSeconds, lap.PenaltySeconds)
		if err != nil {
			return fmt.Errorf("insert lap %d: %w", lap.Number, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit lap replacement: %w", err)
	}
	return nil
}

// ResultStore persists per-driver session aggregates, keyed by
// (session_id, driver_id).
type ResultStore struct {
	*Store
}

// Results returns the result-row repository view of the store.
func (s *Store) Results() *ResultStore { return &ResultStore{Store: s} }

// UpsertBySource inserts or updates a result row.
func (r *ResultStore) UpsertBySource(ctx context.Context, row timing.ResultRow) (timing.ResultRow, error) {
	if row.SessionID == "" || row.DriverID == "" {
		return timing.ResultRow{}, fmt.Errorf("session id and driver id are required")
	}
	query := `
		INSERT INTO result_rows (session_id, driver_id, position, laps_completed, total_time_seconds, best_lap_seconds, average_lap_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, driver_id) DO UPDATE
		SET position = EXCLUDED.position,
			laps_completed = EXCLUDED.laps_completed,
			total_time_seconds = EXCLUDED.total_time_seconds,
			best_lap_seconds = EXCLUDED.best_lap_seconds,
			average_lap_seconds = EXCLUDED.average_lap_seconds;
	`
	_, err := r.db.Exec(
		ctx,
		query,
		row.SessionID,
		row.DriverID,
		row.Position,
		row.LapsCompleted,
		row.TotalTimeSeconds,
		row.BestLapSeconds,
		row.AverageLapSeconds,
	)
	if err != nil {
		return timing.ResultRow{}, fmt.Errorf("upsert result row: %w", err)
	}
	return row, nil
}

// ClubStore resolves club ids to provider origins.
type ClubStore struct {
	*Store
}

// Clubs returns the club repository view of the store.
func (s *Store) Clubs() *ClubStore { return &ClubStore{Store: s} }

// FindByID fetches one club.
func (c *ClubStore) FindByID(ctx context.Context, clubID string) (timing.Club, error) {
	var club timing.Club
	err := c.db.QueryRow(ctx, `SELECT id, name, base_url FROM clubs WHERE id = $1;`, clubID).
		Scan(&club.ID, &club.Name, &club.BaseURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return timing.Club{}, timing.ErrNotFound
		}
		return timing.Club{}, fmt.Errorf("find club: %w", err)
	}
	return club, nil
}
