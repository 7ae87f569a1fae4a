// Package memory provides in-memory port implementations for development
// and testing.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/lapforge/ingest/internal/timing"
)

// Repos bundles in-memory implementations of every entity repository.
// All upserts are keyed by natural source identifiers, mirroring the
// postgres ON CONFLICT semantics.
type Repos struct {
	Events   *EventRepo
	Classes  *RaceClassRepo
	Sessions *SessionRepo
	Drivers  *DriverRepo
	Entrants *EntrantRepo
	Laps     *LapRepo
	Results  *ResultRowRepo
	Clubs    *ClubRepo
}

// NewRepos constructs the full bundle.
func NewRepos(idGen timing.IDGenerator, clock timing.Clock) *Repos {
	return &Repos{
		Events:   NewEventRepo(idGen, clock),
		Classes:  NewRaceClassRepo(idGen),
		Sessions: NewSessionRepo(idGen),
		Drivers:  NewDriverRepo(idGen),
		Entrants: NewEntrantRepo(idGen),
		Laps:     NewLapRepo(),
		Results:  NewResultRowRepo(),
		Clubs:    NewClubRepo(),
	}
}

// EventRepo stores events keyed by provider event id.
type EventRepo struct {
	mu       sync.RWMutex
	bySource map[string]timing.Event
	idGen    timing.IDGenerator
	clock    timing.Clock
}

// NewEventRepo constructs an EventRepo.
func NewEventRepo(idGen timing.IDGenerator, clock timing.Clock) *EventRepo {
	return &EventRepo{bySource: make(map[string]timing.Event), idGen: idGen, clock: clock}
}

// UpsertBySource inserts or updates an event. Updates touch name,
// source URL and UpdatedAt only.
func (r *EventRepo) UpsertBySource(_ context.Context, event timing.Event) (timing.Event, error) {
	if event.ProviderEventID == "" {
		return timing.Event{}, fmt.Errorf("provider event id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	existing, ok := r.bySource[event.ProviderEventID]
	if ok {
		existing.Name = event.Name
		existing.SourceURL = event.SourceURL
		existing.UpdatedAt = now
		r.bySource[event.ProviderEventID] = existing
		return existing, nil
	}

	id, err := r.idGen.NewID()
	if err != nil {
		return timing.Event{}, fmt.Errorf("generate event id: %w", err)
	}
	event.ID = id
	event.CreatedAt = now
	event.UpdatedAt = now
	r.bySource[event.ProviderEventID] = event
	return event, nil
}

// FindBySource looks up an event by provider event id.
func (r *EventRepo) FindBySource(_ context.Context, providerEventID string) (timing.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	event, ok := r.bySource[providerEventID]
	if !ok {
		return timing.Event{}, timing.ErrNotFound
	}
	return event, nil
}

// Size returns the stored event count.
func (r *EventRepo) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySource)
}

// RaceClassRepo stores classes keyed by (event id, class code).
type RaceClassRepo struct {
	mu       sync.RWMutex
	bySource map[string]timing.RaceClass
	idGen    timing.IDGenerator
}

// NewRaceClassRepo constructs a RaceClassRepo.
func NewRaceClassRepo(idGen timing.IDGenerator) *RaceClassRepo {
	return &RaceClassRepo{bySource: make(map[string]timing.RaceClass), idGen: idGen}
}

// UpsertBySource inserts or updates a class.
func (r *RaceClassRepo) UpsertBySource(_ context.Context, class timing.RaceClass) (timing.RaceClass, error) {
	if class.EventID == "" || class.ClassCode == "" {
		return timing.RaceClass{}, fmt.Errorf("event id and class code are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := class.EventID + "/" + class.ClassCode
	existing, ok := r.bySource[key]
	if ok {
		existing.Name = class.Name
		r.bySource[key] = existing
		return existing, nil
	}

	id, err := r.idGen.NewID()
	if err != nil {
		return timing.RaceClass{}, fmt.Errorf("generate class id: %w", err)
	}
	class.ID = id
	r.bySource[key] = class
	return class, nil
}

// Size returns the stored class count.
func (r *RaceClassRepo) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySource)
}

// SessionRepo stores sessions keyed by provider session id.
type SessionRepo struct {
	mu       sync.RWMutex
	bySource map[string]timing.Session
	idGen    timing.IDGenerator
}

// NewSessionRepo constructs a SessionRepo.
func NewSessionRepo(idGen timing.IDGenerator) *SessionRepo {
	return &SessionRepo{bySource: make(map[string]timing.Session), idGen: idGen}
}

// UpsertBySource inserts or updates a session.
func (r *SessionRepo) UpsertBySource(_ context.Context, session timing.Session) (timing.Session, error) {
	if session.ProviderSessionID == "" {
		return timing.Session{}, fmt.Errorf("provider session id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.bySource[session.ProviderSessionID]
	if ok {
		existing.Name = session.Name
		existing.ScheduledStart = session.ScheduledStart
		existing.SourceURL = session.SourceURL
		r.bySource[session.ProviderSessionID] = existing
		return existing, nil
	}

	id, err := r.idGen.NewID()
	if err != nil {
		return timing.Session{}, fmt.Errorf("generate session id: %w", err)
	}
	session.ID = id
	r.bySource[session.ProviderSessionID] = session
	return session, nil
}

// CountByEvent returns how many sessions belong to an event.
func (r *SessionRepo) CountByEvent(_ context.Context, eventID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, s := range r.bySource {
		if s.EventID == eventID {
			count++
		}
	}
	return count, nil
}

// Size returns the stored session count.
func (r *SessionRepo) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySource)
}

// DriverRepo stores drivers with two indexes: provider driver id and
// normalized display name.
type DriverRepo struct {
	mu       sync.RWMutex
	bySource map[string]timing.Driver
	byName   map[string]timing.Driver
	idGen    timing.IDGenerator
}

// NewDriverRepo constructs a DriverRepo.
func NewDriverRepo(idGen timing.IDGenerator) *DriverRepo {
	return &DriverRepo{
		bySource: make(map[string]timing.Driver),
		byName:   make(map[string]timing.Driver),
		idGen:    idGen,
	}
}

// UpsertBySource inserts or updates a driver keyed by
// (provider, provider driver id).
func (r *DriverRepo) UpsertBySource(_ context.Context, driver timing.Driver) (timing.Driver, error) {
	if driver.Provider == "" || driver.ProviderDriverID == "" {
		return timing.Driver{}, fmt.Errorf("provider and provider driver id are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := driver.Provider + "/" + driver.ProviderDriverID
	existing, ok := r.bySource[key]
	if ok {
		existing.DisplayName = driver.DisplayName
		existing.NormalizedName = driver.NormalizedName
		r.bySource[key] = existing
		return existing, nil
	}

	id, err := r.idGen.NewID()
	if err != nil {
		return timing.Driver{}, fmt.Errorf("generate driver id: %w", err)
	}
	driver.ID = id
	r.bySource[key] = driver
	return driver, nil
}

// UpsertByDisplayName inserts or updates a driver keyed by normalized
// display name. Only used when the payload carries no provider ids.
func (r *DriverRepo) UpsertByDisplayName(_ context.Context, driver timing.Driver) (timing.Driver, error) {
	if driver.NormalizedName == "" {
		return timing.Driver{}, fmt.Errorf("normalized name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := driver.Provider + "/" + driver.NormalizedName
	existing, ok := r.byName[key]
	if ok {
		existing.DisplayName = driver.DisplayName
		r.byName[key] = existing
		return existing, nil
	}

	id, err := r.idGen.NewID()
	if err != nil {
		return timing.Driver{}, fmt.Errorf("generate driver id: %w", err)
	}
	driver.ID = id
	r.byName[key] = driver
	return driver, nil
}

// Size returns the stored driver count across both indexes.
func (r *DriverRepo) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySource) + len(r.byName)
}

// EntrantRepo stores entrants keyed by
// (event, class, session, provider entrant id).
type EntrantRepo struct {
	mu       sync.RWMutex
	bySource map[string]timing.Entrant
	idGen    timing.IDGenerator
}

// NewEntrantRepo constructs an EntrantRepo.
func NewEntrantRepo(idGen timing.IDGenerator) *EntrantRepo {
	return &EntrantRepo{bySource: make(map[string]timing.Entrant), idGen: idGen}
}

// UpsertBySource inserts or updates an entrant.
func (r *EntrantRepo) UpsertBySource(_ context.Context, entrant timing.Entrant) (timing.Entrant, error) {
	if entrant.ProviderEntrantID == "" {
		return timing.Entrant{}, fmt.Errorf("provider entrant id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := entrant.EventID + "/" + entrant.RaceClassID + "/" + entrant.SessionID + "/" + entrant.ProviderEntrantID
	existing, ok := r.bySource[key]
	if ok {
		existing.DriverID = entrant.DriverID
		existing.CarNumber = entrant.CarNumber
		existing.Transponder = entrant.Transponder
		r.bySource[key] = existing
		return existing, nil
	}

	id, err := r.idGen.NewID()
	if err != nil {
		return timing.Entrant{}, fmt.Errorf("generate entrant id: %w", err)
	}
	entrant.ID = id
	r.bySource[key] = entrant
	return entrant, nil
}

// Size returns the stored entrant count.
func (r *EntrantRepo) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySource)
}

// LapRepo stores lap sets keyed by (entrant id, session id).
type LapRepo struct {
	mu   sync.RWMutex
	laps map[string][]timing.Lap
}

// NewLapRepo constructs a LapRepo.
func NewLapRepo() *LapRepo {
	return &LapRepo{laps: make(map[string][]timing.Lap)}
}

// ReplaceForEntrantSession swaps the whole lap set for one
// entrant+session.
func (r *LapRepo) ReplaceForEntrantSession(_ context.Context, entrantID, sessionID string, laps []timing.Lap) error {
	if entrantID == "" || sessionID == "" {
		return fmt.Errorf("entrant id and session id are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.laps[entrantID+"/"+sessionID] = append([]timing.Lap(nil), laps...)
	return nil
}

// Size returns the total stored lap count.
func (r *LapRepo) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, set := range r.laps {
		total += len(set)
	}
	return total
}

// ForEntrantSession returns a copy of one lap set.
func (r *LapRepo) ForEntrantSession(entrantID, sessionID string) []timing.Lap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]timing.Lap(nil), r.laps[entrantID+"/"+sessionID]...)
}

// ClubRepo stores clubs keyed by id.
type ClubRepo struct {
	mu   sync.RWMutex
	byID map[string]timing.Club
}

// NewClubRepo constructs a ClubRepo.
func NewClubRepo() *ClubRepo {
	return &ClubRepo{byID: make(map[string]timing.Club)}
}

// Put stores or replaces a club.
func (r *ClubRepo) Put(club timing.Club) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[club.ID] = club
}

// FindByID fetches one club.
func (r *ClubRepo) FindByID(_ context.Context, clubID string) (timing.Club, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	club, ok := r.byID[clubID]
	if !ok {
		return timing.Club{}, timing.ErrNotFound
	}
	return club, nil
}

// ResultRowRepo stores result rows keyed by (session id, driver id).
type ResultRowRepo struct {
	mu       sync.RWMutex
	bySource map[string]timing.ResultRow
}

// NewResultRowRepo constructs a ResultRowRepo.
func NewResultRowRepo() *ResultRowRepo {
	return &ResultRowRepo{bySource: make(map[string]timing.ResultRow)}
}

// UpsertBySource inserts or updates a result row.
func (r *ResultRowRepo) UpsertBySource(_ context.Context, row timing.ResultRow) (timing.ResultRow, error) {
	if row.SessionID == "" || row.DriverID == "" {
		return timing.ResultRow{}, fmt.Errorf("session id and driver id are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySource[row.SessionID+"/"+row.DriverID] = row
	return row, nil
}

// Size returns the stored result row count.
func (r *ResultRowRepo) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySource)
}
