package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	cal "shiftcal/internal/calendar"
	"shiftcal/internal/models"
	"shiftcal/internal/store"
)

// Settings shape every event the syncer creates.
type Settings struct {
	Title    string
	ColorID  int
	TimeZone string
}

// Item is a snapshot of one tracked shift.
type Item struct {
	Handle   Handle
	Shift    models.Shift
	Editable bool
	State    State
	EventID  string
}

// Failure records one shift that could not be added during a bulk run.
type Failure struct {
	Shift models.Shift
	Err   error
}

// BulkResult is the tally of a bulk add.
type BulkResult struct {
	Succeeded int
	Total     int
	Failures  []Failure
}

// AllSucceeded reports whether every attempted shift was added.
func (r BulkResult) AllSucceeded() bool {
	return r.Succeeded == r.Total
}

// ProgressFunc is called before the i-th of n shifts is attempted (i starts at 1).
type ProgressFunc func(i, n int, shift models.Shift)

// Syncer drives tracked shifts through add and delete against the remote
// calendar and keeps the sync state in step.
type Syncer struct {
	logger   *slog.Logger
	gateway  cal.Gateway
	store    store.Store
	settings Settings
	dryRun   bool

	mu  sync.Mutex // guards reg
	reg *registry

	// storeMu serializes read-modify-write cycles on the store.
	storeMu sync.Mutex
	// bulkMu keeps bulk runs strictly one at a time.
	bulkMu sync.Mutex
}

// NewSyncer creates a new Syncer.
func NewSyncer(logger *slog.Logger, gateway cal.Gateway, st store.Store, settings Settings, dryRun bool) *Syncer {
	return &Syncer{
		logger:   logger,
		gateway:  gateway,
		store:    st,
		settings: settings,
		dryRun:   dryRun,
		reg:      newRegistry(),
	}
}

// Track starts tracking a shift and derives its initial state from the sync
// state. Tracking a complete shift whose key is already tracked returns the
// existing handle. Incomplete shifts always get a handle of their own.
func (s *Syncer) Track(ctx context.Context, shift models.Shift, editable bool) (Handle, error) {
	s.mu.Lock()
	if h, ok := s.reg.owner(shift); ok {
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	eventID, stored, err := s.lookup(ctx, shift)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.reg.owner(shift); ok {
		return h, nil
	}
	state, _ := Next(StateDisabled, EventEvaluate, shift.Complete(), stored)
	h := s.reg.insert(&affordance{shift: shift, editable: editable, state: state, eventID: eventID})
	s.logger.Debug("Tracking shift", "key", shift.Key(), "state", state)
	return h, nil
}

// Update replaces the shift of an editable row after its times changed and
// re-derives its state. It fails with ErrBusy while an operation is in
// flight and with ErrDuplicateShift when another handle already tracks the
// new key; the row is left unchanged in both cases.
func (s *Syncer) Update(ctx context.Context, h Handle, shift models.Shift) (State, error) {
	s.mu.Lock()
	a, ok := s.reg.get(h)
	if !ok {
		s.mu.Unlock()
		return StateDisabled, ErrUnknownHandle
	}
	if err := s.checkUpdate(h, a, shift); err != nil {
		state := a.state
		s.mu.Unlock()
		return state, err
	}
	s.mu.Unlock()

	eventID, stored, err := s.lookup(ctx, shift)
	if err != nil {
		return StateDisabled, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUpdate(h, a, shift); err != nil {
		return a.state, err
	}
	next, err := Next(a.state, EventEvaluate, shift.Complete(), stored)
	if err != nil {
		return a.state, err
	}
	s.reg.rekey(h, shift)
	a.eventID = eventID
	s.reg.setState(h, next)
	return next, nil
}

// checkUpdate must be called with s.mu held.
func (s *Syncer) checkUpdate(h Handle, a *affordance, shift models.Shift) error {
	if a.state.Busy() {
		return ErrBusy
	}
	if owner, ok := s.reg.owner(shift); ok && owner != h {
		return fmt.Errorf("%w: %s", ErrDuplicateShift, shift.Key())
	}
	return nil
}

// Add creates the remote event for a ready shift and records it in the sync
// state. If the store already maps the key, no event is created and the
// existing id is returned.
func (s *Syncer) Add(ctx context.Context, h Handle) (string, error) {
	shift, err := s.begin(h, StateReady)
	if err != nil {
		return "", err
	}
	key := shift.Key()

	if existing, ok, err := s.lookup(ctx, shift); err != nil {
		s.settle(h, EventFail, "")
		return "", err
	} else if ok {
		s.logger.Info("Shift already synced, skipping create", "key", key, "eventID", existing)
		s.settle(h, EventSucceed, existing)
		return existing, nil
	}

	if s.dryRun {
		s.logger.Info("[DRY RUN] Would create calendar event", "key", key, "title", s.settings.Title)
		s.settle(h, EventFail, "")
		return "", nil
	}

	eventID, err := s.create(ctx, shift)
	if err != nil {
		s.settle(h, EventFail, "")
		s.logger.Error("Failed to add shift", "key", key, "error", err)
		return "", fmt.Errorf("failed to add shift %s: %w", key, err)
	}

	s.storeMu.Lock()
	storeErr := s.store.Set(ctx, key, eventID)
	s.storeMu.Unlock()

	// The remote event exists either way; keep its id so it can be deleted.
	s.settle(h, EventSucceed, eventID)
	if storeErr != nil {
		s.logger.Error("Created event but failed to record it", "key", key, "eventID", eventID, "error", storeErr)
		return eventID, fmt.Errorf("created event %s but failed to record shift %s: %w", eventID, key, storeErr)
	}

	s.logger.Info("Added shift to calendar", "key", key, "eventID", eventID)
	return eventID, nil
}

// Delete removes the remote event of a synced shift and forgets its mapping.
// A remote event that is already gone counts as deleted.
func (s *Syncer) Delete(ctx context.Context, h Handle) error {
	shift, err := s.begin(h, StateSynced)
	if err != nil {
		return err
	}
	key := shift.Key()

	s.mu.Lock()
	eventID := s.reg.items[h].eventID
	s.mu.Unlock()
	if eventID == "" {
		s.settle(h, EventFail, "")
		return fmt.Errorf("shift %s has no remote event id", key)
	}

	if s.dryRun {
		s.logger.Info("[DRY RUN] Would delete calendar event", "key", key, "eventID", eventID)
		s.settle(h, EventFail, eventID)
		return nil
	}

	if err := s.gateway.DeleteEvent(ctx, eventID); err != nil {
		s.settle(h, EventFail, eventID)
		s.logger.Error("Failed to delete shift", "key", key, "eventID", eventID, "error", err)
		return fmt.Errorf("failed to delete shift %s: %w", key, err)
	}

	s.storeMu.Lock()
	err = s.store.Remove(ctx, key)
	s.storeMu.Unlock()
	if err != nil {
		// Mapping retained; a retry will find the event gone and finish.
		s.settle(h, EventFail, eventID)
		return fmt.Errorf("deleted event %s but failed to forget shift %s: %w", eventID, key, err)
	}

	s.settle(h, EventSucceed, "")
	s.logger.Info("Deleted shift from calendar", "key", key, "eventID", eventID)
	return nil
}

// BulkAdd adds every ready shift one at a time, in tracking order. Failures
// are collected and do not stop the run.
func (s *Syncer) BulkAdd(ctx context.Context, progress ProgressFunc) BulkResult {
	s.bulkMu.Lock()
	defer s.bulkMu.Unlock()

	s.mu.Lock()
	handles := s.reg.readyHandles()
	shifts := make([]models.Shift, len(handles))
	for i, h := range handles {
		shifts[i] = s.reg.items[h].shift
	}
	s.mu.Unlock()

	result := BulkResult{Total: len(handles)}
	s.logger.Info("Starting bulk add", "total", result.Total)

	for i, h := range handles {
		if progress != nil {
			progress(i+1, result.Total, shifts[i])
		}
		if _, err := s.Add(ctx, h); err != nil {
			result.Failures = append(result.Failures, Failure{Shift: shifts[i], Err: err})
			continue
		}
		result.Succeeded++
	}

	s.logger.Info("Bulk add finished", "succeeded", result.Succeeded, "total", result.Total)
	return result
}

// MigrateLegacyKeys moves mappings stored under date-only keys to the full
// shift key. A date is only migrated when exactly one complete shift is
// tracked on it and that shift is still ready.
func (s *Syncer) MigrateLegacyKeys(ctx context.Context) (int, error) {
	s.mu.Lock()
	perDate := make(map[string][]Handle)
	shifts := make(map[Handle]models.Shift)
	for i, a := range s.reg.items {
		if !a.shift.Complete() {
			continue
		}
		perDate[a.shift.Date] = append(perDate[a.shift.Date], Handle(i))
		if a.state == StateReady {
			shifts[Handle(i)] = a.shift
		}
	}
	s.mu.Unlock()

	dates := make([]string, 0, len(perDate))
	for date := range perDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	migrated := 0
	for _, date := range dates {
		handles := perDate[date]
		if len(handles) != 1 {
			continue
		}
		h := handles[0]
		shift, ready := shifts[h]
		if !ready {
			continue
		}
		key := shift.Key()

		s.storeMu.Lock()
		eventID, ok, err := s.store.Get(ctx, date)
		if err == nil && ok {
			if err = s.store.Set(ctx, key, eventID); err == nil {
				err = s.store.Remove(ctx, date)
			}
		}
		s.storeMu.Unlock()
		if err != nil {
			return migrated, fmt.Errorf("failed to migrate legacy key %s: %w", date, err)
		}
		if !ok {
			continue
		}

		s.mu.Lock()
		if a := s.reg.items[h]; a.state == StateReady && a.shift.Key() == key {
			a.eventID = eventID
			s.reg.setState(h, StateSynced)
		}
		s.mu.Unlock()
		s.logger.Info("Migrated legacy shift key", "from", date, "to", key, "eventID", eventID)
		migrated++
	}
	return migrated, nil
}

// State returns the current state of h.
func (s *Syncer) State(h Handle) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.reg.get(h)
	if !ok {
		return StateDisabled, ErrUnknownHandle
	}
	return a.state, nil
}

// Ready returns the handles currently in StateReady, in tracking order.
func (s *Syncer) Ready() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.readyHandles()
}

// Items returns a snapshot of every tracked shift in tracking order.
func (s *Syncer) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Item, len(s.reg.items))
	for i, a := range s.reg.items {
		items[i] = Item{
			Handle:   Handle(i),
			Shift:    a.shift,
			Editable: a.editable,
			State:    a.state,
			EventID:  a.eventID,
		}
	}
	return items
}

// begin moves h from want into its busy state. Only one caller can win this
// transition, so at most one operation per shift is ever in flight.
func (s *Syncer) begin(h Handle, want State) (models.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.reg.get(h)
	if !ok {
		return models.Shift{}, ErrUnknownHandle
	}
	if a.state != want {
		return models.Shift{}, fmt.Errorf("%w: %s is %s", ErrNotActionable, a.shift.Key(), a.state)
	}
	next, err := Next(a.state, EventTrigger, a.shift.Complete(), a.eventID != "")
	if err != nil {
		return models.Shift{}, err
	}
	s.reg.setState(h, next)
	return a.shift, nil
}

// settle applies the outcome of the in-flight operation on h.
func (s *Syncer) settle(h Handle, ev Event, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.reg.items[h]
	next, err := Next(a.state, ev, a.shift.Complete(), eventID != "")
	if err != nil {
		s.logger.Error("Invalid settlement", "key", a.shift.Key(), "state", a.state, "error", err)
		return
	}
	a.eventID = eventID
	s.reg.setState(h, next)
}

// lookup reads the mapping for shift. Incomplete shifts are never stored.
func (s *Syncer) lookup(ctx context.Context, shift models.Shift) (string, bool, error) {
	if !shift.Complete() {
		return "", false, nil
	}
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	eventID, ok, err := s.store.Get(ctx, shift.Key())
	if err != nil {
		return "", false, fmt.Errorf("failed to read sync state for %s: %w", shift.Key(), err)
	}
	return eventID, ok, nil
}

func (s *Syncer) create(ctx context.Context, shift models.Shift) (string, error) {
	start, err := shift.StartDateTime()
	if err != nil {
		return "", err
	}
	end, err := shift.EndDateTime()
	if err != nil {
		return "", err
	}
	return s.gateway.CreateEvent(ctx, cal.NewEvent{
		Title:    s.settings.Title,
		Start:    start,
		End:      end,
		TimeZone: s.settings.TimeZone,
		ColorID:  s.settings.ColorID,
	})
}
