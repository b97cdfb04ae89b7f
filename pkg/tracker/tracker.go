// Package tracker holds the authoritative loan list and UI state, applies
// edits, and supports undo. Every structural mutation pushes a deep-copied
// snapshot onto an in-memory history stack and persists the resulting state
// to a key-value collaborator. The tracker performs no interest math; callers
// feed its loans to the engine package.
package tracker

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/debtcalc/pkg/models"
	"github.com/mcclellann/debtcalc/pkg/store"
	"github.com/shopspring/decimal"
)

// StateKey is the fixed key the state blob lives under. Kept byte-compatible
// with the web client so both read the same blob.
const StateKey = "debtcalc.state.v1"

// State is the single source of truth: the loan list plus UI state. Every
// mutation replaces it wholesale.
type State struct {
	Loans []models.Loan  `json:"loans"`
	UI    models.UIState `json:"ui"`
}

// Tracker owns the state, the undo history, and the persistence collaborator.
// Its API must be called from a single logical thread of control.
type Tracker struct {
	kv     store.KeyValue
	logger *slog.Logger

	state      State
	history    []State
	maxHistory int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMaxHistory bounds the undo stack to the n most recent snapshots;
// n <= 0 leaves it unbounded.
func WithMaxHistory(n int) Option {
	return func(t *Tracker) { t.maxHistory = n }
}

// WithLogger sets the logger used to report best-effort persistence failures.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New builds a Tracker backed by the given key-value store. A previously
// persisted state blob is loaded if present and well-formed; otherwise the
// tracker starts from the built-in sample loans and default UI state. Load
// failures are never surfaced.
func New(kv store.KeyValue, opts ...Option) *Tracker {
	t := &Tracker{
		kv:     kv,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}

	if loaded, ok := t.load(); ok {
		t.state = loaded
	} else {
		t.state = defaultState()
	}
	return t
}

// load reads and sanitizes the persisted blob. The second return is false for
// a missing key, malformed JSON, or the wrong shape.
func (t *Tracker) load() (State, bool) {
	raw, err := t.kv.Get(StateKey)
	if err != nil {
		return State{}, false
	}

	var envelope struct {
		Loans json.RawMessage `json:"loans"`
		UI    json.RawMessage `json:"ui"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return State{}, false
	}
	if envelope.Loans == nil || envelope.UI == nil {
		return State{}, false
	}

	var loans []models.Loan
	if err := json.Unmarshal(envelope.Loans, &loans); err != nil || loans == nil {
		return State{}, false
	}

	var uiRaw map[string]any
	if err := json.Unmarshal(envelope.UI, &uiRaw); err != nil || uiRaw == nil {
		return State{}, false
	}

	// UI fields are sanitized one by one rather than rejected wholesale.
	ui := models.UIState{SortBy: models.SortByPayoff}
	if v, ok := uiRaw["showClosed"].(bool); ok {
		ui.ShowClosed = v
	}
	if v, ok := uiRaw["sortBy"].(string); ok {
		ui.SortBy = models.SanitizeSortKey(v)
	}
	if v, ok := uiRaw["selectedId"].(string); ok {
		ui.SelectedID = &v
	}

	return State{Loans: loans, UI: ui}, true
}

// persist serializes the current state to the collaborator. Failures degrade
// to in-memory-only operation: they are logged and otherwise swallowed.
func (t *Tracker) persist() {
	blob, err := json.Marshal(t.state)
	if err != nil {
		t.logger.Warn("state serialization failed", "error", err)
		return
	}
	if err := t.kv.Set(StateKey, blob); err != nil {
		t.logger.Warn("state persist failed", "key", StateKey, "error", err)
	}
}

// pushHistory snapshots the current state onto the undo stack.
func (t *Tracker) pushHistory() {
	t.history = append(t.history, cloneState(t.state))
	if t.maxHistory > 0 && len(t.history) > t.maxHistory {
		t.history = t.history[len(t.history)-t.maxHistory:]
	}
}

// AddLoan prepends a new loan with default terms and a fresh unique id, and
// returns it.
func (t *Tracker) AddLoan() models.Loan {
	t.pushHistory()

	loan := models.Loan{
		ID:           uuid.NewString(),
		Description:  "New Loan",
		Principal:    decimal.NewFromInt(100000),
		StartDate:    models.Today(),
		AnnualRate:   decimal.NewFromInt(10),
		TenureMonths: 12,
		ExtraMonthly: decimal.Zero,
	}
	t.state.Loans = append([]models.Loan{loan}, t.state.Loans...)
	t.persist()
	return loan
}

// RemoveLoan deletes the loan with the given id and clears the selection if
// it pointed at the removed loan. An unknown id leaves the loan list intact.
func (t *Tracker) RemoveLoan(id string) {
	t.pushHistory()

	kept := t.state.Loans[:0:0]
	for _, loan := range t.state.Loans {
		if loan.ID != id {
			kept = append(kept, loan)
		}
	}
	t.state.Loans = kept
	if t.state.UI.SelectedID != nil && *t.state.UI.SelectedID == id {
		t.state.UI.SelectedID = nil
	}
	t.persist()
}

// UpdateLoan overlays the supplied patch fields onto the matching loan,
// leaving the others unchanged. An unknown id is a no-op on the loan list.
// Range clamping happens at the editing boundary before this call.
func (t *Tracker) UpdateLoan(id string, patch models.LoanPatch) {
	t.pushHistory()

	for i := range t.state.Loans {
		if t.state.Loans[i].ID == id {
			patch.Apply(&t.state.Loans[i])
			break
		}
	}
	t.persist()
}

// Select sets the UI selection; nil clears it. Selection changes are not
// undoable.
func (t *Tracker) Select(id *string) {
	if id != nil {
		v := *id
		id = &v
	}
	t.state.UI.SelectedID = id
	t.persist()
}

// UIPatch carries a partial UI update; nil fields are left untouched.
type UIPatch struct {
	ShowClosed *bool   `json:"showClosed"`
	SortBy     *string `json:"sortBy"`
}

// SetUI merges the supplied UI fields, re-sanitizing the sort key. UI-filter
// changes are not undoable.
func (t *Tracker) SetUI(patch UIPatch) {
	if patch.ShowClosed != nil {
		t.state.UI.ShowClosed = *patch.ShowClosed
	}
	if patch.SortBy != nil {
		t.state.UI.SortBy = models.SanitizeSortKey(*patch.SortBy)
	}
	t.persist()
}

// Reset replaces the state with the built-in sample loans and default UI.
func (t *Tracker) Reset() {
	t.pushHistory()
	t.state = defaultState()
	t.persist()
}

// Undo restores the most recent history snapshot. With an empty history the
// call has no effect. Undo itself is not undoable; there is no redo stack.
func (t *Tracker) Undo() {
	if len(t.history) == 0 {
		return
	}
	t.state = t.history[len(t.history)-1]
	t.history = t.history[:len(t.history)-1]
	t.persist()
}

// Loans returns a copy of the loan list in storage order.
func (t *Tracker) Loans() []models.Loan {
	out := make([]models.Loan, len(t.state.Loans))
	copy(out, t.state.Loans)
	return out
}

// Loan returns the loan with the given id.
func (t *Tracker) Loan(id string) (models.Loan, bool) {
	for _, loan := range t.state.Loans {
		if loan.ID == id {
			return loan, true
		}
	}
	return models.Loan{}, false
}

// UI returns a copy of the current UI state.
func (t *Tracker) UI() models.UIState {
	ui := t.state.UI
	if ui.SelectedID != nil {
		v := *ui.SelectedID
		ui.SelectedID = &v
	}
	return ui
}

// Snapshot returns a deep copy of the full state.
func (t *Tracker) Snapshot() State {
	return cloneState(t.state)
}

// HistoryDepth reports the number of undoable snapshots.
func (t *Tracker) HistoryDepth() int {
	return len(t.history)
}

// cloneState deep-copies a state via a JSON round trip, the same trick the
// web client uses for its snapshots. The types involved cannot fail to
// marshal.
func cloneState(s State) State {
	blob, err := json.Marshal(s)
	if err != nil {
		return s
	}
	var out State
	if err := json.Unmarshal(blob, &out); err != nil {
		return s
	}
	if out.Loans == nil {
		out.Loans = []models.Loan{}
	}
	return out
}

// SampleLoans returns the built-in starter loans used when no persisted state
// exists.
func SampleLoans() []models.Loan {
	return []models.Loan{
		{
			ID:           "L1",
			Description:  "Home Loan",
			Principal:    decimal.NewFromInt(2500000),
			StartDate:    models.NewDate(2023, time.April, 1),
			AnnualRate:   decimal.NewFromFloat(8.2),
			TenureMonths: 240,
			ExtraMonthly: decimal.NewFromInt(2000),
		},
		{
			ID:           "L2",
			Description:  "Car Loan",
			Principal:    decimal.NewFromInt(600000),
			StartDate:    models.NewDate(2024, time.June, 15),
			AnnualRate:   decimal.NewFromInt(10),
			TenureMonths: 60,
			ExtraMonthly: decimal.NewFromInt(1000),
		},
	}
}

func defaultState() State {
	return State{
		Loans: SampleLoans(),
		UI: models.UIState{
			ShowClosed: true,
			SortBy:     models.SortByPayoff,
			SelectedID: nil,
		},
	}
}
