// Package events is the decision core's ordered event log: universe
// transitions, regime transitions, ledger mutations, harmonic exits, and
// kill-switch triggers all append here. Each event carries a typed data
// payload implementing EventData.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType is the closed set of event kinds this log carries.
type EventType string

const (
	RegimeTransitioned   EventType = "REGIME_TRANSITIONED"
	UniverseTransitioned EventType = "UNIVERSE_TRANSITIONED"
	PositionOpened       EventType = "POSITION_OPENED"
	PositionClosed       EventType = "POSITION_CLOSED"
	HarmonicExit         EventType = "HARMONIC_EXIT"
	EntryBlocked         EventType = "ENTRY_BLOCKED"
	KillSwitchTriggered  EventType = "KILL_SWITCH_TRIGGERED"
	LedgerAssertionFailed EventType = "LEDGER_ASSERTION_FAILED"
)

// EventData is the interface every typed event payload implements.
type EventData interface {
	EventType() EventType
}

// RegimeTransitionedData is emitted on every confirmed macro regime switch.
type RegimeTransitionedData struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (d *RegimeTransitionedData) EventType() EventType { return RegimeTransitioned }

// UniverseTransitionedData is emitted on every pool universe status change.
type UniverseTransitionedData struct {
	Pool string `json:"pool"`
	From string `json:"from"`
	To   string `json:"to"`
}

func (d *UniverseTransitionedData) EventType() EventType { return UniverseTransitioned }

// PositionOpenedData is emitted when the ledger, universe, and harmonic
// state have all been atomically updated for a new position.
type PositionOpenedData struct {
	TradeID  string  `json:"trade_id"`
	Pool     string  `json:"pool"`
	Tier     string  `json:"tier"`
	SizeUsd  float64 `json:"size_usd"`
}

func (d *PositionOpenedData) EventType() EventType { return PositionOpened }

// PositionClosedData is emitted when a position closes.
type PositionClosedData struct {
	TradeID     string  `json:"trade_id"`
	Pool        string  `json:"pool"`
	RealizedPnL float64 `json:"realized_pnl"`
	Reason      string  `json:"reason"`
}

func (d *PositionClosedData) EventType() EventType { return PositionClosed }

// HarmonicExitData is emitted when the harmonic stop controller calls for
// a full exit.
type HarmonicExitData struct {
	TradeID              string  `json:"trade_id"`
	Pool                 string  `json:"pool"`
	HealthScore          float64 `json:"health_score"`
	ConsecutiveBadSamples int    `json:"consecutive_bad_samples"`
}

func (d *HarmonicExitData) EventType() EventType { return HarmonicExit }

// EntryBlockedData is emitted for every Entry Gate decision (an admitted
// pool carries the empty reason domain.BlockNone) and whenever a later
// sizing step blocks a pool.
type EntryBlockedData struct {
	Pool   string `json:"pool"`
	Reason string `json:"reason"`
}

func (d *EntryBlockedData) EventType() EventType { return EntryBlocked }

// KillSwitchTriggeredData is emitted when the kill switch fires.
type KillSwitchTriggeredData struct {
	Reason string `json:"reason"`
}

func (d *KillSwitchTriggeredData) EventType() EventType { return KillSwitchTriggered }

// LedgerAssertionFailedData is emitted by the ledger's dev-mode assertion
// layer when per-tier sums disagree with the global deployed total.
type LedgerAssertionFailedData struct {
	Detail string `json:"detail"`
}

func (d *LedgerAssertionFailedData) EventType() EventType { return LedgerAssertionFailed }

// Event is one entry in the ordered log.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// MarshalJSON serializes the typed Data payload as plain JSON alongside
// the envelope fields.
func (e *Event) MarshalJSON() ([]byte, error) {
	type alias Event
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*alias
	}{alias: (*alias)(e)}

	if e.Data != nil {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = raw
	}
	return json.Marshal(aux)
}

// UnmarshalJSON deserializes the envelope, decoding Data into the concrete
// type matching Type, falling back to a generic map for unknown types.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*alias
	}{alias: (*alias)(e)}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.Data) == 0 {
		return nil
	}

	var d EventData
	switch aux.Type {
	case RegimeTransitioned:
		d = &RegimeTransitionedData{}
	case UniverseTransitioned:
		d = &UniverseTransitionedData{}
	case PositionOpened:
		d = &PositionOpenedData{}
	case PositionClosed:
		d = &PositionClosedData{}
	case HarmonicExit:
		d = &HarmonicExitData{}
	case EntryBlocked:
		d = &EntryBlockedData{}
	case KillSwitchTriggered:
		d = &KillSwitchTriggeredData{}
	case LedgerAssertionFailed:
		d = &LedgerAssertionFailedData{}
	default:
		var raw map[string]interface{}
		if err := json.Unmarshal(aux.Data, &raw); err != nil {
			return err
		}
		e.Data = &GenericEventData{Type: aux.Type, Data: raw}
		return nil
	}

	if err := json.Unmarshal(aux.Data, d); err != nil {
		return err
	}
	e.Data = d
	return nil
}

// GenericEventData is the fallback for event types this version of the
// log doesn't recognize (e.g. produced by a newer build reading an older
// persisted log).
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

func (d *GenericEventData) EventType() EventType { return d.Type }

func (d *GenericEventData) MarshalJSON() ([]byte, error) { return json.Marshal(d.Data) }

func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}

// Log is the sole owner of the in-memory ordered event history. Persisting
// it durably is internal/persistence's job; this package only guarantees
// in-process ordering and a bounded in-memory tail.
type Log struct {
	mu      sync.RWMutex
	entries []Event
	maxLen  int
	log     zerolog.Logger
}

// NewLog creates an event log retaining at most maxLen entries in memory.
func NewLog(maxLen int, log zerolog.Logger) *Log {
	return &Log{
		maxLen: maxLen,
		log:    log.With().Str("component", "event_log").Logger(),
	}
}

// Append records data as an event attributed to module, logging it
// structurally at info level.
func (l *Log) Append(module string, data EventData) Event {
	evt := Event{
		Type:      data.EventType(),
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	}

	l.mu.Lock()
	l.entries = append(l.entries, evt)
	if l.maxLen > 0 && len(l.entries) > l.maxLen {
		l.entries = l.entries[len(l.entries)-l.maxLen:]
	}
	l.mu.Unlock()

	payload, _ := json.Marshal(data)
	l.log.Info().
		Str("event_type", string(evt.Type)).
		Str("module", module).
		RawJSON("data", payload).
		Msg("event recorded")

	return evt
}

// Recent returns a copy of the last n events (all of them if n <= 0 or
// exceeds the log length).
func (l *Log) Recent(n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Event, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}
