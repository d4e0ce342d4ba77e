package events

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_RecordsEventInOrder(t *testing.T) {
	log := NewLog(10, zerolog.Nop())

	log.Append("universe", &UniverseTransitionedData{Pool: "poolA", From: "DISCOVERY", To: "ACTIVE"})
	log.Append("universe", &UniverseTransitionedData{Pool: "poolB", From: "ACTIVE", To: "PROBATION"})

	recent := log.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, UniverseTransitioned, recent[0].Type)

	data0, ok := recent[0].Data.(*UniverseTransitionedData)
	require.True(t, ok)
	assert.Equal(t, "poolA", data0.Pool)
}

func TestAppend_TrimsToMaxLen(t *testing.T) {
	log := NewLog(2, zerolog.Nop())

	log.Append("m", &EntryBlockedData{Pool: "p1", Reason: "NO_DATA"})
	log.Append("m", &EntryBlockedData{Pool: "p2", Reason: "NO_DATA"})
	log.Append("m", &EntryBlockedData{Pool: "p3", Reason: "NO_DATA"})

	recent := log.Recent(0)
	require.Len(t, recent, 2)
	data0 := recent[0].Data.(*EntryBlockedData)
	data1 := recent[1].Data.(*EntryBlockedData)
	assert.Equal(t, "p2", data0.Pool)
	assert.Equal(t, "p3", data1.Pool)
}

func TestRecent_ReturnsLastN(t *testing.T) {
	log := NewLog(10, zerolog.Nop())
	for i := 0; i < 5; i++ {
		log.Append("m", &KillSwitchTriggeredData{Reason: "test"})
	}

	assert.Len(t, log.Recent(2), 2)
	assert.Len(t, log.Recent(100), 5)
}

func TestEvent_RoundTripsThroughJSON(t *testing.T) {
	original := Event{
		Type:   PositionOpened,
		Module: "ledger",
		Data:   &PositionOpenedData{TradeID: "t1", Pool: "poolA", Tier: "A", SizeUsd: 500},
	}

	raw, err := json.Marshal(&original)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))

	data, ok := decoded.Data.(*PositionOpenedData)
	require.True(t, ok)
	assert.Equal(t, "poolA", data.Pool)
	assert.Equal(t, 500.0, data.SizeUsd)
}

func TestEvent_UnmarshalFallsBackToGenericForUnknownType(t *testing.T) {
	raw := []byte(`{"type":"SOME_FUTURE_EVENT","timestamp":"2026-01-01T00:00:00Z","module":"x","data":{"foo":"bar"}}`)

	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))

	generic, ok := decoded.Data.(*GenericEventData)
	require.True(t, ok)
	assert.Equal(t, "bar", generic.Data["foo"])
}
