package events

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitStampsEnvelope(t *testing.T) {
	bus := NewBus("conv_abc123", nil)

	ev := &TurnStart{Turn: 1}
	require.NoError(t, bus.Emit(ev))

	assert.Equal(t, TypeTurnStart, ev.Type)
	assert.Equal(t, "conv_abc123", ev.ConversationID)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Equal(t, int64(0), ev.Seq)
}

func TestEmitSequenceIsMonotonic(t *testing.T) {
	bus := NewBus("conv_seq", nil)
	for i := 0; i < 5; i++ {
		ev := &TurnStart{Turn: i + 1}
		require.NoError(t, bus.Emit(ev))
		assert.Equal(t, int64(i), ev.Seq)
	}
	assert.Equal(t, int64(5), bus.Seq())
}

func TestSubscribeTypedAndAll(t *testing.T) {
	bus := NewBus("conv_sub", nil)

	var turns, everything []string
	bus.Subscribe(TypeTurnStart, func(ev Event) {
		turns = append(turns, ev.EventType())
	})
	bus.SubscribeAll(func(ev Event) {
		everything = append(everything, ev.EventType())
	})

	require.NoError(t, bus.Emit(&TurnStart{Turn: 1}))
	require.NoError(t, bus.Emit(&TurnComplete{Turn: 1, ConvergenceScore: 0.4}))

	assert.Equal(t, []string{TypeTurnStart}, turns)
	assert.Equal(t, []string{TypeTurnStart, TypeTurnComplete}, everything)
}

func TestSubscriberOrder(t *testing.T) {
	bus := NewBus("conv_order", nil)
	var order []int
	bus.Subscribe(TypeTurnStart, func(Event) { order = append(order, 1) })
	bus.Subscribe(TypeTurnStart, func(Event) { order = append(order, 2) })
	bus.SubscribeAll(func(Event) { order = append(order, 3) })

	require.NoError(t, bus.Emit(&TurnStart{Turn: 1}))
	assert.Equal(t, []int{1, 2, 3}, order, "typed handlers fire before all-handlers, in subscription order")
}

func TestReplayDeliversHistoryTail(t *testing.T) {
	bus := NewBus("conv_replay", nil)
	for i := 1; i <= 3; i++ {
		require.NoError(t, bus.Emit(&TurnStart{Turn: i}))
	}

	var seen []int
	bus.Replay(func(ev Event) {
		seen = append(seen, ev.(*TurnStart).Turn)
	})
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestEmitAfterCloseFails(t *testing.T) {
	bus := NewBus("conv_closed", nil)
	require.NoError(t, bus.Close())
	assert.Error(t, bus.Emit(&TurnStart{Turn: 1}))
	assert.NoError(t, bus.Close(), "double close is fine")
}

func TestBusWritesToSinkBeforeSubscribers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conv.jsonl")
	sink, err := NewJSONLSink(path)
	require.NoError(t, err)

	bus := NewBus("conv_sink", sink)
	bus.Subscribe(TypeTurnStart, func(Event) {
		// The line must already be on disk when the handler runs.
		assert.Equal(t, 1, sink.Lines())
	})
	require.NoError(t, bus.Emit(&TurnStart{Turn: 1}))
	require.NoError(t, bus.Close())

	evts, err := ReadLog(path)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	ts, ok := evts[0].(*TurnStart)
	require.True(t, ok)
	assert.Equal(t, 1, ts.Turn)
	assert.Equal(t, "conv_sink", ts.ConversationID)
}
