package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySinkRecordsInOrder(t *testing.T) {
	sink := NewMemorySink()
	require.NoError(t, sink.Record(context.Background(), Event{ProposalID: "p1", Success: true, RecordedAt: time.Now()}))
	require.NoError(t, sink.Record(context.Background(), Event{ProposalID: "p2", Success: false, RecordedAt: time.Now()}))

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "p1", events[0].ProposalID)
	assert.Equal(t, "p2", events[1].ProposalID)
	assert.NoError(t, sink.Close())
}

func TestMemorySinkEventsReturnsCopy(t *testing.T) {
	sink := NewMemorySink()
	require.NoError(t, sink.Record(context.Background(), Event{ProposalID: "p1"}))

	events := sink.Events()
	events[0].ProposalID = "mutated"

	assert.Equal(t, "p1", sink.Events()[0].ProposalID)
}
