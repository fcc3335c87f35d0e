package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventConstructors(t *testing.T) {
	t.Parallel()

	changed := NewRecordChanged("helka", "12345")
	assert.Equal(t, TypeRecordChanged, changed.EventType)
	assert.Equal(t, "helka", changed.SourceID)
	assert.Equal(t, "12345", changed.RecordID)
	assert.NotEmpty(t, changed.EventID)
	assert.False(t, changed.OccurredAt.IsZero())

	deleted := NewRecordDeleted("helka", "12345")
	assert.Equal(t, TypeRecordDeleted, deleted.EventType)
	assert.NotEqual(t, changed.EventID, deleted.EventID)

	assigned := NewGroupAssigned("helka", "12345", "helka.1")
	assert.Equal(t, TypeGroupAssigned, assigned.EventType)
	assert.Equal(t, "helka.1", assigned.GroupID)

	dissolved := NewGroupDissolved("helka.1")
	assert.Equal(t, TypeGroupDissolved, dissolved.EventType)
	assert.Empty(t, dissolved.SourceID)

	source := NewSourceDeleted("helka")
	assert.Equal(t, TypeSourceDeleted, source.EventType)
	assert.Empty(t, source.RecordID)
}

func TestEventJSONOmitsEmptyFields(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(NewSourceDeleted("helka"))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	_, hasRecord := raw["record_id"]
	assert.False(t, hasRecord)
	_, hasGroup := raw["group_id"]
	assert.False(t, hasGroup)
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()

	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), NewRecordChanged("helka", "1")))
	assert.NoError(t, p.Close())
}
