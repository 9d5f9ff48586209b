package utils

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromString(t *testing.T) {
	assert.Equal(t, "", FromString(pgtype.Text{String: "ignored"}))
	assert.Equal(t, "WEB", FromString(pgtype.Text{String: "WEB", Valid: true}))
}

func TestFromTimestamptz(t *testing.T) {
	assert.Nil(t, FromTimestamptz(pgtype.Timestamptz{}))

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	got := FromTimestamptz(pgtype.Timestamptz{Time: at, Valid: true})

	require.NotNil(t, got)
	assert.True(t, at.Equal(*got))
	assert.Equal(t, time.UTC, got.Location())
}

func TestStringField(t *testing.T) {
	data := map[string]any{
		"priority":  "high",
		"projectId": float64(12),
		"urgent":    true,
		"meta":      map[string]any{"a": "b"},
	}

	assert.Equal(t, "high", StringField(data, "priority"))
	assert.Equal(t, "12", StringField(data, "projectId"))
	assert.Equal(t, "true", StringField(data, "urgent"))
	assert.Equal(t, "", StringField(data, "meta"))
	assert.Equal(t, "", StringField(data, "missing"))
	assert.Equal(t, "", StringField(nil, "missing"))
}
