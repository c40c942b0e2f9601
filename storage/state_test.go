package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStoreMissingFileStartsFresh(t *testing.T) {
	store := NewStateStore(filepath.Join(t.TempDir(), "state.json"))

	_, found, err := store.Load()
	require.NoError(t, err)
	assert.False(t, found)

	st := store.LoadOrInit(decimal.NewFromInt(10000))
	assert.True(t, st.IsInitialized)
	assert.True(t, st.AvailableCash.Equal(decimal.NewFromInt(10000)))
	assert.True(t, st.StartingAmount.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, "", st.CurrentPosition)
}

func TestStateStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store := NewStateStore(path)

	ts := time.Date(2025, 6, 2, 14, 31, 0, 0, time.UTC)
	want := BotState{
		AvailableCash:       decimal.RequireFromString("12.34"),
		AccumulatedLeftover: decimal.RequireFromString("56.78"),
		IsInitialized:       true,
		LastTradeTimestamp:  &ts,
		CurrentPosition:     "TQQQ",
		CurrentShares:       140,
		StartingAmount:      decimal.NewFromInt(10000),
	}
	require.NoError(t, store.Save(want))

	got, found, err := store.Load()
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.AvailableCash.Equal(want.AvailableCash))
	assert.True(t, got.AccumulatedLeftover.Equal(want.AccumulatedLeftover))
	assert.Equal(t, want.CurrentPosition, got.CurrentPosition)
	assert.Equal(t, want.CurrentShares, got.CurrentShares)
	require.NotNil(t, got.LastTradeTimestamp)
	assert.True(t, got.LastTradeTimestamp.Equal(ts))

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStateStoreUsesDocumentFieldNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStateStore(path)
	require.NoError(t, store.Save(NewBotState(decimal.NewFromInt(500))))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	for _, key := range []string{
		"AvailableCash", "AccumulatedLeftover", "IsInitialized",
		"LastTradeTimestamp", "CurrentPosition", "CurrentShares", "StartingAmount",
	} {
		assert.Contains(t, doc, key)
	}
}

func TestStateStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	store := NewStateStore(path)

	_, _, err := store.Load()
	require.ErrorIs(t, err, ErrCorruptState)

	st := store.LoadOrInit(decimal.NewFromInt(250))
	assert.True(t, st.AvailableCash.Equal(decimal.NewFromInt(250)))
	assert.True(t, st.IsInitialized)
}

func TestStateStoreRejectsInvalidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	doc := `{"AvailableCash":"-5","AccumulatedLeftover":"0","IsInitialized":true,"CurrentShares":0,"StartingAmount":"100"}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, _, err := NewStateStore(path).Load()
	require.ErrorIs(t, err, ErrCorruptState)
}

func TestBotStateValidate(t *testing.T) {
	tests := []struct {
		name    string
		state   BotState
		wantErr bool
	}{
		{"fresh", NewBotState(decimal.NewFromInt(1)), false},
		{"negative leftover", BotState{AccumulatedLeftover: decimal.NewFromInt(-1)}, true},
		{"negative shares", BotState{CurrentShares: -1}, true},
		{"shares without symbol", BotState{CurrentShares: 5}, true},
		{"holding", BotState{CurrentShares: 5, CurrentPosition: "SQQQ"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.state.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
