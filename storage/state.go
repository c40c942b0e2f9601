package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STATE STORE - Restart-safe capital and position state
// ═══════════════════════════════════════════════════════════════════════════════
//
// One JSON document, rewritten in full after every change. Writes go to a
// temp file in the same directory and are renamed over the target so a crash
// mid-write leaves the previous state intact.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ErrCorruptState is returned by Load when the file exists but cannot be decoded
var ErrCorruptState = errors.New("corrupt state file")

// BotState is the persisted document
type BotState struct {
	AvailableCash       decimal.Decimal `json:"AvailableCash"`
	AccumulatedLeftover decimal.Decimal `json:"AccumulatedLeftover"`
	IsInitialized       bool            `json:"IsInitialized"`
	LastTradeTimestamp  *time.Time      `json:"LastTradeTimestamp"`
	CurrentPosition     string          `json:"CurrentPosition"`
	CurrentShares       int64           `json:"CurrentShares"`
	StartingAmount      decimal.Decimal `json:"StartingAmount"`
}

// NewBotState returns a fresh state with all capital available
func NewBotState(startingAmount decimal.Decimal) BotState {
	return BotState{
		AvailableCash:       startingAmount,
		AccumulatedLeftover: decimal.Zero,
		IsInitialized:       true,
		StartingAmount:      startingAmount,
	}
}

// Validate checks the document invariants
func (s BotState) Validate() error {
	if s.AvailableCash.IsNegative() {
		return fmt.Errorf("negative available cash %s", s.AvailableCash)
	}
	if s.AccumulatedLeftover.IsNegative() {
		return fmt.Errorf("negative leftover %s", s.AccumulatedLeftover)
	}
	if s.CurrentShares < 0 {
		return fmt.Errorf("negative shares %d", s.CurrentShares)
	}
	if s.CurrentShares > 0 && s.CurrentPosition == "" {
		return fmt.Errorf("%d shares held without a symbol", s.CurrentShares)
	}
	return nil
}

// StateStore reads and writes BotState at a fixed path
type StateStore struct {
	mu   sync.Mutex
	path string
}

// NewStateStore creates a store for the given file path
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Path returns the backing file path
func (s *StateStore) Path() string { return s.path }

// Load reads the state. A missing file yields (zero, false, nil); an
// undecodable or invalid one yields ErrCorruptState.
func (s *StateStore) Load() (BotState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return BotState{}, false, nil
	}
	if err != nil {
		return BotState{}, false, fmt.Errorf("read state: %w", err)
	}

	var st BotState
	if err := json.Unmarshal(data, &st); err != nil {
		return BotState{}, false, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if err := st.Validate(); err != nil {
		return BotState{}, false, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return st, true, nil
}

// LoadOrInit never fails: missing or corrupt files fall back to a fresh
// state funded with startingAmount.
func (s *StateStore) LoadOrInit(startingAmount decimal.Decimal) BotState {
	st, found, err := s.Load()
	switch {
	case err != nil:
		log.Error().Err(err).Str("path", s.path).Msg("⚠️ State unreadable, starting fresh")
		return NewBotState(startingAmount)
	case !found:
		log.Info().Str("path", s.path).Str("capital", startingAmount.StringFixed(2)).Msg("💾 No state file, starting fresh")
		return NewBotState(startingAmount)
	case !st.IsInitialized:
		return NewBotState(startingAmount)
	}

	log.Info().
		Str("path", s.path).
		Str("cash", st.AvailableCash.StringFixed(2)).
		Str("leftover", st.AccumulatedLeftover.StringFixed(2)).
		Str("position", st.CurrentPosition).
		Int64("shares", st.CurrentShares).
		Msg("💾 State restored")
	return st
}

// Save atomically replaces the state file
func (s *StateStore) Save(st BotState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.LastTradeTimestamp != nil {
		utc := st.LastTradeTimestamp.UTC()
		st.LastTradeTimestamp = &utc
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
