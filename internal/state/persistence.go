// Package state persists the risk-critical engine state across
// restarts: the gate snapshot (peak equity, daily anchors, emergency
// latch), per-strategy statistics and the local annotations on open
// positions. Losing this file must never loosen a risk limit, so a
// missing or invalid file falls back to a clean start.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/logger"
	"github.com/oyi77/forex-trader-sub001/internal/position"
	"github.com/oyi77/forex-trader-sub001/internal/risk"
)

const stateVersion = "1.0.0"

// maxStateAge guards against resurrecting anchors from a long-dead run
const maxStateAge = 7 * 24 * time.Hour

// SystemState is the complete recoverable state of the engine
type SystemState struct {
	// Metadata
	Version      string    `json:"version"`
	Broker       string    `json:"broker"`
	Symbols      []string  `json:"symbols"`
	SessionStart time.Time `json:"session_start"`
	LastUpdated  time.Time `json:"last_updated"`

	// Risk state: drawdown anchors, daily window, emergency latch
	Gate risk.Snapshot `json:"gate"`

	// Per-strategy and account statistics
	Stats map[string]position.Stats `json:"stats,omitempty"`

	// Local annotations on open positions (tier index, trailing flags,
	// entry volatility). The gateway stays the source of truth for the
	// positions themselves.
	Open []position.Record `json:"open_positions,omitempty"`
}

// Manager saves and loads the system state
type Manager struct {
	log     *logger.Logger
	dir     string
	broker  string
	symbols []string

	stateMutex sync.RWMutex
	current    *SystemState

	saveInterval time.Duration
	lastSave     time.Time

	tradeLogFile *os.File
}

// NewManager creates a state manager rooted at dir
func NewManager(log *logger.Logger, dir, brokerName string, symbols []string, saveInterval time.Duration) *Manager {
	return &Manager{
		log:          log,
		dir:          dir,
		broker:       brokerName,
		symbols:      symbols,
		saveInterval: saveInterval,
		lastSave:     time.Now(),
	}
}

// Initialize creates the state directory and opens the trade stream
func (m *Manager) Initialize() error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tradeLogPath := filepath.Join(m.dir, "trades.jsonl")
	f, err := os.OpenFile(tradeLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open trade log: %w", err)
	}
	m.tradeLogFile = f

	m.log.Info("State persistence initialized: %s", m.dir)
	return nil
}

func (m *Manager) stateFile() string {
	return filepath.Join(m.dir, "trader_state.json")
}

func (m *Manager) backupFile() string {
	return filepath.Join(m.dir, "trader_state_backup.json")
}

// Load reads the state file. It returns nil with no error when there
// is nothing usable to restore, so callers start clean.
func (m *Manager) Load() (*SystemState, error) {
	if _, err := os.Stat(m.stateFile()); os.IsNotExist(err) {
		m.log.Info("No existing state file found, starting with clean state")
		return nil, nil
	}

	data, err := os.ReadFile(m.stateFile())
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state SystemState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}

	if err := m.validateState(&state); err != nil {
		m.log.LogWarning("State Validation", "Loaded state has issues: %v, using clean state", err)
		return nil, nil
	}

	m.stateMutex.Lock()
	m.current = &state
	m.stateMutex.Unlock()

	m.log.Info("State loaded from %s (saved %s)", m.stateFile(), state.LastUpdated.Format(time.RFC3339))
	return &state, nil
}

// Update replaces the in-memory state and autosaves when the interval
// has elapsed
func (m *Manager) Update(state SystemState) {
	m.stateMutex.Lock()
	state.Version = stateVersion
	state.Broker = m.broker
	state.Symbols = m.symbols
	m.current = &state
	due := time.Since(m.lastSave) > m.saveInterval
	m.stateMutex.Unlock()

	if due {
		go func() {
			if err := m.Save(); err != nil {
				m.log.LogError("Auto Save Failed", err)
			}
		}()
	}
}

// Save writes the current state atomically: backup the previous file,
// write a temp file, rename over the live one.
func (m *Manager) Save() error {
	m.stateMutex.Lock()
	if m.current == nil {
		m.stateMutex.Unlock()
		return nil
	}
	state := *m.current
	state.LastUpdated = time.Now()
	m.lastSave = time.Now()
	m.stateMutex.Unlock()

	if _, err := os.Stat(m.stateFile()); err == nil {
		if err := copyFile(m.stateFile(), m.backupFile()); err != nil {
			m.log.LogWarning("State Backup", "Failed to create backup: %v", err)
		}
	}

	data, err := json.MarshalIndent(&state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempFile := m.stateFile() + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}

	if err := os.Rename(tempFile, m.stateFile()); err != nil {
		return fmt.Errorf("failed to move state file: %w", err)
	}

	return nil
}

// AppendTrade streams a closed trade to the JSONL log so a crash
// before the shutdown report cannot lose fills
func (m *Manager) AppendTrade(trade position.ClosedTrade) {
	if m.tradeLogFile == nil {
		return
	}
	data, err := json.Marshal(trade)
	if err != nil {
		return
	}
	m.tradeLogFile.WriteString(string(data) + "\n")
	m.tradeLogFile.Sync()
}

// State returns a copy of the current in-memory state, nil before the
// first Update or Load
func (m *Manager) State() *SystemState {
	m.stateMutex.RLock()
	defer m.stateMutex.RUnlock()

	if m.current == nil {
		return nil
	}
	stateCopy := *m.current
	return &stateCopy
}

// Close saves one last time and releases the trade stream
func (m *Manager) Close() error {
	if m.tradeLogFile != nil {
		m.tradeLogFile.Close()
		m.tradeLogFile = nil
	}
	return m.Save()
}

func (m *Manager) validateState(state *SystemState) error {
	if state.Version == "" {
		return fmt.Errorf("state version is empty")
	}

	if state.Broker != "" && state.Broker != m.broker {
		return fmt.Errorf("state belongs to broker %q, this run uses %q", state.Broker, m.broker)
	}

	if time.Since(state.LastUpdated) > maxStateAge {
		return fmt.Errorf("state is too old: %v", state.LastUpdated)
	}

	if len(state.Symbols) > 0 && !sharesSymbol(state.Symbols, m.symbols) {
		return fmt.Errorf("state symbols %v share nothing with configured %v", state.Symbols, m.symbols)
	}

	return nil
}

func sharesSymbol(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
