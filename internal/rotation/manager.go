// Package rotation persists per-rotation progress: current cycle, loop
// currency and forced transactions.
package rotation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/newthinker/p2parb/internal/core"
	"go.uber.org/zap"
)

// MaxForcedTransactions caps the forced-transaction history per rotation.
const MaxForcedTransactions = 100

// Manager owns the rotation state file. All mutations are saved before
// they return.
type Manager struct {
	mu     sync.Mutex
	path   string
	state  state
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Open loads the state file at path. A missing or blank file starts an
// empty state. A file that is not a valid state document is moved aside to
// <path>.backup_<timestamp> and replaced by an empty state.
func Open(path string, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		path:   path,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) backupPath() string { return m.path + ".backup" }
func (m *Manager) tempPath() string   { return m.path + ".tmp" }

func emptyState() state {
	return state{ActiveRotations: map[string]*Rotation{}}
}

func (m *Manager) load() error {
	m.state = emptyState()

	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return m.restoreBackup()
	}
	if err != nil {
		return core.WrapError(core.ErrStateCorrupt, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		m.logger.Warn("rotation state file is empty, starting fresh", zap.String("path", m.path))
		return nil
	}

	st, err := decodeState(data)
	if err != nil {
		return m.quarantine(err)
	}
	m.state = st
	return nil
}

func decodeState(data []byte) (state, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return state{}, err
	}

	st := emptyState()
	if raw, ok := probe["active_rotations"]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if err := json.Unmarshal(raw, &st.ActiveRotations); err != nil {
			return state{}, err
		}
	}
	for id, r := range st.ActiveRotations {
		if r == nil {
			delete(st.ActiveRotations, id)
			continue
		}
		if r.ID == "" {
			r.ID = id
		}
		if r.CurrentCycle < 1 {
			r.CurrentCycle = 1
		}
	}
	return st, nil
}

// restoreBackup recovers from a save interrupted between moving the old
// file aside and renaming the new one into place.
func (m *Manager) restoreBackup() error {
	data, err := os.ReadFile(m.backupPath())
	if err != nil {
		return nil
	}
	st, err := decodeState(data)
	if err != nil {
		m.logger.Error("rotation state backup is corrupt, discarding", zap.Error(err))
		os.Remove(m.backupPath())
		return nil
	}
	if err := os.Rename(m.backupPath(), m.path); err != nil {
		return core.WrapError(core.ErrStateCorrupt, err)
	}
	m.state = st
	m.logger.Info("rotation state restored from backup", zap.String("path", m.path))
	return nil
}

func (m *Manager) quarantine(cause error) error {
	aside := fmt.Sprintf("%s.backup_%s", m.path, m.now().Format("20060102_150405"))
	m.logger.Error("rotation state is corrupt",
		zap.String("path", m.path),
		zap.String("moved_to", aside),
		zap.Error(cause),
	)
	if err := os.Rename(m.path, aside); err != nil {
		return core.WrapError(core.ErrStateCorrupt, err)
	}
	return m.save()
}

// save writes the state atomically: new content goes to a temp file, the
// current file is moved to .backup, the temp file is renamed into place and
// the backup dropped. On failure the backup is put back.
func (m *Manager) save() error {
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return core.WrapError(core.ErrStateCorrupt, err)
	}

	tmp, backup := m.tempPath(), m.backupPath()
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing rotation state: %w", err)
	}

	hadCurrent := false
	if _, err := os.Stat(m.path); err == nil {
		os.Remove(backup)
		if err := os.Rename(m.path, backup); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("backing up rotation state: %w", err)
		}
		hadCurrent = true
	}

	if err := os.Rename(tmp, m.path); err != nil {
		if hadCurrent {
			os.Rename(backup, m.path)
		}
		os.Remove(tmp)
		return fmt.Errorf("replacing rotation state: %w", err)
	}

	if hadCurrent {
		os.Remove(backup)
	}
	return nil
}

func (m *Manager) initLocked(id string) (*Rotation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, core.Errorf(core.ErrInvalidInput, "empty rotation id")
	}
	r := &Rotation{
		ID:                 id,
		CurrentCycle:       1,
		ForcedTransactions: []ForcedTransaction{},
		CreatedAt:          Timestamp{m.now()},
	}
	m.state.ActiveRotations[id] = r
	return r, nil
}

// Init starts (or restarts) tracking of a rotation at cycle 1.
func (m *Manager) Init(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.initLocked(id); err != nil {
		return err
	}
	return m.save()
}

// Get returns a copy of the rotation.
func (m *Manager) Get(id string) (Rotation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.state.ActiveRotations[id]
	if !ok {
		return Rotation{}, false
	}
	return r.clone(), true
}

// IDs returns the tracked rotation ids in sorted order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.state.ActiveRotations))
	for id := range m.state.ActiveRotations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetLoopCurrency sets the currency later cycles loop on. Unknown rotations
// are initialized first.
func (m *Manager) SetLoopCurrency(id, currency string) error {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return core.Errorf(core.ErrInvalidInput, "empty loop currency")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.state.ActiveRotations[id]
	if !ok {
		var err error
		if r, err = m.initLocked(id); err != nil {
			return err
		}
	}
	r.LoopCurrency = currency
	r.LoopCurrencySetAt = Timestamp{m.now()}
	return m.save()
}

// LoopCurrency returns the loop currency, or "" when unset or unknown.
func (m *Manager) LoopCurrency(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.state.ActiveRotations[id]; ok {
		return r.LoopCurrency
	}
	return ""
}

// IncrementCycle advances the rotation and returns the new current cycle.
func (m *Manager) IncrementCycle(id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.state.ActiveRotations[id]
	if !ok {
		return 0, core.Errorf(core.ErrRotationNotFound, "%s", id)
	}
	r.CurrentCycle++
	if err := m.save(); err != nil {
		r.CurrentCycle--
		return 0, err
	}
	m.logger.Info("rotation cycle advanced", zap.String("rotation_id", id), zap.Int("cycle", r.CurrentCycle))
	return r.CurrentCycle, nil
}

// RecordForced appends a forced transaction, keeping the most recent
// MaxForcedTransactions. Unknown rotations are initialized first.
func (m *Manager) RecordForced(id string, txType core.TransactionType, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.state.ActiveRotations[id]
	if !ok {
		var err error
		if r, err = m.initLocked(id); err != nil {
			return err
		}
	}
	r.ForcedTransactions = append(r.ForcedTransactions, ForcedTransaction{
		Type:      txType,
		Reason:    reason,
		Timestamp: Timestamp{m.now()},
	})
	if n := len(r.ForcedTransactions); n > MaxForcedTransactions {
		r.ForcedTransactions = append([]ForcedTransaction(nil), r.ForcedTransactions[n-MaxForcedTransactions:]...)
	}
	return m.save()
}

// Stats summarizes a rotation.
func (m *Manager) Stats(id string) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.state.ActiveRotations[id]
	if !ok {
		return Stats{}, core.Errorf(core.ErrRotationNotFound, "%s", id)
	}
	return Stats{
		CurrentCycle:      r.CurrentCycle,
		CyclesCompleted:   r.CurrentCycle - 1,
		LoopCurrency:      r.LoopCurrency,
		ForcedCount:       len(r.ForcedTransactions),
		CreatedAt:         r.CreatedAt.Time,
		LoopCurrencySetAt: r.LoopCurrencySetAt.Time,
	}, nil
}

// NextRotationID returns the id following last: R<YYYYMMDD>-<n>, with n
// incremented when last belongs to the same day and reset to 1 otherwise.
func NextRotationID(last string, now time.Time) string {
	day := now.Format("20060102")
	prefix := "R" + day + "-"
	if strings.HasPrefix(last, prefix) {
		if n, err := strconv.Atoi(strings.TrimPrefix(last, prefix)); err == nil && n > 0 {
			return prefix + strconv.Itoa(n+1)
		}
	}
	return prefix + "1"
}
