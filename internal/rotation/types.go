package rotation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/newthinker/p2parb/internal/core"
)

// Timestamp marshals as RFC 3339 and also accepts the zone-less ISO form
// found in state files written by earlier tooling.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

// ForcedTransaction records a phase the operator logged out of plan order.
type ForcedTransaction struct {
	Type      core.TransactionType `json:"type"`
	Reason    string               `json:"reason"`
	Timestamp Timestamp            `json:"timestamp"`
}

// Rotation is the persisted progress of one rotation.
type Rotation struct {
	ID                 string              `json:"rotation_id"`
	CurrentCycle       int                 `json:"current_cycle"`
	LoopCurrency       string              `json:"loop_currency"`
	LoopCurrencySetAt  Timestamp           `json:"loop_currency_set_at"`
	ForcedTransactions []ForcedTransaction `json:"forced_transactions"`
	CreatedAt          Timestamp           `json:"created_at"`
}

func (r *Rotation) clone() Rotation {
	out := *r
	out.ForcedTransactions = append([]ForcedTransaction(nil), r.ForcedTransactions...)
	return out
}

// Stats summarizes a rotation.
type Stats struct {
	CurrentCycle      int
	CyclesCompleted   int
	LoopCurrency      string
	ForcedCount       int
	CreatedAt         time.Time
	LoopCurrencySetAt time.Time
}

type state struct {
	ActiveRotations map[string]*Rotation `json:"active_rotations"`
}
