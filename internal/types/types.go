// Package types defines the shared data model for mintwatch: token
// holders, progress samples, and snapshot summaries.
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
)

// AddressSize is the length of a decoded Solana address.
const AddressSize = 32

// ErrInvalidAddress is returned when an address does not decode to 32 bytes.
var ErrInvalidAddress = errors.New("invalid address: must decode to 32 bytes")

// ValidateAddress checks that s is a well-formed base58 Solana address.
func ValidateAddress(s string) error {
	data, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("base58 decode: %w", err)
	}
	if len(data) != AddressSize {
		return ErrInvalidAddress
	}
	return nil
}

// Holder is one token holder with its aggregate balance in raw units.
type Holder struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
}

// ProgressSample is one reading of the external progress signal.
// ProgressPercent is expected in [0,100] but is not guaranteed
// monotonic; consumers must tolerate regressions.
type ProgressSample struct {
	SolVolume       float64 `json:"sol_volume"`
	ProgressPercent float64 `json:"progress_percent"`
}

// Trigger identifies why a snapshot was taken.
type Trigger string

// Snapshot triggers.
const (
	TriggerBaseline  Trigger = "baseline"
	TriggerThreshold Trigger = "threshold"
	TriggerRegular   Trigger = "regular"
	TriggerFinal     Trigger = "final"
	TriggerManual    Trigger = "manual"
)

// SnapshotSummary is the structured record produced for each snapshot.
type SnapshotSummary struct {
	Timestamp     time.Time `json:"timestamp"`
	TotalHolders  int       `json:"total_holders"`
	TotalSupply   uint64    `json:"total_supply"`
	SolVolume     float64   `json:"sol_volume"`
	Progress      float64   `json:"progress"`
	TargetReached bool      `json:"target_reached"`
	Trigger       Trigger   `json:"trigger"`
	File          string    `json:"file,omitempty"`
	Hash          string    `json:"hash,omitempty"`

	// Churn relative to the previous snapshot. Zero on the first
	// snapshot of a run.
	NewHolders    int `json:"new_holders"`
	ExitedHolders int `json:"exited_holders"`
}
