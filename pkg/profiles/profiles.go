// Package profiles defines the voice-profile data model and the Store
// interface for persisting the ignore-filter registry.
//
// A profile's signature is a 128-element L2-unit-normalised feature vector
// computed once from training audio; only the usage counters mutate after
// creation. Two store implementations ship with Earshot: a JSON snapshot
// file (the default) and a PostgreSQL store with a pgvector signature column.
package profiles

import (
	"context"
	"time"
)

// SignatureSize is the fixed length of a voice signature vector.
const SignatureSize = 128

// Profile describes one known-ignored speaker.
type Profile struct {
	// ID uniquely identifies the profile. Client-supplied on creation;
	// duplicates are rejected.
	ID string `json:"id"`

	// Name is an optional human-readable label.
	Name string `json:"name"`

	// Signature is the 128-element unit-normalised voice fingerprint.
	Signature []float32 `json:"signature"`

	// CreatedAt is when the profile was trained.
	CreatedAt time.Time `json:"createdAt"`

	// LastUsedAt is the time of the most recent ignore match.
	LastUsedAt time.Time `json:"lastUsedAt"`

	// MatchCount is the number of frames this profile has matched.
	MatchCount int `json:"matchCount"`
}

// Clone returns a deep copy of p.
func (p Profile) Clone() Profile {
	sig := make([]float32, len(p.Signature))
	copy(sig, p.Signature)
	p.Signature = sig
	return p
}

// Snapshot is the persisted state of the profile registry: every profile plus
// the sensitivity in force when the snapshot was taken.
type Snapshot struct {
	Sensitivity float64   `json:"sensitivity"`
	Profiles    []Profile `json:"profiles"`
}

// Store persists registry snapshots. Implementations must be safe for
// concurrent use.
type Store interface {
	// Load returns the last saved snapshot. A store with no prior state
	// returns an empty snapshot and no error.
	Load(ctx context.Context) (Snapshot, error)

	// Save replaces the persisted state with snap.
	Save(ctx context.Context, snap Snapshot) error

	// Close releases any resources held by the store. Safe to call more than
	// once.
	Close() error
}
