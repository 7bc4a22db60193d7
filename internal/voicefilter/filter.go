// Package voicefilter gates the transcription pipeline on a registry of
// known-ignored speakers. Every inbound audio frame is fingerprinted and
// compared against the registered voice profiles; frames whose similarity to
// any profile reaches the sensitivity threshold are dropped before they ever
// reach speech-to-text.
package voicefilter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/profiles"
)

// ErrInvalidInput marks registry operations rejected because of caller error,
// e.g. an empty training set or a duplicate profile id. The control API maps
// it to a 400 response.
var ErrInvalidInput = errors.New("invalid input")

// MatchResult is the filter's verdict for a single audio frame.
type MatchResult struct {
	// IsMatch reports whether some profile reached the sensitivity threshold.
	IsMatch bool
	// Confidence is the similarity of the winning profile, 0 when no match.
	Confidence float64
	// ProfileID identifies the winning profile when IsMatch is true.
	ProfileID string
}

// Option configures a [Filter].
type Option func(*Filter)

// WithStore attaches a persistence backend. The filter saves a snapshot after
// every registry mutation and can restore from it via [Filter.Restore].
func WithStore(store profiles.Store) Option {
	return func(f *Filter) { f.store = store }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(f *Filter) { f.log = log }
}

// Filter matches audio frames against registered ignore profiles. Safe for
// concurrent use; matching takes a read lock so frames from multiple sessions
// are checked in parallel.
type Filter struct {
	mu          sync.RWMutex
	sensitivity float64
	profiles    map[string]*profiles.Profile

	store profiles.Store
	log   *slog.Logger
	now   func() time.Time
}

// New creates a Filter with the given match sensitivity in [0, 1].
func New(sensitivity float64, opts ...Option) *Filter {
	f := &Filter{
		sensitivity: sensitivity,
		profiles:    make(map[string]*profiles.Profile),
		log:         slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Restore loads the last persisted snapshot, replacing the in-memory registry.
// A snapshot sensitivity of zero (no prior state) keeps the configured value.
func (f *Filter) Restore(ctx context.Context) error {
	if f.store == nil {
		return nil
	}
	snap, err := f.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore voice profiles: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles = make(map[string]*profiles.Profile, len(snap.Profiles))
	for _, p := range snap.Profiles {
		p := p.Clone()
		f.profiles[p.ID] = &p
	}
	if snap.Sensitivity > 0 {
		f.sensitivity = snap.Sensitivity
	}
	f.log.Info("voice profiles restored", "profiles", len(f.profiles), "sensitivity", f.sensitivity)
	return nil
}

// Match fingerprints frame and returns the best profile match, if any. On a
// match the winning profile's usage counters are updated.
func (f *Filter) Match(frame []byte) MatchResult {
	sig := ExtractSignature(frame)

	f.mu.RLock()
	var (
		best     *profiles.Profile
		bestSim  float64
		sens     = f.sensitivity
	)
	for _, p := range f.profiles {
		if sim := Similarity(sig, p.Signature); sim > bestSim {
			best, bestSim = p, sim
		}
	}
	f.mu.RUnlock()

	if best == nil || bestSim < sens {
		return MatchResult{}
	}

	f.mu.Lock()
	best.MatchCount++
	best.LastUsedAt = f.now()
	f.mu.Unlock()

	return MatchResult{IsMatch: true, Confidence: bestSim, ProfileID: best.ID}
}

// Add trains a new profile from one or more PCM frames and registers it under
// the client-supplied id. An empty training set or an already-registered id
// fails with [ErrInvalidInput].
func (f *Filter) Add(ctx context.Context, id, name string, frames [][]byte) (profiles.Profile, error) {
	if id == "" {
		return profiles.Profile{}, fmt.Errorf("%w: profile id must not be empty", ErrInvalidInput)
	}
	if len(frames) == 0 {
		return profiles.Profile{}, fmt.Errorf("%w: profile %q needs at least one training frame", ErrInvalidInput, id)
	}

	sig := TrainSignature(frames)

	f.mu.Lock()
	if _, exists := f.profiles[id]; exists {
		f.mu.Unlock()
		return profiles.Profile{}, fmt.Errorf("%w: profile %q already exists", ErrInvalidInput, id)
	}
	p := &profiles.Profile{
		ID:        id,
		Name:      name,
		Signature: sig,
		CreatedAt: f.now(),
	}
	f.profiles[id] = p
	f.mu.Unlock()

	f.log.Info("voice profile added", "id", id, "name", name, "trainingFrames", len(frames))
	f.persist(ctx)
	return p.Clone(), nil
}

// Remove deletes the profile with the given id and reports whether it existed.
func (f *Filter) Remove(ctx context.Context, id string) bool {
	f.mu.Lock()
	_, existed := f.profiles[id]
	delete(f.profiles, id)
	f.mu.Unlock()

	if existed {
		f.log.Info("voice profile removed", "id", id)
		f.persist(ctx)
	}
	return existed
}

// Rename changes the display name of an existing profile.
func (f *Filter) Rename(ctx context.Context, id, name string) error {
	f.mu.Lock()
	p, ok := f.profiles[id]
	if ok {
		p.Name = name
	}
	f.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: no profile %q", ErrInvalidInput, id)
	}
	f.persist(ctx)
	return nil
}

// List returns all registered profiles ordered by creation time.
func (f *Filter) List() []profiles.Profile {
	f.mu.RLock()
	out := make([]profiles.Profile, 0, len(f.profiles))
	for _, p := range f.profiles {
		out = append(out, p.Clone())
	}
	f.mu.RUnlock()

	slices.SortFunc(out, func(a, b profiles.Profile) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// SetSensitivity changes the match threshold for all subsequent frames.
func (f *Filter) SetSensitivity(v float64) {
	f.mu.Lock()
	f.sensitivity = v
	f.mu.Unlock()
	f.persist(context.Background())
}

// Sensitivity returns the current match threshold.
func (f *Filter) Sensitivity() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sensitivity
}

// Close flushes the registry, including usage counters accumulated since the
// last mutation, to the store.
func (f *Filter) Close(ctx context.Context) error {
	if f.store == nil {
		return nil
	}
	if err := f.store.Save(ctx, f.snapshot()); err != nil {
		return fmt.Errorf("flush voice profiles: %w", err)
	}
	return nil
}

func (f *Filter) snapshot() profiles.Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	snap := profiles.Snapshot{Sensitivity: f.sensitivity}
	for _, p := range f.profiles {
		snap.Profiles = append(snap.Profiles, p.Clone())
	}
	return snap
}

// persist saves a snapshot best-effort; persistence failures are logged, the
// in-memory registry stays authoritative.
func (f *Filter) persist(ctx context.Context) {
	if f.store == nil {
		return
	}
	if err := f.store.Save(ctx, f.snapshot()); err != nil {
		f.log.Error("persisting voice profiles failed", "error", err)
	}
}
