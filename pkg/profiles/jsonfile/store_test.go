package jsonfile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/profiles"
)

func testSignature() []float32 {
	sig := make([]float32, profiles.SignatureSize)
	sig[0] = 1
	return sig
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profiles.json")
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	in := profiles.Snapshot{
		Sensitivity: 0.7,
		Profiles: []profiles.Profile{
			{
				ID:         "roommate",
				Name:       "Alex",
				Signature:  testSignature(),
				CreatedAt:  now,
				MatchCount: 3,
			},
		},
	}

	ctx := context.Background()
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Sensitivity != 0.7 {
		t.Errorf("Sensitivity = %v, want 0.7", out.Sensitivity)
	}
	if len(out.Profiles) != 1 {
		t.Fatalf("got %d profiles, want 1", len(out.Profiles))
	}
	p := out.Profiles[0]
	if p.ID != "roommate" || p.Name != "Alex" || p.MatchCount != 3 {
		t.Errorf("profile = %+v", p)
	}
	if len(p.Signature) != profiles.SignatureSize {
		t.Errorf("signature length = %d, want %d", len(p.Signature), profiles.SignatureSize)
	}
	if !p.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", p.CreatedAt, now)
	}
}

func TestStore_MissingFileLoadsEmpty(t *testing.T) {
	t.Parallel()

	s, err := New(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatal(err)
	}
	snap, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Sensitivity != 0 || len(snap.Profiles) != 0 {
		t.Errorf("snapshot = %+v, want empty", snap)
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profiles.json")
	s, _ := New(path)
	ctx := context.Background()

	_ = s.Save(ctx, profiles.Snapshot{Sensitivity: 0.3, Profiles: []profiles.Profile{{ID: "a", Signature: testSignature()}}})
	_ = s.Save(ctx, profiles.Snapshot{Sensitivity: 0.9})

	snap, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Sensitivity != 0.9 || len(snap.Profiles) != 0 {
		t.Errorf("snapshot = %+v, want sensitivity 0.9 and no profiles", snap)
	}
}

func TestNew_EmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") should fail")
	}
}
