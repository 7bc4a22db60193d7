package voicefilter

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/MrWong99/earshot/pkg/profiles"
	"github.com/MrWong99/earshot/pkg/profiles/jsonfile"
)

// sineFrame builds a PCM frame of a pure tone so distinct frequencies yield
// distinct fingerprints.
func sineFrame(freq float64, samples int) []byte {
	const rate = 16000
	out := make([]byte, samples*2)
	for i := range samples {
		v := math.Sin(2 * math.Pi * freq * float64(i) / rate)
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v*30000)))
	}
	return out
}

func TestExtractSignature_UnitNorm(t *testing.T) {
	t.Parallel()

	sig := ExtractSignature(sineFrame(440, 1600))
	if len(sig) != profiles.SignatureSize {
		t.Fatalf("signature length = %d, want %d", len(sig), profiles.SignatureSize)
	}
	var sum float64
	for _, v := range sig {
		sum += float64(v) * float64(v)
	}
	if norm := math.Sqrt(sum); math.Abs(norm-1) > 1e-4 {
		t.Errorf("L2 norm = %v, want 1", norm)
	}
}

func TestExtractSignature_SilenceIsZero(t *testing.T) {
	t.Parallel()

	sig := ExtractSignature(make([]byte, 3200))
	for i, v := range sig {
		if v != 0 {
			t.Fatalf("sig[%d] = %v, want 0 for silence", i, v)
		}
	}
}

func TestSimilarity_IdenticalFramesNearOne(t *testing.T) {
	t.Parallel()

	frame := sineFrame(440, 1600)
	a := ExtractSignature(frame)
	b := ExtractSignature(frame)
	if sim := Similarity(a, b); sim < 0.999 {
		t.Errorf("Similarity(identical) = %v, want ~1", sim)
	}
}

func TestSimilarity_DistinctTonesLower(t *testing.T) {
	t.Parallel()

	a := ExtractSignature(sineFrame(200, 1600))
	b := ExtractSignature(sineFrame(3500, 1600))
	same := Similarity(a, a)
	other := Similarity(a, b)
	if other >= same {
		t.Errorf("Similarity(distinct) = %v should be below Similarity(same) = %v", other, same)
	}
}

func TestFilter_ProfileRoundTrip(t *testing.T) {
	t.Parallel()

	f := New(0.7)
	ctx := context.Background()

	p, err := f.Add(ctx, "roommate", "Alex", [][]byte{sineFrame(440, 1600)})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if p.ID != "roommate" || p.MatchCount != 0 {
		t.Errorf("profile = %+v", p)
	}

	list := f.List()
	if len(list) != 1 || list[0].ID != "roommate" {
		t.Fatalf("List() = %+v", list)
	}
	var sum float64
	for _, v := range list[0].Signature {
		sum += float64(v) * float64(v)
	}
	if norm := math.Sqrt(sum); math.Abs(norm-1) > 1e-4 {
		t.Errorf("stored signature norm = %v, want 1", norm)
	}

	if !f.Remove(ctx, "roommate") {
		t.Error("first Remove should report existed=true")
	}
	if f.Remove(ctx, "roommate") {
		t.Error("second Remove should report existed=false")
	}
	if len(f.List()) != 0 {
		t.Error("profile should be absent after Remove")
	}
}

func TestFilter_AddRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	f := New(0.7)
	ctx := context.Background()

	if _, err := f.Add(ctx, "p", "x", nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty frames: err = %v, want ErrInvalidInput", err)
	}
	if _, err := f.Add(ctx, "", "x", [][]byte{sineFrame(440, 1600)}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty id: err = %v, want ErrInvalidInput", err)
	}

	if _, err := f.Add(ctx, "p", "x", [][]byte{sineFrame(440, 1600)}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := f.Add(ctx, "p", "y", [][]byte{sineFrame(880, 1600)}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("duplicate id: err = %v, want ErrInvalidInput", err)
	}
}

func TestFilter_MatchUpdatesCounters(t *testing.T) {
	t.Parallel()

	f := New(0.7)
	frame := sineFrame(440, 1600)
	if _, err := f.Add(context.Background(), "p", "", [][]byte{frame}); err != nil {
		t.Fatal(err)
	}

	res := f.Match(frame)
	if !res.IsMatch || res.ProfileID != "p" {
		t.Fatalf("Match = %+v, want match on p", res)
	}
	if res.Confidence < 0.7 {
		t.Errorf("Confidence = %v, want >= sensitivity", res.Confidence)
	}

	p := f.List()[0]
	if p.MatchCount != 1 {
		t.Errorf("MatchCount = %d, want 1", p.MatchCount)
	}
	if p.LastUsedAt.IsZero() {
		t.Error("LastUsedAt should be set after a match")
	}
}

func TestFilter_MatchMonotonicInSensitivity(t *testing.T) {
	t.Parallel()

	frame := sineFrame(440, 1600)
	probe := sineFrame(445, 1600)

	f := New(0.5)
	if _, err := f.Add(context.Background(), "p", "", [][]byte{frame}); err != nil {
		t.Fatal(err)
	}

	prev := true
	for _, sens := range []float64{0.1, 0.3, 0.5, 0.7, 0.9, 0.999999} {
		f.SetSensitivity(sens)
		got := f.Match(probe).IsMatch
		if got && !prev {
			t.Fatalf("match at sensitivity %v but not at a lower one", sens)
		}
		prev = got
	}
}

func TestFilter_NoMatchAboveThreshold(t *testing.T) {
	t.Parallel()

	f := New(0.99)
	if _, err := f.Add(context.Background(), "p", "", [][]byte{sineFrame(200, 1600)}); err != nil {
		t.Fatal(err)
	}
	if res := f.Match(sineFrame(3500, 1600)); res.IsMatch {
		t.Errorf("Match = %+v, want no match for a distinct tone at 0.99", res)
	}
}

func TestFilter_RestorePersistRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := jsonfile.New(filepath.Join(t.TempDir(), "profiles.json"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	f := New(0.6, WithStore(store))
	if _, err := f.Add(ctx, "p", "Alex", [][]byte{sineFrame(440, 1600)}); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(ctx); err != nil {
		t.Fatal(err)
	}

	g := New(0.7, WithStore(store))
	if err := g.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if g.Sensitivity() != 0.6 {
		t.Errorf("restored sensitivity = %v, want 0.6", g.Sensitivity())
	}
	list := g.List()
	if len(list) != 1 || list[0].ID != "p" || list[0].Name != "Alex" {
		t.Fatalf("restored profiles = %+v", list)
	}
	if !g.Match(sineFrame(440, 1600)).IsMatch {
		t.Error("restored profile should still match its training tone")
	}
}

func TestFilter_Rename(t *testing.T) {
	t.Parallel()

	f := New(0.7)
	ctx := context.Background()
	if _, err := f.Add(ctx, "p", "old", [][]byte{sineFrame(440, 1600)}); err != nil {
		t.Fatal(err)
	}
	if err := f.Rename(ctx, "p", "new"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if got := f.List()[0].Name; got != "new" {
		t.Errorf("Name = %q, want %q", got, "new")
	}
	if err := f.Rename(ctx, "missing", "x"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Rename(missing) = %v, want ErrInvalidInput", err)
	}
}
