package voicefilter

import (
	"encoding/binary"
	"math"

	"github.com/MrWong99/earshot/pkg/profiles"
)

// bandSize is the width of each of the four feature sub-bands.
const bandSize = profiles.SignatureSize / 4

// ExtractSignature computes the 128-element voice fingerprint of a raw PCM
// frame (16-bit little-endian mono). The samples are split into 32 equal
// chunks; per chunk the extractor records RMS energy, zero-crossing rate and
// a spectral-centroid approximation, then fills the last sub-band with
// whole-frame statistics and cross products. The result is L2-normalised.
func ExtractSignature(pcm []byte) []float32 {
	samples := decodePCM(pcm)
	sig := make([]float32, profiles.SignatureSize)
	if len(samples) == 0 {
		return sig
	}

	energy := sig[0:bandSize]
	zcr := sig[bandSize : 2*bandSize]
	centroid := sig[2*bandSize : 3*bandSize]
	stats := sig[3*bandSize:]

	for i := range bandSize {
		chunk := chunkOf(samples, i)
		energy[i] = rms(chunk)
		zcr[i] = zeroCrossingRate(chunk)
		centroid[i] = spectralCentroid(chunk)
	}

	mean, std, min, max := amplitudeStats(samples)
	stats[0], stats[1], stats[2], stats[3] = mean, std, min, max
	for i := 4; i < bandSize; i++ {
		// Cross products of the earlier bands fill the remaining slots.
		j := (i - 4) % bandSize
		stats[i] = energy[j] * zcr[j]
	}

	normalize(sig)
	return sig
}

// TrainSignature averages the signatures of several training frames and
// renormalises the result.
func TrainSignature(frames [][]byte) []float32 {
	avg := make([]float32, profiles.SignatureSize)
	for _, frame := range frames {
		sig := ExtractSignature(frame)
		for i, v := range sig {
			avg[i] += v
		}
	}
	if n := float32(len(frames)); n > 0 {
		for i := range avg {
			avg[i] /= n
		}
	}
	normalize(avg)
	return avg
}

// Similarity maps the cosine similarity of two signatures from [-1, 1] to
// [0, 1]. Both inputs are expected to be unit-normalised.
func Similarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	s := (dot + 1) / 2
	return math.Max(0, math.Min(1, s))
}

func decodePCM(pcm []byte) []float32 {
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		raw := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		samples[i] = float32(raw) / 32768
	}
	return samples
}

// chunkOf returns the i-th of 32 equal slices of samples. Short frames map
// several chunk indices onto the same samples rather than failing.
func chunkOf(samples []float32, i int) []float32 {
	size := len(samples) / bandSize
	if size == 0 {
		return samples
	}
	start := i * size
	end := start + size
	if i == bandSize-1 {
		end = len(samples)
	}
	return samples[start:end]
}

func rms(chunk []float32) float32 {
	if len(chunk) == 0 {
		return 0
	}
	var sum float64
	for _, s := range chunk {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(chunk))))
}

func zeroCrossingRate(chunk []float32) float32 {
	if len(chunk) < 2 {
		return 0
	}
	var crossings int
	for i := 1; i < len(chunk); i++ {
		if (chunk[i-1] >= 0) != (chunk[i] >= 0) {
			crossings++
		}
	}
	return float32(crossings) / float32(len(chunk)-1)
}

// spectralCentroid approximates the dominant-frequency position as the
// magnitude-weighted mean sample index, scaled to [0, 1].
func spectralCentroid(chunk []float32) float32 {
	if len(chunk) < 2 {
		return 0
	}
	var weighted, total float64
	for i, s := range chunk {
		mag := math.Abs(float64(s))
		weighted += float64(i) * mag
		total += mag
	}
	if total == 0 {
		return 0
	}
	return float32(weighted / total / float64(len(chunk)-1))
}

func amplitudeStats(samples []float32) (mean, std, min, max float32) {
	min, max = samples[0], samples[0]
	var sum float64
	for _, s := range samples {
		sum += float64(s)
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	m := sum / float64(len(samples))

	var variance float64
	for _, s := range samples {
		d := float64(s) - m
		variance += d * d
	}
	return float32(m), float32(math.Sqrt(variance / float64(len(samples)))), min, max
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
