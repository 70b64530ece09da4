package audio

import "math"

// RMS returns the root-mean-square amplitude of the sample window. An empty
// window has amplitude 0. NaN or infinite samples are skipped so a corrupt
// capture buffer cannot poison the level measurement.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	n := 0
	for _, s := range samples {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sum += v * v
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

// MonoMixdown averages interleaved multi-channel PCM into a mono signal.
// For channels <= 1 the input is returned unchanged.
func MonoMixdown(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, 0, len(samples)/channels)
	for i := 0; i+channels <= len(samples); i += channels {
		var sum float32
		for _, s := range samples[i : i+channels] {
			sum += s
		}
		out = append(out, sum/float32(channels))
	}
	return out
}

// Decimate downsamples by integer stride. fromRate must be an integer multiple
// of toRate for faithful results; otherwise the nearest integer factor is used.
// Equal rates (or a zero factor) return the input unchanged.
func Decimate(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || toRate <= 0 {
		return samples
	}
	factor := fromRate / toRate
	if factor <= 1 {
		return samples
	}
	out := make([]float32, 0, len(samples)/factor+1)
	for i := 0; i < len(samples); i += factor {
		out = append(out, samples[i])
	}
	return out
}
