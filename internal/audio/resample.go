package audio

// Decimator converts hardware-rate mono PCM to the fixed 16 kHz session rate.
// A 3-tap low-pass (y[n] = (x[n-1] + 2·x[n] + x[n+1]) / 4) is applied before
// taking every ratio-th sample to reduce aliasing.
//
// Decimate writes into a caller-provided buffer so the capture callback can
// run allocation-free.
type Decimator struct {
	ratio  int
	prev   int16
	primed bool
}

// NewDecimator creates a decimator for hardwareRate → SampleRate conversion.
// hardwareRate must be a positive integer multiple of SampleRate.
func NewDecimator(hardwareRate int) *Decimator {
	return &Decimator{ratio: hardwareRate / SampleRate}
}

// Ratio returns the decimation factor.
func (d *Decimator) Ratio() int { return d.ratio }

// Decimate filters and downsamples in, writing at most len(out) samples.
// It returns the number of samples produced. The previous call's last sample
// seeds the filter across buffer boundaries.
func (d *Decimator) Decimate(in []int16, out []int16) int {
	if len(in) == 0 {
		return 0
	}
	if d.ratio <= 1 {
		return copy(out, in)
	}

	produced := 0
	for i := 0; i+d.ratio <= len(in) && produced < len(out); i += d.ratio {
		prev := in[0]
		if i > 0 {
			prev = in[i-1]
		} else if d.primed {
			prev = d.prev
		}
		next := in[i]
		if i+1 < len(in) {
			next = in[i+1]
		}
		acc := int32(prev) + 2*int32(in[i]) + int32(next)
		out[produced] = int16(acc / 4)
		produced++
	}

	d.prev = in[len(in)-1]
	d.primed = true
	return produced
}

// Reset clears cross-buffer filter state.
func (d *Decimator) Reset() {
	d.prev = 0
	d.primed = false
}
