package audio

import "testing"

func TestDecimatorRatio(t *testing.T) {
	if got := NewDecimator(48000).Ratio(); got != 3 {
		t.Errorf("Ratio = %d for 48000 Hz, want 3", got)
	}
	if got := NewDecimator(16000).Ratio(); got != 1 {
		t.Errorf("Ratio = %d for 16000 Hz, want 1", got)
	}
}

func TestDecimateOutputCount(t *testing.T) {
	d := NewDecimator(48000)
	in := make([]int16, 480)
	out := make([]int16, 200)

	n := d.Decimate(in, out)
	if n != 160 {
		t.Errorf("Decimate produced %d samples from 480, want 160", n)
	}
}

func TestDecimatePassesDC(t *testing.T) {
	d := NewDecimator(48000)
	in := make([]int16, 48)
	for i := range in {
		in[i] = 1000
	}
	out := make([]int16, 16)

	n := d.Decimate(in, out)
	if n != 16 {
		t.Fatalf("produced %d samples, want 16", n)
	}
	// A constant signal passes the low-pass unchanged.
	for i := 0; i < n; i++ {
		if out[i] != 1000 {
			t.Errorf("out[%d] = %d, want 1000", i, out[i])
		}
	}
}

func TestDecimateUnityRatioCopies(t *testing.T) {
	d := NewDecimator(16000)
	in := []int16{1, -2, 3, -4}
	out := make([]int16, 4)

	n := d.Decimate(in, out)
	if n != 4 {
		t.Fatalf("produced %d samples, want 4", n)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], in[i])
		}
	}
}

func TestDecimateEmptyInput(t *testing.T) {
	d := NewDecimator(48000)
	if n := d.Decimate(nil, make([]int16, 4)); n != 0 {
		t.Errorf("Decimate(nil) = %d, want 0", n)
	}
}

func TestDecimateSeedsAcrossBuffers(t *testing.T) {
	d := NewDecimator(48000)
	out := make([]int16, 8)

	// First buffer primes the filter state.
	first := []int16{0, 0, 0, 300, 300, 300}
	d.Decimate(first, out)

	// With the seeded previous sample (300), the first output of the next
	// buffer is (300 + 2*300 + 300) / 4 = 300, not attenuated at the edge.
	second := []int16{300, 300, 300}
	n := d.Decimate(second, out)
	if n != 1 {
		t.Fatalf("produced %d samples, want 1", n)
	}
	if out[0] != 300 {
		t.Errorf("out[0] = %d, want 300", out[0])
	}

	d.Reset()
	n = d.Decimate([]int16{300, 300, 300}, out)
	if n != 1 {
		t.Fatalf("produced %d samples after Reset, want 1", n)
	}
	// After Reset the previous-sample seed is gone; the edge uses in[0].
	if out[0] != 300 {
		t.Errorf("out[0] = %d, want 300", out[0])
	}
}
