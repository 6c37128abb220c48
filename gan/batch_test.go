package gan

import (
	"testing"

	"github.com/rainmetry/rainmetry/tensor"
)

func TestMinMaxInverse(t *testing.T) {
	cases := []struct {
		name        string
		x, min, max float64
		want        float64
	}{
		{"UpperBound", 1, 0, 10, 10},
		{"LowerBound", -1, 0, 10, 0},
		{"Midpoint", 0, 0, 10, 5},
		{"ShiftedRange", 0, -5, 5, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MinMaxInverse(tc.x, tc.min, tc.max); got != tc.want {
				t.Errorf("MinMaxInverse(%f, %f, %f) = %f, want %f", tc.x, tc.min, tc.max, got, tc.want)
			}
		})
	}
}

func TestTransformInverse(t *testing.T) {
	tr := &Transform{Min: []float32{0, 10}, Max: []float32{10, 30}}

	t.Run("PerChannelBounds", func(t *testing.T) {
		v, err := tr.Inverse(1, 0)
		if err != nil {
			t.Fatalf("Inverse failed: %v", err)
		}
		if v != 10 {
			t.Errorf("expected 10, got %f", v)
		}

		v, err = tr.Inverse(0, 1)
		if err != nil {
			t.Fatalf("Inverse failed: %v", err)
		}
		if v != 20 {
			t.Errorf("expected 20, got %f", v)
		}
	})

	t.Run("UnknownChannel", func(t *testing.T) {
		if _, err := tr.Inverse(0, 2); err == nil {
			t.Error("expected error for out-of-range channel")
		}
	})

	t.Run("NilTransform", func(t *testing.T) {
		var missing *Transform
		if _, err := missing.Inverse(0, 0); err == nil {
			t.Error("expected error for missing transform")
		}
	})
}

func validBatch(t *testing.T) *Batch {
	t.Helper()
	a, err := tensor.Zeros([]int{2, 1, 4}, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}
	b, err := tensor.Zeros([]int{2, 1, 4}, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}
	return &Batch{
		A:             a,
		B:             b,
		LinkID:        "link-1",
		GaugeID:       "gauge-1",
		DataTransform: &Transform{Min: []float32{0}, Max: []float32{60}},
	}
}

func TestBatchValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		if err := validBatch(t).Validate(); err != nil {
			t.Errorf("expected valid batch, got %v", err)
		}
	})

	t.Run("MissingSequences", func(t *testing.T) {
		b := validBatch(t)
		b.A = nil
		if err := b.Validate(); err == nil {
			t.Error("expected error for missing attenuation sequence")
		}

		b = validBatch(t)
		b.B = nil
		if err := b.Validate(); err == nil {
			t.Error("expected error for missing rain-rate sequence")
		}
	})

	t.Run("BatchDimMismatch", func(t *testing.T) {
		b := validBatch(t)
		other, err := tensor.Zeros([]int{3, 1, 4}, tensor.Float32, tensor.CPU)
		if err != nil {
			t.Fatalf("failed to create tensor: %v", err)
		}
		b.B = other
		if err := b.Validate(); err == nil {
			t.Error("expected error for mismatched batch dimensions")
		}
	})

	t.Run("MissingTransform", func(t *testing.T) {
		b := validBatch(t)
		b.DataTransform = nil
		if err := b.Validate(); err == nil {
			t.Error("expected error for missing data transform")
		}
	})

	t.Run("MalformedTransform", func(t *testing.T) {
		b := validBatch(t)
		b.DataTransform = &Transform{Min: []float32{0, 1}, Max: []float32{1}}
		if err := b.Validate(); err == nil {
			t.Error("expected error for mismatched transform bounds")
		}
	})

	t.Run("NilBatch", func(t *testing.T) {
		var b *Batch
		if err := b.Validate(); err == nil {
			t.Error("expected error for nil batch")
		}
	})
}
