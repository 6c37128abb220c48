package tensor

import (
	"math"
	"testing"
)

const testTolerance = 1e-6

func almostEqual(a, b float32) bool {
	return math.Abs(float64(a)-float64(b)) < testTolerance
}

func tensorOf(t *testing.T, shape []int, data []float32) *Tensor {
	t.Helper()
	tn, err := NewTensor(shape, Float32, CPU, data)
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}
	return tn
}

func assertData(t *testing.T, got *Tensor, want []float32) {
	t.Helper()
	data, err := got.GetFloat32Data()
	if err != nil {
		t.Fatalf("failed to read tensor data: %v", err)
	}
	if len(data) != len(want) {
		t.Fatalf("expected %d elements, got %d", len(want), len(data))
	}
	for i := range want {
		if !almostEqual(data[i], want[i]) {
			t.Errorf("element %d: expected %f, got %f", i, want[i], data[i])
		}
	}
}

func TestElementwiseOps(t *testing.T) {
	a := tensorOf(t, []int{2, 2}, []float32{1, 2, 3, 4})
	b := tensorOf(t, []int{2, 2}, []float32{5, 6, 7, 8})

	t.Run("Add", func(t *testing.T) {
		result, err := Add(a, b)
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		assertData(t, result, []float32{6, 8, 10, 12})
	})

	t.Run("Sub", func(t *testing.T) {
		result, err := Sub(a, b)
		if err != nil {
			t.Fatalf("Sub failed: %v", err)
		}
		assertData(t, result, []float32{-4, -4, -4, -4})
	})

	t.Run("Mul", func(t *testing.T) {
		result, err := Mul(a, b)
		if err != nil {
			t.Fatalf("Mul failed: %v", err)
		}
		assertData(t, result, []float32{5, 12, 21, 32})
	})

	t.Run("ScalarBroadcast", func(t *testing.T) {
		s := tensorOf(t, []int{1}, []float32{2})
		result, err := Mul(a, s)
		if err != nil {
			t.Fatalf("scalar Mul failed: %v", err)
		}
		assertData(t, result, []float32{2, 4, 6, 8})
	})

	t.Run("ShapeMismatch", func(t *testing.T) {
		c := tensorOf(t, []int{3}, []float32{1, 2, 3})
		if _, err := Add(a, c); err == nil {
			t.Error("expected error for mismatched shapes")
		}
	})
}

func TestZeroBelow(t *testing.T) {
	input := tensorOf(t, []int{5}, []float32{-1, 0, 0.25, 0.26, 3})

	t.Run("ZeroesAtOrBelowThreshold", func(t *testing.T) {
		result, err := ZeroBelow(input, 0.25)
		if err != nil {
			t.Fatalf("ZeroBelow failed: %v", err)
		}
		assertData(t, result, []float32{0, 0, 0, 0.26, 3})
	})

	t.Run("Idempotent", func(t *testing.T) {
		once, err := ZeroBelow(input, 0.25)
		if err != nil {
			t.Fatalf("ZeroBelow failed: %v", err)
		}
		twice, err := ZeroBelow(once, 0.25)
		if err != nil {
			t.Fatalf("second ZeroBelow failed: %v", err)
		}
		onceData, _ := once.GetFloat32Data()
		assertData(t, twice, onceData)
	})

	t.Run("ClampThreshold", func(t *testing.T) {
		probs := tensorOf(t, []int{4}, []float32{0.05, 0.1, 0.11, 0.9})
		result, err := ZeroBelow(probs, 0.1)
		if err != nil {
			t.Fatalf("ZeroBelow failed: %v", err)
		}
		assertData(t, result, []float32{0, 0, 0.11, 0.9})
	})
}

func TestActivations(t *testing.T) {
	t.Run("Sigmoid", func(t *testing.T) {
		input := tensorOf(t, []int{3}, []float32{0, 2, -2})
		result, err := Sigmoid(input)
		if err != nil {
			t.Fatalf("Sigmoid failed: %v", err)
		}
		assertData(t, result, []float32{0.5, 0.880797, 0.119203})
	})

	t.Run("Tanh", func(t *testing.T) {
		input := tensorOf(t, []int{2}, []float32{0, 1})
		result, err := Tanh(input)
		if err != nil {
			t.Fatalf("Tanh failed: %v", err)
		}
		assertData(t, result, []float32{0, 0.761594})
	})

	t.Run("LeakyReLU", func(t *testing.T) {
		input := tensorOf(t, []int{3}, []float32{-2, 0, 3})
		result, err := LeakyReLU(input, 0.2)
		if err != nil {
			t.Fatalf("LeakyReLU failed: %v", err)
		}
		assertData(t, result, []float32{-0.4, 0, 3})
	})
}

func TestReductions(t *testing.T) {
	input := tensorOf(t, []int{2, 2}, []float32{1, -2, 3, 4})

	t.Run("MeanAll", func(t *testing.T) {
		result, err := MeanAll(input)
		if err != nil {
			t.Fatalf("MeanAll failed: %v", err)
		}
		v, err := result.Float()
		if err != nil {
			t.Fatalf("Float failed: %v", err)
		}
		if math.Abs(v-1.5) > testTolerance {
			t.Errorf("expected mean 1.5, got %f", v)
		}
	})

	t.Run("MaxAll", func(t *testing.T) {
		v, err := MaxAll(input)
		if err != nil {
			t.Fatalf("MaxAll failed: %v", err)
		}
		if !almostEqual(v, 4) {
			t.Errorf("expected max 4, got %f", v)
		}
	})
}

func TestMatMul(t *testing.T) {
	a := tensorOf(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	b := tensorOf(t, []int{3, 2}, []float32{7, 8, 9, 10, 11, 12})

	result, err := MatMul(a, b)
	if err != nil {
		t.Fatalf("MatMul failed: %v", err)
	}
	if result.Shape[0] != 2 || result.Shape[1] != 2 {
		t.Fatalf("expected shape [2 2], got %v", result.Shape)
	}
	assertData(t, result, []float32{58, 64, 139, 154})
}
