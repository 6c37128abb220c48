package tensor

import (
	"fmt"
	"math"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("tensors must have same dtype: %s vs %s", t1.DType, t2.DType)
	}
	if t1.Device != t2.Device {
		return fmt.Errorf("tensors must be on same device: %s vs %s", t1.Device, t2.Device)
	}
	return nil
}

func checkShapesCompatible(shape1, shape2 []int) ([]int, error) {
	if len(shape1) == 0 || len(shape2) == 0 {
		return nil, fmt.Errorf("cannot operate on empty tensors")
	}

	if len(shape1) != len(shape2) {
		return nil, fmt.Errorf("tensor shapes must have same number of dimensions: %v vs %v", shape1, shape2)
	}

	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return nil, fmt.Errorf("tensor shapes must match: %v vs %v", shape1, shape2)
		}
	}

	return shape1, nil
}

// binaryOp applies fn element-wise over two Float32 tensors of equal shape.
// A single-element operand is treated as a scalar and broadcast.
func binaryOp(t1, t2 *Tensor, name string, fn func(a, b float32) (float32, error)) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	if t1.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for %s: %s", name, t1.DType)
	}

	data1 := t1.Data.([]float32)
	data2 := t2.Data.([]float32)

	switch {
	case t2.NumElems == 1 && t1.NumElems != 1:
		result, err := Zeros(t1.Shape, t1.DType, t1.Device)
		if err != nil {
			return nil, err
		}
		resultData := result.Data.([]float32)
		for i := 0; i < t1.NumElems; i++ {
			v, err := fn(data1[i], data2[0])
			if err != nil {
				return nil, fmt.Errorf("%s at index %d: %w", name, i, err)
			}
			resultData[i] = v
		}
		return result, nil
	case t1.NumElems == 1 && t2.NumElems != 1:
		result, err := Zeros(t2.Shape, t2.DType, t2.Device)
		if err != nil {
			return nil, err
		}
		resultData := result.Data.([]float32)
		for i := 0; i < t2.NumElems; i++ {
			v, err := fn(data1[0], data2[i])
			if err != nil {
				return nil, fmt.Errorf("%s at index %d: %w", name, i, err)
			}
			resultData[i] = v
		}
		return result, nil
	default:
		outputShape, err := checkShapesCompatible(t1.Shape, t2.Shape)
		if err != nil {
			return nil, err
		}
		result, err := Zeros(outputShape, t1.DType, t1.Device)
		if err != nil {
			return nil, err
		}
		resultData := result.Data.([]float32)
		for i := 0; i < t1.NumElems; i++ {
			v, err := fn(data1[i], data2[i])
			if err != nil {
				return nil, fmt.Errorf("%s at index %d: %w", name, i, err)
			}
			resultData[i] = v
		}
		return result, nil
	}
}

func Add(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp(t1, t2, "Add", func(a, b float32) (float32, error) { return a + b, nil })
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp(t1, t2, "Sub", func(a, b float32) (float32, error) { return a - b, nil })
}

func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp(t1, t2, "Mul", func(a, b float32) (float32, error) { return a * b, nil })
}

func Div(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp(t1, t2, "Div", func(a, b float32) (float32, error) {
		if b == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return a / b, nil
	})
}

func unaryOp(t *Tensor, name string, fn func(x float32) float32) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("%s only supports Float32 dtype", name)
	}

	result, err := Zeros(t.Shape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	resultData := result.Data.([]float32)
	for i := 0; i < t.NumElems; i++ {
		resultData[i] = fn(data[i])
	}

	return result, nil
}

func Sigmoid(t *Tensor) (*Tensor, error) {
	return unaryOp(t, "Sigmoid", func(x float32) float32 {
		return float32(1.0 / (1.0 + math.Exp(-float64(x))))
	})
}

func Tanh(t *Tensor) (*Tensor, error) {
	return unaryOp(t, "Tanh", func(x float32) float32 {
		return float32(math.Tanh(float64(x)))
	})
}

func Abs(t *Tensor) (*Tensor, error) {
	return unaryOp(t, "Abs", func(x float32) float32 {
		if x < 0 {
			return -x
		}
		return x
	})
}

func ReLU(t *Tensor) (*Tensor, error) {
	return unaryOp(t, "ReLU", func(x float32) float32 {
		if x > 0 {
			return x
		}
		return 0
	})
}

func LeakyReLU(t *Tensor, negativeSlope float32) (*Tensor, error) {
	return unaryOp(t, "LeakyReLU", func(x float32) float32 {
		if x > 0 {
			return x
		}
		return negativeSlope * x
	})
}

// ZeroBelow zeroes every element at or below the threshold and keeps the
// rest unchanged. Applying it twice with the same non-negative threshold
// yields the same result as applying it once.
func ZeroBelow(t *Tensor, threshold float32) (*Tensor, error) {
	return unaryOp(t, "ZeroBelow", func(x float32) float32 {
		if x > threshold {
			return x
		}
		return 0
	})
}

// Scale multiplies every element by a constant.
func Scale(t *Tensor, c float64) (*Tensor, error) {
	return unaryOp(t, "Scale", func(x float32) float32 {
		return x * float32(c)
	})
}

func Sqrt(t *Tensor) (*Tensor, error) {
	return unaryOp(t, "Sqrt", func(x float32) float32 {
		if x < 0 {
			return float32(math.NaN())
		}
		return float32(math.Sqrt(float64(x)))
	})
}

// MeanAll reduces a tensor to the scalar mean of all its elements.
func MeanAll(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("MeanAll only supports Float32 dtype")
	}
	if t.NumElems == 0 {
		return nil, fmt.Errorf("cannot take mean of empty tensor")
	}

	data := t.Data.([]float32)
	var sum float32
	for _, v := range data {
		sum += v
	}

	return NewTensor([]int{1}, Float32, t.Device, []float32{sum / float32(t.NumElems)})
}

// SumAll reduces a tensor to the scalar sum of all its elements.
func SumAll(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("SumAll only supports Float32 dtype")
	}

	data := t.Data.([]float32)
	var sum float32
	for _, v := range data {
		sum += v
	}

	return NewTensor([]int{1}, Float32, t.Device, []float32{sum})
}

// MaxAll returns the largest element of a Float32 tensor.
func MaxAll(t *Tensor) (float32, error) {
	if t.DType != Float32 {
		return 0, fmt.Errorf("MaxAll only supports Float32 dtype")
	}
	if t.NumElems == 0 {
		return 0, fmt.Errorf("cannot take max of empty tensor")
	}

	data := t.Data.([]float32)
	max := data[0]
	for _, v := range data[1:] {
		if v > max {
			max = v
		}
	}
	return max, nil
}
