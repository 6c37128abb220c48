package tensor

import (
	"fmt"
)

func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	if len(t1.Shape) != 2 || len(t2.Shape) != 2 {
		return nil, fmt.Errorf("matmul requires 2D tensors, got %v and %v", t1.Shape, t2.Shape)
	}

	if t1.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for MatMul: %s", t1.DType)
	}

	rows1 := t1.Shape[0]
	cols1 := t1.Shape[1]
	rows2 := t2.Shape[0]
	cols2 := t2.Shape[1]

	if cols1 != rows2 {
		return nil, fmt.Errorf("incompatible dimensions for matmul: (%d, %d) x (%d, %d)", rows1, cols1, rows2, cols2)
	}

	result, err := Zeros([]int{rows1, cols2}, t1.DType, t1.Device)
	if err != nil {
		return nil, err
	}

	data1 := t1.Data.([]float32)
	data2 := t2.Data.([]float32)
	resultData := result.Data.([]float32)

	for i := 0; i < rows1; i++ {
		for k := 0; k < cols1; k++ {
			a := data1[i*cols1+k]
			if a == 0 {
				continue
			}
			for j := 0; j < cols2; j++ {
				resultData[i*cols2+j] += a * data2[k*cols2+j]
			}
		}
	}

	return result, nil
}

func Transpose(t *Tensor, dim0, dim1 int) (*Tensor, error) {
	if dim0 < 0 || dim0 >= len(t.Shape) || dim1 < 0 || dim1 >= len(t.Shape) {
		return nil, fmt.Errorf("transpose dimensions out of range for shape %v", t.Shape)
	}

	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("transpose currently supports 2D tensors, got %v", t.Shape)
	}

	if t.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for Transpose: %s", t.DType)
	}

	rows := t.Shape[0]
	cols := t.Shape[1]

	result, err := Zeros([]int{cols, rows}, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	resultData := result.Data.([]float32)

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			resultData[j*rows+i] = data[i*cols+j]
		}
	}

	return result, nil
}

func Reshape(t *Tensor, newShape []int) (*Tensor, error) {
	return t.Reshape(newShape)
}
