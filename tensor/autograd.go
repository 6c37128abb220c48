package tensor

import (
	"fmt"
	"math"
)

// reduceGradientToShape reduces a gradient tensor to match the target shape
// after a broadcast occurred during the forward pass.
func reduceGradientToShape(grad *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(grad.Shape, targetShape) {
		return grad.Clone()
	}

	// Scalar target: sum everything.
	if calculateNumElements(targetShape) == 1 {
		summed, err := SumAll(grad)
		if err != nil {
			return nil, err
		}
		return summed.Reshape(targetShape)
	}

	// Row broadcast: [rows, cols] gradient reduced to a [cols] vector.
	if len(grad.Shape) == 2 && len(targetShape) == 1 && grad.Shape[1] == targetShape[0] {
		rows := grad.Shape[0]
		cols := grad.Shape[1]
		gradData := grad.Data.([]float32)
		reduced := make([]float32, cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				reduced[j] += gradData[i*cols+j]
			}
		}
		return NewTensor(targetShape, Float32, grad.Device, reduced)
	}

	return nil, fmt.Errorf("cannot reduce gradient of shape %v to %v", grad.Shape, targetShape)
}

func shapesEqual(shape1, shape2 []int) bool {
	if len(shape1) != len(shape2) {
		return false
	}
	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return false
		}
	}
	return true
}

// broadcastRow expands a [cols] vector to [rows, cols] by repetition.
func broadcastRow(t *Tensor, rows int) (*Tensor, error) {
	if len(t.Shape) != 1 {
		return nil, fmt.Errorf("broadcastRow expects a 1D tensor, got shape %v", t.Shape)
	}

	cols := t.Shape[0]
	src := t.Data.([]float32)
	expanded := make([]float32, rows*cols)
	for i := 0; i < rows; i++ {
		copy(expanded[i*cols:(i+1)*cols], src)
	}

	return NewTensor([]int{rows, cols}, Float32, t.Device, expanded)
}

// attach records op as the creator of result when gradient tracking is
// live for it. Without a tracked input no graph node is created, which is
// what disables tracking during frozen/inference forward passes.
func attach(op Operation, result *Tensor, tracked bool) *Tensor {
	result.requiresGrad = tracked
	if tracked {
		result.creator = op
	}
	return result
}

// AddOp implements the Operation interface for tensor addition. A 1D second
// operand is broadcast across the rows of a 2D first operand (bias add).
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Inputs() []*Tensor { return op.inputs }

func (op *AddOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("AddOp requires exactly 2 inputs")
	}

	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	rhs := b
	if len(a.Shape) == 2 && len(b.Shape) == 1 && a.Shape[1] == b.Shape[0] {
		expanded, err := broadcastRow(b, a.Shape[0])
		if err != nil {
			panic(fmt.Sprintf("forward pass failed: %v", err))
		}
		rhs = expanded
	}

	result, err := Add(a, rhs)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}

	return attach(op, result, a.requiresGrad || b.requiresGrad)
}

func (op *AddOp) Backward(gradOut *Tensor) []*Tensor {
	// ∂(a + b)/∂a = 1, ∂(a + b)/∂b = 1, reduced over broadcast dims.
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input A: %v", err))
	}

	gradB, err := reduceGradientToShape(gradOut, op.inputs[1].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input B: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

// SubOp implements the Operation interface for tensor subtraction.
type SubOp struct {
	inputs []*Tensor
}

func (op *SubOp) Inputs() []*Tensor { return op.inputs }

func (op *SubOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("SubOp requires exactly 2 inputs")
	}

	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Sub(a, b)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}

	return attach(op, result, a.requiresGrad || b.requiresGrad)
}

func (op *SubOp) Backward(gradOut *Tensor) []*Tensor {
	// ∂(a - b)/∂a = 1, ∂(a - b)/∂b = -1
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input A: %v", err))
	}

	negGradOut, err := Scale(gradOut, -1)
	if err != nil {
		panic(fmt.Sprintf("failed to negate gradient: %v", err))
	}

	gradB, err := reduceGradientToShape(negGradOut, op.inputs[1].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input B: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

// MulOp implements the Operation interface for element-wise multiplication.
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Inputs() []*Tensor { return op.inputs }

func (op *MulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MulOp requires exactly 2 inputs")
	}

	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Mul(a, b)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}

	return attach(op, result, a.requiresGrad || b.requiresGrad)
}

func (op *MulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	// ∂(a * b)/∂a = b, ∂(a * b)/∂b = a
	gradAFull, err := Mul(gradOut, b)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradA: %v", err))
	}

	gradA, err := reduceGradientToShape(gradAFull, a.Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input A: %v", err))
	}

	gradBFull, err := Mul(gradOut, a)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradB: %v", err))
	}

	gradB, err := reduceGradientToShape(gradBFull, b.Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input B: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

// MatMulOp implements the Operation interface for matrix multiplication.
type MatMulOp struct {
	inputs []*Tensor
}

func (op *MatMulOp) Inputs() []*Tensor { return op.inputs }

func (op *MatMulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MatMulOp requires exactly 2 inputs")
	}

	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := MatMul(a, b)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}

	return attach(op, result, a.requiresGrad || b.requiresGrad)
}

func (op *MatMulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	// ∂(A @ B)/∂A = gradOut @ B^T, ∂(A @ B)/∂B = A^T @ gradOut
	bT, err := Transpose(b, 0, 1)
	if err != nil {
		panic(fmt.Sprintf("failed to transpose B: %v", err))
	}

	gradA, err := MatMul(gradOut, bT)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradA: %v", err))
	}

	aT, err := Transpose(a, 0, 1)
	if err != nil {
		panic(fmt.Sprintf("failed to transpose A: %v", err))
	}

	gradB, err := MatMul(aT, gradOut)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradB: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

// SigmoidOp implements the Operation interface for the sigmoid activation.
type SigmoidOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *SigmoidOp) Inputs() []*Tensor { return op.inputs }

func (op *SigmoidOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("SigmoidOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := Sigmoid(a)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}

	op.output = result
	return attach(op, result, a.requiresGrad)
}

func (op *SigmoidOp) Backward(gradOut *Tensor) []*Tensor {
	// ∂σ(x)/∂x = σ(x) * (1 - σ(x))
	outData := op.output.Data.([]float32)
	gradData := gradOut.Data.([]float32)
	grad := make([]float32, len(gradData))
	for i := range grad {
		grad[i] = gradData[i] * outData[i] * (1 - outData[i])
	}

	result, err := NewTensor(op.inputs[0].Shape, Float32, gradOut.Device, grad)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{result}
}

// TanhOp implements the Operation interface for the tanh activation.
type TanhOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *TanhOp) Inputs() []*Tensor { return op.inputs }

func (op *TanhOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("TanhOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := Tanh(a)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}

	op.output = result
	return attach(op, result, a.requiresGrad)
}

func (op *TanhOp) Backward(gradOut *Tensor) []*Tensor {
	// ∂tanh(x)/∂x = 1 - tanh(x)^2
	outData := op.output.Data.([]float32)
	gradData := gradOut.Data.([]float32)
	grad := make([]float32, len(gradData))
	for i := range grad {
		grad[i] = gradData[i] * (1 - outData[i]*outData[i])
	}

	result, err := NewTensor(op.inputs[0].Shape, Float32, gradOut.Device, grad)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{result}
}

// LeakyReLUOp implements the Operation interface for the leaky ReLU
// activation with a configurable negative slope.
type LeakyReLUOp struct {
	inputs []*Tensor
	slope  float32
}

func (op *LeakyReLUOp) Inputs() []*Tensor { return op.inputs }

func (op *LeakyReLUOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("LeakyReLUOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := LeakyReLU(a, op.slope)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}

	return attach(op, result, a.requiresGrad)
}

func (op *LeakyReLUOp) Backward(gradOut *Tensor) []*Tensor {
	inData := op.inputs[0].Data.([]float32)
	gradData := gradOut.Data.([]float32)
	grad := make([]float32, len(gradData))
	for i := range grad {
		if inData[i] > 0 {
			grad[i] = gradData[i]
		} else {
			grad[i] = gradData[i] * op.slope
		}
	}

	result, err := NewTensor(op.inputs[0].Shape, Float32, gradOut.Device, grad)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{result}
}

// AbsOp implements the Operation interface for element-wise absolute value.
type AbsOp struct {
	inputs []*Tensor
}

func (op *AbsOp) Inputs() []*Tensor { return op.inputs }

func (op *AbsOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("AbsOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := Abs(a)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}

	return attach(op, result, a.requiresGrad)
}

func (op *AbsOp) Backward(gradOut *Tensor) []*Tensor {
	// ∂|x|/∂x = sign(x), taken as 0 at x = 0
	inData := op.inputs[0].Data.([]float32)
	gradData := gradOut.Data.([]float32)
	grad := make([]float32, len(gradData))
	for i := range grad {
		switch {
		case inData[i] > 0:
			grad[i] = gradData[i]
		case inData[i] < 0:
			grad[i] = -gradData[i]
		}
	}

	result, err := NewTensor(op.inputs[0].Shape, Float32, gradOut.Device, grad)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{result}
}

// MeanOp reduces its input to the scalar mean of all elements.
type MeanOp struct {
	inputs []*Tensor
}

func (op *MeanOp) Inputs() []*Tensor { return op.inputs }

func (op *MeanOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("MeanOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := MeanAll(a)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}

	return attach(op, result, a.requiresGrad)
}

func (op *MeanOp) Backward(gradOut *Tensor) []*Tensor {
	in := op.inputs[0]
	g := gradOut.Data.([]float32)[0] / float32(in.NumElems)

	grad := make([]float32, in.NumElems)
	for i := range grad {
		grad[i] = g
	}

	result, err := NewTensor(in.Shape, Float32, gradOut.Device, grad)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{result}
}

// ScaleOp multiplies its input by a constant that carries no gradient.
type ScaleOp struct {
	inputs []*Tensor
	factor float64
}

func (op *ScaleOp) Inputs() []*Tensor { return op.inputs }

func (op *ScaleOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ScaleOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := Scale(a, op.factor)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}

	return attach(op, result, a.requiresGrad)
}

func (op *ScaleOp) Backward(gradOut *Tensor) []*Tensor {
	grad, err := Scale(gradOut, op.factor)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

// ZeroBelowOp zeroes every element at or below a threshold. Gradients flow
// only through the elements that survived.
type ZeroBelowOp struct {
	inputs    []*Tensor
	threshold float32
}

func (op *ZeroBelowOp) Inputs() []*Tensor { return op.inputs }

func (op *ZeroBelowOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ZeroBelowOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := ZeroBelow(a, op.threshold)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}

	return attach(op, result, a.requiresGrad)
}

func (op *ZeroBelowOp) Backward(gradOut *Tensor) []*Tensor {
	inData := op.inputs[0].Data.([]float32)
	gradData := gradOut.Data.([]float32)
	grad := make([]float32, len(gradData))
	for i := range grad {
		if inData[i] > op.threshold {
			grad[i] = gradData[i]
		}
	}

	result, err := NewTensor(op.inputs[0].Shape, Float32, gradOut.Device, grad)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{result}
}

// bceEps keeps probabilities away from 0 and 1 so the log terms and the
// gradient denominator stay finite.
const bceEps = 1e-7

// BCEOp computes mean binary cross-entropy between a probability tensor and
// a target tensor of the same shape. Gradients flow to the probabilities
// only; targets are treated as constants.
type BCEOp struct {
	inputs []*Tensor
}

func (op *BCEOp) Inputs() []*Tensor { return op.inputs }

func (op *BCEOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("BCEOp requires exactly 2 inputs")
	}

	p, target := inputs[0], inputs[1]
	op.inputs = inputs

	if !shapesEqual(p.Shape, target.Shape) {
		panic(fmt.Sprintf("BCEOp shape mismatch: %v vs %v", p.Shape, target.Shape))
	}

	pData := p.Data.([]float32)
	tData := target.Data.([]float32)

	var sum float64
	for i := range pData {
		prob := clampProb(pData[i])
		sum += -(float64(tData[i])*math.Log(prob) + (1-float64(tData[i]))*math.Log(1-prob))
	}

	result, err := NewTensor([]int{1}, Float32, p.Device, []float32{float32(sum / float64(len(pData)))})
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}

	return attach(op, result, p.requiresGrad)
}

func (op *BCEOp) Backward(gradOut *Tensor) []*Tensor {
	p, target := op.inputs[0], op.inputs[1]
	pData := p.Data.([]float32)
	tData := target.Data.([]float32)
	g := gradOut.Data.([]float32)[0] / float32(p.NumElems)

	grad := make([]float32, p.NumElems)
	for i := range grad {
		prob := float32(clampProb(pData[i]))
		denom := prob * (1 - prob)
		if denom < bceEps {
			denom = bceEps
		}
		// ∂BCE/∂p = (p - t) / (p * (1 - p))
		grad[i] = g * (prob - tData[i]) / denom
	}

	result, err := NewTensor(p.Shape, Float32, gradOut.Device, grad)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{result, nil}
}

func clampProb(p float32) float64 {
	switch {
	case p < bceEps:
		return bceEps
	case p > 1-bceEps:
		return 1 - bceEps
	default:
		return float64(p)
	}
}

// ReshapeOp changes the logical shape while sharing element order.
type ReshapeOp struct {
	inputs   []*Tensor
	newShape []int
}

func (op *ReshapeOp) Inputs() []*Tensor { return op.inputs }

func (op *ReshapeOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ReshapeOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := a.Reshape(op.newShape)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}

	return attach(op, result, a.requiresGrad)
}

func (op *ReshapeOp) Backward(gradOut *Tensor) []*Tensor {
	grad, err := gradOut.Reshape(op.inputs[0].Shape)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

// High-level autograd functions that create and execute operations.

func AddAutograd(a, b *Tensor) *Tensor {
	op := &AddOp{}
	return op.Forward(a, b)
}

func SubAutograd(a, b *Tensor) *Tensor {
	op := &SubOp{}
	return op.Forward(a, b)
}

func MulAutograd(a, b *Tensor) *Tensor {
	op := &MulOp{}
	return op.Forward(a, b)
}

func MatMulAutograd(a, b *Tensor) *Tensor {
	op := &MatMulOp{}
	return op.Forward(a, b)
}

func SigmoidAutograd(a *Tensor) *Tensor {
	op := &SigmoidOp{}
	return op.Forward(a)
}

func TanhAutograd(a *Tensor) *Tensor {
	op := &TanhOp{}
	return op.Forward(a)
}

func LeakyReLUAutograd(a *Tensor, negativeSlope float32) *Tensor {
	op := &LeakyReLUOp{slope: negativeSlope}
	return op.Forward(a)
}

func AbsAutograd(a *Tensor) *Tensor {
	op := &AbsOp{}
	return op.Forward(a)
}

func MeanAutograd(a *Tensor) *Tensor {
	op := &MeanOp{}
	return op.Forward(a)
}

func ScaleAutograd(a *Tensor, factor float64) *Tensor {
	op := &ScaleOp{factor: factor}
	return op.Forward(a)
}

func ZeroBelowAutograd(a *Tensor, threshold float32) *Tensor {
	op := &ZeroBelowOp{threshold: threshold}
	return op.Forward(a)
}

func ReshapeAutograd(a *Tensor, newShape []int) *Tensor {
	op := &ReshapeOp{newShape: newShape}
	return op.Forward(a)
}

func BCEAutograd(p, target *Tensor) *Tensor {
	op := &BCEOp{}
	return op.Forward(p, target)
}

// Backward runs reverse-mode differentiation from t through the recorded
// graph, seeding with a gradient of ones. Gradients accumulate into the
// grad field of each leaf tensor that requires one; intermediate gradients
// are kept only for the duration of the walk.
func (t *Tensor) Backward() error {
	if t.creator == nil && !t.requiresGrad {
		return fmt.Errorf("tensor has no autograd graph to backpropagate through")
	}

	seed, err := Ones(t.Shape, t.DType, t.Device)
	if err != nil {
		return fmt.Errorf("failed to seed gradient: %w", err)
	}

	order := topologicalOrder(t)

	grads := make(map[*Tensor]*Tensor, len(order))
	grads[t] = seed

	for _, node := range order {
		grad := grads[node]
		if grad == nil {
			continue
		}

		if node.requiresGrad && node.creator == nil {
			if node.grad == nil {
				node.grad, err = grad.Clone()
				if err != nil {
					return fmt.Errorf("failed to store gradient: %w", err)
				}
			} else {
				accumulated, err := Add(node.grad, grad)
				if err != nil {
					return fmt.Errorf("failed to accumulate gradient: %w", err)
				}
				if err := node.grad.SetData(accumulated.Data); err != nil {
					return fmt.Errorf("failed to accumulate gradient: %w", err)
				}
			}
		}

		if node.creator == nil {
			continue
		}

		inputGrads := node.creator.Backward(grad)
		inputs := node.creator.Inputs()
		if len(inputGrads) != len(inputs) {
			return fmt.Errorf("operation returned %d gradients for %d inputs", len(inputGrads), len(inputs))
		}

		for i, in := range inputs {
			if inputGrads[i] == nil {
				continue
			}
			if existing, ok := grads[in]; ok {
				summed, err := Add(existing, inputGrads[i])
				if err != nil {
					return fmt.Errorf("failed to merge gradients: %w", err)
				}
				grads[in] = summed
			} else {
				grads[in] = inputGrads[i]
			}
		}
	}

	return nil
}

// topologicalOrder returns the graph reachable from root ordered so every
// tensor appears before the inputs of its creator.
func topologicalOrder(root *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]bool)

	var visit func(t *Tensor)
	visit = func(t *Tensor) {
		if visited[t] {
			return
		}
		visited[t] = true
		if t.creator != nil {
			for _, in := range t.creator.Inputs() {
				visit(in)
			}
		}
		order = append(order, t)
	}
	visit(root)

	// Reverse post-order: root first.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}
