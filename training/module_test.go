package training

import (
	"testing"

	"github.com/rainmetry/rainmetry/tensor"
)

func TestLinearForward(t *testing.T) {
	layer, err := NewLinear(3, 2, true, tensor.CPU)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}

	input := tensorOf(t, []int{4, 3}, make([]float32, 12))
	output, err := layer.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if output.Shape[0] != 4 || output.Shape[1] != 2 {
		t.Errorf("expected shape [4 2], got %v", output.Shape)
	}
	if n := len(layer.Parameters()); n != 2 {
		t.Errorf("expected weight and bias, got %d parameters", n)
	}
}

func TestSequentialForward(t *testing.T) {
	fc1, err := NewLinear(8, 4, true, tensor.CPU)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	fc2, err := NewLinear(4, 8, true, tensor.CPU)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	net := NewSequential(
		NewFlatten(),
		fc1,
		NewLeakyReLU(0.2),
		fc2,
		NewTanh(),
		NewUnflatten(1, 8),
	)

	input := tensorOf(t, []int{2, 1, 8}, make([]float32, 16))
	output, err := net.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if len(output.Shape) != 3 || output.Shape[0] != 2 || output.Shape[1] != 1 || output.Shape[2] != 8 {
		t.Errorf("expected shape [2 1 8], got %v", output.Shape)
	}

	// Tanh keeps outputs in (-1, 1).
	data, err := output.GetFloat32Data()
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	for i, v := range data {
		if v < -1 || v > 1 {
			t.Errorf("element %d out of tanh range: %f", i, v)
		}
	}

	if n := len(net.Parameters()); n != 4 {
		t.Errorf("expected 4 parameters across both layers, got %d", n)
	}
}

func TestSetRequiresGradFreezesModules(t *testing.T) {
	layer, err := NewLinear(2, 2, true, tensor.CPU)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}

	SetRequiresGrad([]Module{layer}, false)
	for i, p := range layer.Parameters() {
		if p.RequiresGrad() {
			t.Errorf("parameter %d still requires grad after freeze", i)
		}
	}

	SetRequiresGrad([]Module{layer}, true)
	for i, p := range layer.Parameters() {
		if !p.RequiresGrad() {
			t.Errorf("parameter %d does not require grad after unfreeze", i)
		}
	}
}
