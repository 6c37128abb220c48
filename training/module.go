package training

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/rainmetry/rainmetry/tensor"
)

// Global random source for deterministic weight initialization.
var globalRng = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight
// initialization.
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Module interface defines methods that all neural network components must
// implement. Translators and critics in the adversarial trainer are plain
// Modules; the training core never looks past this interface.
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor // trainable parameters (requiresGrad=true)
	Train()                       // sets module to training mode
	Eval()                        // sets module to evaluation mode
	IsTraining() bool
}

// SetRequiresGrad toggles gradient tracking for every parameter of the
// given modules. The adversarial step controller uses it to freeze the
// critics while the generators update, and vice versa.
func SetRequiresGrad(modules []Module, requires bool) {
	for _, m := range modules {
		if m == nil {
			continue
		}
		for _, p := range m.Parameters() {
			p.SetRequiresGrad(requires)
		}
	}
}

// Linear implements a fully connected layer: y = xW + b
type Linear struct {
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	training bool
}

// NewLinear creates a new Linear layer with Xavier/Glorot uniform
// initialization.
func NewLinear(inputSize, outputSize int, bias bool, device tensor.DeviceType) (*Linear, error) {
	// W ~ U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))

	weightData := make([]float32, inputSize*outputSize)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}

	weight, err := tensor.NewTensor([]int{inputSize, outputSize}, tensor.Float32, device, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}
	weight.SetRequiresGrad(true)

	linear := &Linear{
		weight:   weight,
		training: true,
	}

	if bias {
		biasData := make([]float32, outputSize)
		biasT, err := tensor.NewTensor([]int{outputSize}, tensor.Float32, device, biasData)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %v", err)
		}
		biasT.SetRequiresGrad(true)
		linear.bias = biasT
	}

	return linear, nil
}

// Forward performs the forward pass: y = xW + b
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 {
		return nil, fmt.Errorf("Linear layer expects 2D input [batch_size, input_size], got shape %v", input.Shape)
	}

	if input.Shape[1] != l.weight.Shape[0] {
		return nil, fmt.Errorf("input size mismatch: expected %d, got %d", l.weight.Shape[0], input.Shape[1])
	}

	output := tensor.MatMulAutograd(input, l.weight)

	if l.bias != nil {
		output = tensor.AddAutograd(output, l.bias)
	}

	return output, nil
}

func (l *Linear) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	return params
}

func (l *Linear) Train() {
	l.training = true
}

func (l *Linear) Eval() {
	l.training = false
}

func (l *Linear) IsTraining() bool {
	return l.training
}

// Tanh implements the tanh activation module.
type Tanh struct {
	training bool
}

func NewTanh() *Tanh {
	return &Tanh{training: true}
}

func (t *Tanh) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.TanhAutograd(input), nil
}

func (t *Tanh) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{}
}

func (t *Tanh) Train() {
	t.training = true
}

func (t *Tanh) Eval() {
	t.training = false
}

func (t *Tanh) IsTraining() bool {
	return t.training
}

// LeakyReLU implements the leaky ReLU activation module.
type LeakyReLU struct {
	negativeSlope float32
	training      bool
}

func NewLeakyReLU(negativeSlope float32) *LeakyReLU {
	if negativeSlope <= 0 {
		negativeSlope = 0.2
	}
	return &LeakyReLU{negativeSlope: negativeSlope, training: true}
}

func (r *LeakyReLU) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.LeakyReLUAutograd(input, r.negativeSlope), nil
}

func (r *LeakyReLU) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{}
}

func (r *LeakyReLU) Train() {
	r.training = true
}

func (r *LeakyReLU) Eval() {
	r.training = false
}

func (r *LeakyReLU) IsTraining() bool {
	return r.training
}

// Flatten reshapes input tensors to [batch_size, -1].
type Flatten struct {
	training bool
}

func NewFlatten() *Flatten {
	return &Flatten{training: true}
}

func (f *Flatten) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) < 2 {
		return nil, fmt.Errorf("Flatten expects input with at least 2 dimensions, got shape %v", input.Shape)
	}

	batchSize := input.Shape[0]
	flattenedSize := input.NumElems / batchSize

	return tensor.ReshapeAutograd(input, []int{batchSize, flattenedSize}), nil
}

func (f *Flatten) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{}
}

func (f *Flatten) Train() {
	f.training = true
}

func (f *Flatten) Eval() {
	f.training = false
}

func (f *Flatten) IsTraining() bool {
	return f.training
}

// Unflatten restores a flattened batch to [batch_size, dims...].
type Unflatten struct {
	dims     []int
	training bool
}

func NewUnflatten(dims ...int) *Unflatten {
	return &Unflatten{dims: dims, training: true}
}

func (u *Unflatten) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 {
		return nil, fmt.Errorf("Unflatten expects 2D input [batch_size, features], got shape %v", input.Shape)
	}

	newShape := append([]int{input.Shape[0]}, u.dims...)
	return tensor.ReshapeAutograd(input, newShape), nil
}

func (u *Unflatten) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{}
}

func (u *Unflatten) Train() {
	u.training = true
}

func (u *Unflatten) Eval() {
	u.training = false
}

func (u *Unflatten) IsTraining() bool {
	return u.training
}

// Sequential chains multiple modules together.
type Sequential struct {
	modules  []Module
	training bool
}

func NewSequential(modules ...Module) *Sequential {
	return &Sequential{
		modules:  modules,
		training: true,
	}
}

func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	output := input
	var err error

	for i, module := range s.modules {
		output, err = module.Forward(output)
		if err != nil {
			return nil, fmt.Errorf("module %d forward failed: %v", i, err)
		}
	}

	return output, nil
}

func (s *Sequential) Parameters() []*tensor.Tensor {
	var allParams []*tensor.Tensor
	for _, module := range s.modules {
		allParams = append(allParams, module.Parameters()...)
	}
	return allParams
}

func (s *Sequential) Train() {
	s.training = true
	for _, module := range s.modules {
		module.Train()
	}
}

func (s *Sequential) Eval() {
	s.training = false
	for _, module := range s.modules {
		module.Eval()
	}
}

func (s *Sequential) IsTraining() bool {
	return s.training
}

// Add appends a module to the sequential container.
func (s *Sequential) Add(module Module) {
	s.modules = append(s.modules, module)
}
