package training

import (
	"fmt"
	"math"
	"sync"

	"github.com/rainmetry/rainmetry/tensor"
)

// Optimizer interface defines the methods that all optimizers must
// implement. An optimizer may span the parameters of several modules (the
// adversarial trainer drives one optimizer over both translators and one
// over both critics).
type Optimizer interface {
	Step() error                  // updates parameters from accumulated gradients
	ZeroGrad()                    // resets gradients for all parameters
	GetLR() float64               // current learning rate
	SetLR(lr float64)             // sets learning rate
	Parameters() []*tensor.Tensor // parameter group iteration
}

// SGD implements stochastic gradient descent with optional momentum.
type SGD struct {
	parameters   []*tensor.Tensor
	learningRate float64
	momentum     float64
	velocities   map[*tensor.Tensor]*tensor.Tensor
	mutex        sync.RWMutex
}

// NewSGD creates a new SGD optimizer.
func NewSGD(parameters []*tensor.Tensor, lr float64, momentum float64) *SGD {
	sgd := &SGD{
		parameters:   parameters,
		learningRate: lr,
		momentum:     momentum,
		velocities:   make(map[*tensor.Tensor]*tensor.Tensor),
	}

	if momentum > 0 {
		for _, param := range parameters {
			if param.RequiresGrad() {
				velocity, _ := tensor.Zeros(param.Shape, param.DType, param.Device)
				sgd.velocities[param] = velocity
			}
		}
	}

	return sgd
}

// Step performs a single optimization step.
func (sgd *SGD) Step() error {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	for _, param := range sgd.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}

		grad := param.Grad()

		if sgd.momentum > 0 {
			velocity := sgd.velocities[param]
			if velocity == nil {
				v, err := tensor.Zeros(param.Shape, param.DType, param.Device)
				if err != nil {
					return fmt.Errorf("velocity initialization failed: %v", err)
				}
				velocity = v
				sgd.velocities[param] = velocity
			}

			// velocity = momentum * velocity + grad
			momentumTerm, err := tensor.Scale(velocity, sgd.momentum)
			if err != nil {
				return fmt.Errorf("momentum term calculation failed: %v", err)
			}

			newVelocity, err := tensor.Add(momentumTerm, grad)
			if err != nil {
				return fmt.Errorf("velocity update failed: %v", err)
			}

			if err := velocity.SetData(newVelocity.Data); err != nil {
				return fmt.Errorf("velocity data update failed: %v", err)
			}

			grad = newVelocity
		}

		// param = param - lr * grad
		lrGrad, err := tensor.Scale(grad, sgd.learningRate)
		if err != nil {
			return fmt.Errorf("learning rate scaling failed: %v", err)
		}

		newData, err := tensor.Sub(param, lrGrad)
		if err != nil {
			return fmt.Errorf("parameter update failed: %v", err)
		}

		if err := param.SetData(newData.Data); err != nil {
			return fmt.Errorf("parameter data update failed: %v", err)
		}
	}

	return nil
}

func (sgd *SGD) ZeroGrad() {
	tensor.ZeroGrad(sgd.parameters)
}

func (sgd *SGD) GetLR() float64 {
	sgd.mutex.RLock()
	defer sgd.mutex.RUnlock()
	return sgd.learningRate
}

func (sgd *SGD) SetLR(lr float64) {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()
	sgd.learningRate = lr
}

func (sgd *SGD) Parameters() []*tensor.Tensor {
	return sgd.parameters
}

// Adam implements the Adam optimizer.
type Adam struct {
	parameters []*tensor.Tensor
	lr         float64
	beta1      float64
	beta2      float64
	eps        float64
	step       int64
	m          map[*tensor.Tensor]*tensor.Tensor // first moment estimates
	v          map[*tensor.Tensor]*tensor.Tensor // second moment estimates
	mutex      sync.RWMutex
}

// NewAdam creates a new Adam optimizer.
func NewAdam(parameters []*tensor.Tensor, lr, beta1, beta2, eps float64) *Adam {
	adam := &Adam{
		parameters: parameters,
		lr:         lr,
		beta1:      beta1,
		beta2:      beta2,
		eps:        eps,
		m:          make(map[*tensor.Tensor]*tensor.Tensor),
		v:          make(map[*tensor.Tensor]*tensor.Tensor),
	}

	for _, param := range parameters {
		if param.RequiresGrad() {
			m, _ := tensor.Zeros(param.Shape, param.DType, param.Device)
			v, _ := tensor.Zeros(param.Shape, param.DType, param.Device)
			adam.m[param] = m
			adam.v[param] = v
		}
	}

	return adam
}

// Step performs a single optimization step.
func (adam *Adam) Step() error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	adam.step++

	// Bias correction factors
	bias1 := 1.0 - math.Pow(adam.beta1, float64(adam.step))
	bias2 := 1.0 - math.Pow(adam.beta2, float64(adam.step))

	for _, param := range adam.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}

		grad := param.Grad()

		m := adam.m[param]
		v := adam.v[param]
		if m == nil || v == nil {
			mNew, err := tensor.Zeros(param.Shape, param.DType, param.Device)
			if err != nil {
				return fmt.Errorf("first moment initialization failed: %v", err)
			}
			vNew, err := tensor.Zeros(param.Shape, param.DType, param.Device)
			if err != nil {
				return fmt.Errorf("second moment initialization failed: %v", err)
			}
			m = mNew
			v = vNew
			adam.m[param] = m
			adam.v[param] = v
		}

		// m = beta1 * m + (1 - beta1) * grad
		beta1Term, err := tensor.Scale(m, adam.beta1)
		if err != nil {
			return fmt.Errorf("first moment beta1 term failed: %v", err)
		}

		gradTerm, err := tensor.Scale(grad, 1.0-adam.beta1)
		if err != nil {
			return fmt.Errorf("first moment grad term failed: %v", err)
		}

		newM, err := tensor.Add(beta1Term, gradTerm)
		if err != nil {
			return fmt.Errorf("first moment update failed: %v", err)
		}

		// v = beta2 * v + (1 - beta2) * grad^2
		beta2Term, err := tensor.Scale(v, adam.beta2)
		if err != nil {
			return fmt.Errorf("second moment beta2 term failed: %v", err)
		}

		gradSquared, err := tensor.Mul(grad, grad)
		if err != nil {
			return fmt.Errorf("gradient squaring failed: %v", err)
		}

		gradSquaredTerm, err := tensor.Scale(gradSquared, 1.0-adam.beta2)
		if err != nil {
			return fmt.Errorf("second moment grad squared term failed: %v", err)
		}

		newV, err := tensor.Add(beta2Term, gradSquaredTerm)
		if err != nil {
			return fmt.Errorf("second moment update failed: %v", err)
		}

		if err := m.SetData(newM.Data); err != nil {
			return fmt.Errorf("first moment data update failed: %v", err)
		}
		if err := v.SetData(newV.Data); err != nil {
			return fmt.Errorf("second moment data update failed: %v", err)
		}

		// Bias-corrected estimates
		mHat, err := tensor.Scale(newM, 1.0/bias1)
		if err != nil {
			return fmt.Errorf("first moment bias correction failed: %v", err)
		}

		vHat, err := tensor.Scale(newV, 1.0/bias2)
		if err != nil {
			return fmt.Errorf("second moment bias correction failed: %v", err)
		}

		// update = lr * m_hat / (sqrt(v_hat) + eps)
		vHatSqrt, err := tensor.Sqrt(vHat)
		if err != nil {
			return fmt.Errorf("second moment sqrt failed: %v", err)
		}

		denominator, err := tensor.Add(vHatSqrt, tensor.FromScalar(adam.eps, param.DType, param.Device))
		if err != nil {
			return fmt.Errorf("denominator computation failed: %v", err)
		}

		update, err := tensor.Div(mHat, denominator)
		if err != nil {
			return fmt.Errorf("update division failed: %v", err)
		}

		lrUpdate, err := tensor.Scale(update, adam.lr)
		if err != nil {
			return fmt.Errorf("learning rate scaling failed: %v", err)
		}

		newData, err := tensor.Sub(param, lrUpdate)
		if err != nil {
			return fmt.Errorf("parameter update failed: %v", err)
		}

		if err := param.SetData(newData.Data); err != nil {
			return fmt.Errorf("parameter data update failed: %v", err)
		}
	}

	return nil
}

func (adam *Adam) ZeroGrad() {
	tensor.ZeroGrad(adam.parameters)
}

func (adam *Adam) GetLR() float64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.lr
}

func (adam *Adam) SetLR(lr float64) {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()
	adam.lr = lr
}

func (adam *Adam) Parameters() []*tensor.Tensor {
	return adam.parameters
}
