package mc

import (
	"fmt"
	"math"
	"math/rand"

	"plegma/internal/ensemble"
	"plegma/internal/model"
)

// BoltzmannEV is the Boltzmann constant in eV/K.
const BoltzmannEV = 8.617333262e-5

// KernelKind selects an acceptance rule.
type KernelKind int

const (
	KernelMetropolis KernelKind = iota
	KernelUniformlyRandom
)

func (k KernelKind) String() string {
	switch k {
	case KernelMetropolis:
		return "metropolis"
	case KernelUniformlyRandom:
		return "uniform"
	default:
		return fmt.Sprintf("KernelKind(%d)", int(k))
	}
}

// ParseKernelKind maps a configuration name to a kernel kind.
func ParseKernelKind(name string) (KernelKind, error) {
	for _, k := range KernelKinds() {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown kernel kind %q (valid: metropolis, uniform)", name)
}

func KernelKinds() []KernelKind {
	return []KernelKind{KernelMetropolis, KernelUniformlyRandom}
}

// StepResult reports one attempted step. Step, DeltaFeatures and
// DeltaPotential are populated whenever a step was evaluated, accepted or
// not; a proposal dead-end leaves them nil and zero.
type StepResult struct {
	Accepted       bool
	Step           []model.Flip
	DeltaFeatures  []float64
	DeltaPotential float64
}

// Kernel advances one walker by single Markov-chain steps. SingleStep
// mutates the caller-owned occupancy only when the step is accepted.
// SetAuxState forwards the walker's occupancy to the usher.
type Kernel interface {
	Kind() KernelKind
	SingleStep(occ []int) (StepResult, error)
	SetAuxState(occ []int) error
	Usher() Usher
}

// NewKernel builds a kernel over an ensemble, usher and bias. temperature is
// required positive for metropolis and ignored by uniform; a nil bias means
// no bias. The step kind must be legal for the ensemble kind.
func NewKernel(kind KernelKind, ens ensemble.Ensemble, usher Usher, bias Bias, temperature float64, rng *rand.Rand) (Kernel, error) {
	if ens == nil {
		return nil, fmt.Errorf("kernel requires an ensemble")
	}
	if usher == nil {
		return nil, fmt.Errorf("kernel requires an usher")
	}
	if rng == nil {
		return nil, fmt.Errorf("kernel requires a random source")
	}
	if err := CheckStepKind(ens.Kind(), usher.Kind()); err != nil {
		return nil, err
	}
	if bias == nil {
		bias = NoBias{}
	}
	switch kind {
	case KernelMetropolis:
		if temperature <= 0 {
			return nil, fmt.Errorf("metropolis kernel temperature is %v, want > 0", temperature)
		}
		return &Metropolis{
			ens:         ens,
			usher:       usher,
			bias:        bias,
			params:      ens.NaturalParameters(),
			temperature: temperature,
			beta:        1 / (BoltzmannEV * temperature),
			rng:         rng,
		}, nil
	case KernelUniformlyRandom:
		return &UniformlyRandom{
			ens:    ens,
			usher:  usher,
			params: ens.NaturalParameters(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown kernel kind %q", kind)
	}
}

// acceptMetropolis applies the Metropolis criterion to an acceptance
// exponent. A non-negative exponent accepts without consuming a random draw;
// otherwise a single fresh uniform deviate decides. The draw discipline is
// part of the fixed-seed reproducibility contract and must not change.
func acceptMetropolis(exponent float64, rng *rand.Rand) bool {
	if exponent >= 0 {
		return true
	}
	return math.Log(rng.Float64()) < exponent
}

func dot(a, b []float64) float64 {
	total := 0.0
	for i := range a {
		total += a[i] * b[i]
	}
	return total
}

// Metropolis samples the Boltzmann distribution of the ensemble potential at
// a fixed temperature, with an optional bias added to the exponent.
type Metropolis struct {
	ens         ensemble.Ensemble
	usher       Usher
	bias        Bias
	params      []float64
	temperature float64
	beta        float64
	rng         *rand.Rand
}

func (k *Metropolis) Kind() KernelKind {
	return KernelMetropolis
}

func (k *Metropolis) Temperature() float64 {
	return k.temperature
}

func (k *Metropolis) Beta() float64 {
	return k.beta
}

func (k *Metropolis) Usher() Usher {
	return k.usher
}

func (k *Metropolis) Bias() Bias {
	return k.bias
}

func (k *Metropolis) SetAuxState(occ []int) error {
	return k.usher.SetAuxState(occ)
}

func (k *Metropolis) SingleStep(occ []int) (StepResult, error) {
	step, err := k.usher.ProposeStep(occ)
	if err != nil {
		return StepResult{}, fmt.Errorf("propose step: %w", err)
	}
	if len(step) == 0 {
		return StepResult{}, nil
	}
	dF, err := k.ens.ComputeFeatureVectorChange(occ, step)
	if err != nil {
		return StepResult{}, fmt.Errorf("feature change: %w", err)
	}
	dP := dot(k.params, dF)
	dB, err := k.bias.ComputeBiasChange(occ, step)
	if err != nil {
		return StepResult{}, fmt.Errorf("bias change: %w", err)
	}

	result := StepResult{Step: step, DeltaFeatures: dF, DeltaPotential: dP}
	if acceptMetropolis(-k.beta*dP+dB, k.rng) {
		ApplyStep(occ, step)
		if err := k.usher.UpdateAuxState(step); err != nil {
			return StepResult{}, fmt.Errorf("update aux state: %w", err)
		}
		result.Accepted = true
	}
	return result, nil
}

// UniformlyRandom accepts every non-empty proposed step, sampling the
// infinite-temperature limit. It evaluates deltas so walkers can keep
// running totals, ignores any bias, and draws no acceptance deviates.
type UniformlyRandom struct {
	ens    ensemble.Ensemble
	usher  Usher
	params []float64
}

func (k *UniformlyRandom) Kind() KernelKind {
	return KernelUniformlyRandom
}

func (k *UniformlyRandom) Usher() Usher {
	return k.usher
}

func (k *UniformlyRandom) SetAuxState(occ []int) error {
	return k.usher.SetAuxState(occ)
}

func (k *UniformlyRandom) SingleStep(occ []int) (StepResult, error) {
	step, err := k.usher.ProposeStep(occ)
	if err != nil {
		return StepResult{}, fmt.Errorf("propose step: %w", err)
	}
	if len(step) == 0 {
		return StepResult{}, nil
	}
	dF, err := k.ens.ComputeFeatureVectorChange(occ, step)
	if err != nil {
		return StepResult{}, fmt.Errorf("feature change: %w", err)
	}
	dP := dot(k.params, dF)
	ApplyStep(occ, step)
	if err := k.usher.UpdateAuxState(step); err != nil {
		return StepResult{}, fmt.Errorf("update aux state: %w", err)
	}
	return StepResult{Accepted: true, Step: step, DeltaFeatures: dF, DeltaPotential: dP}, nil
}
