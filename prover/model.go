package prover

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strconv"

	"github.com/comreton-network/comreton-node/common"
)

// Layer sizes of the inference circuit
const (
	InputSize  = 2
	HiddenSize = 3
	OutputSize = 1
)

// Model holds the scaled integer parameters of a two layer perceptron with a
// ReLU hidden layer. Every value is already multiplied by ScalingFactor.
type Model struct {
	WeightsL1   [][]int64 `json:"weights_l1"`
	BiasesL1    []int64   `json:"biases_l1"`
	WeightsL2   [][]int64 `json:"weights_l2"`
	BiasesL2    []int64   `json:"biases_l2"`
	SampleInput []int64   `json:"sample_input"`
}

// DefaultModel is the demo network registered as model #0
func DefaultModel() *Model {
	return &Model{
		WeightsL1:   [][]int64{{100, -100, 50}, {200, -50, 150}},
		BiasesL1:    []int64{10, 20, -10},
		WeightsL2:   [][]int64{{300}, {-200}, {500}},
		BiasesL2:    []int64{50},
		SampleInput: []int64{1500, -2000},
	}
}

func LoadModel(path string) (*Model, error) {
	raw, err := os.ReadFile(os.ExpandEnv(path))
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	var m Model
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return &m, nil
}

func (m *Model) Validate() error {
	if len(m.WeightsL1) != InputSize {
		return fmt.Errorf("weights_l1 must have %d rows", InputSize)
	}
	for _, row := range m.WeightsL1 {
		if len(row) != HiddenSize {
			return fmt.Errorf("weights_l1 rows must have %d columns", HiddenSize)
		}
	}
	if len(m.BiasesL1) != HiddenSize {
		return fmt.Errorf("biases_l1 must have %d entries", HiddenSize)
	}
	if len(m.WeightsL2) != HiddenSize {
		return fmt.Errorf("weights_l2 must have %d rows", HiddenSize)
	}
	for _, row := range m.WeightsL2 {
		if len(row) != OutputSize {
			return fmt.Errorf("weights_l2 rows must have %d columns", OutputSize)
		}
	}
	if len(m.BiasesL2) != OutputSize {
		return fmt.Errorf("biases_l2 must have %d entries", OutputSize)
	}
	if m.SampleInput != nil && len(m.SampleInput) != InputSize {
		return fmt.Errorf("sample_input must have %d entries", InputSize)
	}
	return nil
}

// CircuitInputs is the named input object fed to the circuit. Field names
// match the circom signal names.
type CircuitInputs struct {
	WeightsL1   [][]int64 `json:"weights_L1"`
	BiasesL1    []int64   `json:"biases_L1"`
	WeightsL2   [][]int64 `json:"weights_L2"`
	BiasesL2    []int64   `json:"biases_L2"`
	ModelInput  []int64   `json:"model_input"`
	ModelOutput string    `json:"model_output"`

	// not part of the circom input, consumed by the native circuit
	Hidden    []string `json:"-"`
	Remainder string   `json:"-"`
}

// Inference is the fixed-point forward pass of a model on one input
type Inference struct {
	Hidden    [HiddenSize]*big.Int
	Raw       *big.Int // output before rescaling, scaled by S^2
	Output    *big.Int // round(Raw / S^2), halves rounded up
	Remainder *big.Int // Raw + S^2/2 - Output*S^2, in [0, S^2)
}

// Forward evaluates the network. With S the scaling factor:
//
//	z_i = sum_j w1[j][i]*x[j] + b1[i]*S,  h_i = max(0, z_i)
//	y   = sum_i h_i*w2[i] + b2*S^2
//	out = round(y / S^2)
func (m *Model) Forward(input []int64) (*Inference, error) {
	if len(input) != InputSize {
		return nil, fmt.Errorf("model input must have %d entries, got %d", InputSize, len(input))
	}
	s := big.NewInt(common.ScalingFactor)
	s2 := new(big.Int).Mul(s, s)

	inf := &Inference{}
	y := new(big.Int).Mul(big.NewInt(m.BiasesL2[0]), s2)
	for i := 0; i < HiddenSize; i++ {
		z := new(big.Int).Mul(big.NewInt(m.BiasesL1[i]), s)
		for j := 0; j < InputSize; j++ {
			z.Add(z, new(big.Int).Mul(big.NewInt(m.WeightsL1[j][i]), big.NewInt(input[j])))
		}
		if z.Sign() < 0 {
			z.SetInt64(0)
		}
		inf.Hidden[i] = z
		y.Add(y, new(big.Int).Mul(z, big.NewInt(m.WeightsL2[i][0])))
	}
	inf.Raw = y

	// floor((y + S^2/2) / S^2); big.Int.DivMod is euclidean, i.e. floor for a positive divisor
	shifted := new(big.Int).Add(y, new(big.Int).Rsh(s2, 1))
	inf.Output, inf.Remainder = new(big.Int).DivMod(shifted, s2, new(big.Int))
	return inf, nil
}

// Inputs builds the circuit inputs of the model applied to input
func (m *Model) Inputs(input []int64) (*CircuitInputs, error) {
	inf, err := m.Forward(input)
	if err != nil {
		return nil, err
	}
	hidden := make([]string, HiddenSize)
	for i, h := range inf.Hidden {
		hidden[i] = h.String()
	}
	return &CircuitInputs{
		WeightsL1:   m.WeightsL1,
		BiasesL1:    m.BiasesL1,
		WeightsL2:   m.WeightsL2,
		BiasesL2:    m.BiasesL2,
		ModelInput:  input,
		ModelOutput: inf.Output.String(),
		Hidden:      hidden,
		Remainder:   inf.Remainder.String(),
	}, nil
}

// Catalog resolves the model of a job
type Catalog struct {
	models   map[uint64]*Model
	fallback *Model
}

// NewCatalog loads the models listed in paths (model id -> file). With no
// entries every job runs the default model.
func NewCatalog(paths map[string]string) (*Catalog, error) {
	c := &Catalog{models: map[uint64]*Model{}}
	if len(paths) == 0 {
		c.fallback = DefaultModel()
		return c, nil
	}
	for idStr, path := range paths {
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid model id %q: %w", idStr, err)
		}
		m, err := LoadModel(path)
		if err != nil {
			return nil, err
		}
		c.models[id] = m
	}
	return c, nil
}

func (c *Catalog) Model(id uint64) (*Model, error) {
	if m, ok := c.models[id]; ok {
		return m, nil
	}
	if c.fallback != nil {
		return c.fallback, nil
	}
	return nil, fmt.Errorf("unknown model %d", id)
}

// JobInputs identifies a job and carries its opaque input payload
type JobInputs struct {
	JobID   uint64
	ModelID uint64
	Payload []byte
}

// BuildInputs turns a job into circuit inputs. An empty payload runs the
// model's sample input, otherwise the payload is a JSON array of scaled
// integers.
func (c *Catalog) BuildInputs(job JobInputs) (*CircuitInputs, error) {
	m, err := c.Model(job.ModelID)
	if err != nil {
		return nil, stageErr(StageWitnessGeneration, err, "job %d", job.JobID)
	}
	var input []int64
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &input); err != nil {
			return nil, stageErr(StageWitnessGeneration, err, "job %d: decode input payload", job.JobID)
		}
	} else {
		input = append([]int64(nil), m.SampleInput...)
	}
	in, err := m.Inputs(input)
	if err != nil {
		return nil, stageErr(StageWitnessGeneration, err, "job %d", job.JobID)
	}
	return in, nil
}
