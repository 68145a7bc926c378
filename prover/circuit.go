package prover

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark/frontend"

	"github.com/comreton-network/comreton-node/common"
)

const (
	// |z| < 2^62 for every pre-activation, so z + 2^62 fits 63 bits and its
	// top bit is the sign.
	signBits = 63
	// remainders live in [0, S^2) and S^2 = 10^6 < 2^20
	remainderBits = 20
)

// MLPCircuit proves that ModelOutput is the rounded output of the network
// with the private weights applied to the private input.
type MLPCircuit struct {
	WeightsL1  [InputSize][HiddenSize]frontend.Variable
	BiasesL1   [HiddenSize]frontend.Variable
	WeightsL2  [HiddenSize][OutputSize]frontend.Variable
	BiasesL2   [OutputSize]frontend.Variable
	ModelInput [InputSize]frontend.Variable
	Remainder  frontend.Variable

	ModelOutput frontend.Variable `gnark:",public"`
}

func (c *MLPCircuit) Define(api frontend.API) error {
	s := big.NewInt(common.ScalingFactor)
	s2 := new(big.Int).Mul(s, s)
	half := new(big.Int).Rsh(s2, 1)
	offset := new(big.Int).Lsh(big.NewInt(1), signBits-1)

	acc := api.Mul(c.BiasesL2[0], s2)
	for i := 0; i < HiddenSize; i++ {
		z := api.Mul(c.BiasesL1[i], s)
		for j := 0; j < InputSize; j++ {
			z = api.Add(z, api.Mul(c.WeightsL1[j][i], c.ModelInput[j]))
		}
		bits := api.ToBinary(api.Add(z, offset), signBits)
		h := api.Mul(bits[signBits-1], z)
		acc = api.Add(acc, api.Mul(h, c.WeightsL2[i][0]))
	}

	// out*S^2 + r == acc + S^2/2 with 0 <= r < S^2 and out bounded
	api.AssertIsEqual(api.Add(api.Mul(c.ModelOutput, s2), c.Remainder), api.Add(acc, half))
	api.ToBinary(c.Remainder, remainderBits)
	api.ToBinary(api.Sub(new(big.Int).Sub(s2, big.NewInt(1)), c.Remainder), remainderBits)
	api.ToBinary(api.Add(c.ModelOutput, offset), signBits)
	return nil
}

// Assign builds a full witness assignment from circuit inputs
func Assign(in *CircuitInputs) (*MLPCircuit, error) {
	if len(in.WeightsL1) != InputSize || len(in.BiasesL1) != HiddenSize ||
		len(in.WeightsL2) != HiddenSize || len(in.BiasesL2) != OutputSize ||
		len(in.ModelInput) != InputSize {
		return nil, fmt.Errorf("circuit inputs have wrong dimensions")
	}
	out, ok := new(big.Int).SetString(in.ModelOutput, 10)
	if !ok {
		return nil, fmt.Errorf("invalid model output %q", in.ModelOutput)
	}
	rem, ok := new(big.Int).SetString(in.Remainder, 10)
	if !ok {
		return nil, fmt.Errorf("invalid remainder %q", in.Remainder)
	}

	c := &MLPCircuit{Remainder: rem, ModelOutput: out}
	for j := 0; j < InputSize; j++ {
		if len(in.WeightsL1[j]) != HiddenSize {
			return nil, fmt.Errorf("weights_L1 row %d has wrong width", j)
		}
		for i := 0; i < HiddenSize; i++ {
			c.WeightsL1[j][i] = in.WeightsL1[j][i]
		}
		c.ModelInput[j] = in.ModelInput[j]
	}
	for i := 0; i < HiddenSize; i++ {
		if len(in.WeightsL2[i]) != OutputSize {
			return nil, fmt.Errorf("weights_L2 row %d has wrong width", i)
		}
		c.BiasesL1[i] = in.BiasesL1[i]
		c.WeightsL2[i][0] = in.WeightsL2[i][0]
	}
	c.BiasesL2[0] = in.BiasesL2[0]
	return c, nil
}
