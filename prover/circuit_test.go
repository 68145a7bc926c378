package prover

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"
	"github.com/stretchr/testify/require"
)

func assignment(t *testing.T, input []int64) *MLPCircuit {
	in, err := DefaultModel().Inputs(input)
	require.NoError(t, err)
	c, err := Assign(in)
	require.NoError(t, err)
	return c
}

func TestCircuitSolved(t *testing.T) {
	for _, input := range [][]int64{{1500, -2000}, {2000, 1000}, {-10000, 0}, {0, 0}} {
		err := test.IsSolved(&MLPCircuit{}, assignment(t, input), ecc.BN254.ScalarField())
		require.NoError(t, err, "input %v", input)
	}
}

func TestCircuitRejectsWrongOutput(t *testing.T) {
	c := assignment(t, []int64{2000, 1000})
	c.ModelOutput = big.NewInt(294)
	require.Error(t, test.IsSolved(&MLPCircuit{}, c, ecc.BN254.ScalarField()))

	// shifting the output while compensating the remainder breaks its range
	c = assignment(t, []int64{2000, 1000})
	c.ModelOutput = big.NewInt(292)
	c.Remainder = big.NewInt(1500000)
	require.Error(t, test.IsSolved(&MLPCircuit{}, c, ecc.BN254.ScalarField()))
}

func TestAssignRejectsBadInputs(t *testing.T) {
	in, err := DefaultModel().Inputs([]int64{1, 2})
	require.NoError(t, err)
	in.ModelOutput = "abc"
	_, err = Assign(in)
	require.Error(t, err)

	in, err = DefaultModel().Inputs([]int64{1, 2})
	require.NoError(t, err)
	in.BiasesL1 = in.BiasesL1[:1]
	_, err = Assign(in)
	require.Error(t, err)
}
