package adapters

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/floats"
)

// =============================================================================
// 🧪 确定性向量测试
// =============================================================================

func TestDeterministicVector_Reproducible(t *testing.T) {
	a := DeterministicVector("seed-1")
	b := DeterministicVector("seed-1")
	c := DeterministicVector("seed-2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, EmbeddingDim)
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("Find the red SUV, identify person_p1!")
	assert.Equal(t, []string{"find", "the", "red", "suv", "identify", "person", "p1"}, tokens)
}

func TestOverlapScore(t *testing.T) {
	assert.InDelta(t, 1.0, OverlapScore([]string{"red", "suv"}, []string{"red", "suv"}), 1e-9)
	assert.InDelta(t, 0.5, OverlapScore([]string{"red", "suv"}, []string{"red", "sedan"}), 1e-9)
	assert.Zero(t, OverlapScore([]string{"red"}, []string{"blue"}))
	assert.Zero(t, OverlapScore(nil, []string{"blue"}))
}

func TestProperty_DeterministicVector_UnitNorm(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every seed yields a unit vector", prop.ForAll(
		func(seed string) bool {
			v := DeterministicVector(seed)
			return math.Abs(floats.Norm(v, 2)-1.0) < 1e-9
		},
		gen.AnyString(),
	))

	properties.Property("cosine of unit vectors stays in [-1,1]", prop.ForAll(
		func(seedA, seedB string) bool {
			cos := Cosine(DeterministicVector(seedA), DeterministicVector(seedB))
			return cos >= -1.0-1e-9 && cos <= 1.0+1e-9
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestCosineUnit_Bounds(t *testing.T) {
	v := DeterministicVector("x")
	assert.InDelta(t, 1.0, CosineUnit(v, v), 1e-9)

	neg := make([]float64, len(v))
	for i := range v {
		neg[i] = -v[i]
	}
	assert.InDelta(t, 0.0, CosineUnit(v, neg), 1e-9)
}

func TestBlend_NormalizesWeightedSum(t *testing.T) {
	a := DeterministicVector("a")
	b := DeterministicVector("b")
	blended := Blend(a, b, 0.9, 0.1)

	assert.InDelta(t, 1.0, floats.Norm(blended, 2), 1e-9)
	assert.Greater(t, Cosine(blended, a), Cosine(blended, b))
}
