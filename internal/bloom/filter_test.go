package bloom

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestOptimalParameters(t *testing.T) {
	bits, hashes := OptimalParameters(1000, 0.01)
	// ~9.59 bits per item and 7 hashes for 1%
	assert.InDelta(t, 9586, bits, 5)
	assert.Equal(t, 7, hashes)

	bits, hashes = OptimalParameters(0, 2)
	assert.GreaterOrEqual(t, bits, 64)
	assert.GreaterOrEqual(t, hashes, 1)
}

func TestFilter_AddedSensorsAreFound(t *testing.T) {
	ids := []string{"esp32-freezer-1", "esp32-freezer-2", "compressor-A"}
	f := FromSensors(ids, DefaultFPR)

	for _, id := range ids {
		assert.True(t, f.MayContain(id), id)
	}
	assert.Equal(t, 3, f.Count())
}

func TestFilter_EmptyRejectsEverything(t *testing.T) {
	f := FromSensors(nil, DefaultFPR)
	assert.False(t, f.MayContain("esp32-1"))
	assert.Zero(t, f.FalsePositiveRate())
}

func TestFilter_FalsePositiveRateBounded(t *testing.T) {
	const n = 2000
	f := New(n, 0.01)
	for i := 0; i < n; i++ {
		f.Add(fmt.Sprintf("sensor-%d", i))
	}

	fp := 0
	for i := 0; i < 10000; i++ {
		if f.MayContain(fmt.Sprintf("other-%d", i)) {
			fp++
		}
	}
	assert.Less(t, float64(fp)/10000, 0.03)
	assert.InDelta(t, 0.01, f.FalsePositiveRate(), 0.01)
}

// Property: a filter never reports a sensor it was built from as absent.
func TestFilter_NoFalseNegativesProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("no false negatives", prop.ForAll(
		func(ids []string) bool {
			f := FromSensors(ids, DefaultFPR)
			for _, id := range ids {
				if !f.MayContain(id) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
