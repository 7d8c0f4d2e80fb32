package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCostForKnownModel(t *testing.T) {
	pt := DefaultPriceTable()
	cost := pt.CostFor(1_000_000, 1_000_000, "gpt-4o-mini")
	assert.InDelta(t, 0.15+0.60, cost, 0.0001)
}

func TestCostForUnknownModelUsesDefault(t *testing.T) {
	pt := DefaultPriceTable()
	cost := pt.CostFor(1_000_000, 1_000_000, "some-future-model")
	assert.InDelta(t, pt.DefaultPrice.InputPerMillion+pt.DefaultPrice.OutputPerMillion, cost, 0.0001)
}

func TestCostForZeroTokens(t *testing.T) {
	pt := DefaultPriceTable()
	assert.Zero(t, pt.CostFor(0, 0, "gpt-4o"))
}
