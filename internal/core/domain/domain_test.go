package domain

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductApply(t *testing.T) {
	name := "Gadget"
	stock := 3
	p := Product{
		Code:         1234567890123,
		Name:         "Widget",
		Stock:        7,
		RackPosition: "A1",
		Attributes:   map[string]any{"color": "red"},
		UpdatedAt:    "old",
	}

	out := p.Apply(ProductPatch{
		Name:       &name,
		Stock:      &stock,
		Attributes: map[string]any{"size": "L"},
		UpdatedAt:  "new",
	})

	assert.Equal(t, "Gadget", out.Name)
	assert.Equal(t, 3, out.Stock)
	assert.Equal(t, "A1", out.RackPosition)
	assert.Equal(t, "new", out.UpdatedAt)
	assert.Equal(t, map[string]any{"color": "red", "size": "L"}, out.Attributes)
	// the receiver is left alone
	assert.Equal(t, map[string]any{"color": "red"}, p.Attributes)
}

func TestRack(t *testing.T) {
	r := Rack{Label: "A1", Capacity: 10}
	assert.True(t, r.Available())
	assert.True(t, r.Fits(10))
	assert.False(t, r.Fits(11))

	r.Occupied = 4
	assert.False(t, r.Available())
}

func TestRackAccepts(t *testing.T) {
	r := Rack{Label: "A1", Capacity: 10}
	assert.True(t, r.Accepts(4, 6))
	assert.False(t, r.Accepts(4, 7))
	assert.False(t, r.Accepts(4, math.MaxInt))
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "A1", NormalizeLabel(" a1 "))
	assert.Equal(t, "B-02", NormalizeLabel("b-02"))
}

func TestTransactionReferences(t *testing.T) {
	txn := Transaction{
		Status: TransactionStatusOpen,
		Items:  []TransactionItem{{ProductCode: 1}, {ProductCode: 2}},
	}
	assert.True(t, txn.Open())
	assert.True(t, txn.References(2))
	assert.False(t, txn.References(3))
}

func TestClassify(t *testing.T) {
	wrapped := fmt.Errorf("rack A1: %w", ErrRackOccupied)

	de, ok := Classify(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindNotAcceptable, de.Kind())
	assert.Equal(t, "rack_occupied", de.Code())
	assert.Equal(t, KindNotAcceptable, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(fmt.Errorf("boom")))
	assert.Equal(t, "locked", KindLocked.String())
}
