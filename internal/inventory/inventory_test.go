package inventory

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMergesStacks(t *testing.T) {
	var inv Inventory
	require.NoError(t, inv.Add("wood", 3, 2))
	require.NoError(t, inv.Add("wood", 2, 2))
	require.NoError(t, inv.Add("stone", 1, 2))
	assert.ErrorIs(t, inv.Add("MPSD", 1, 2), ErrFull)
	assert.Error(t, inv.Add("wood", 0, 0))

	assert.Equal(t, Inventory{{"wood", 5}, {"stone", 1}}, inv)
}

func TestConsumeAllOrNothing(t *testing.T) {
	inv := Inventory{{"wood", 2}, {"stone", 1}}

	assert.False(t, inv.Consume("wood", 3))
	assert.Equal(t, 2, inv.Count("wood"), "при нехватке ничего не списывается")

	assert.True(t, inv.Consume("wood", 2))
	assert.Equal(t, Inventory{{"stone", 1}}, inv, "пустая стопка удаляется")
	assert.False(t, inv.Consume("stone", 0))
}

func TestUnmarshalLegacyFormats(t *testing.T) {
	cases := map[string]struct {
		in   string
		want Inventory
	}{
		"стопки":  {`[{"toolId":"wood","quantity":4}]`, Inventory{{"wood", 4}}},
		"строки":  {`["MPSD","Sniper","MPSD"]`, Inventory{{"MPSD", 2}, {"Sniper", 1}}},
		"обёртка": {`{"inventory":[{"toolId":"stone","quantity":1}]}`, Inventory{{"stone", 1}}},
		"null":    {`null`, Inventory{}},
		"смесь":   {`["axe",{"toolId":"wood","quantity":2},{"toolId":"","quantity":3}]`, Inventory{{"axe", 1}, {"wood", 2}}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var inv Inventory
			require.NoError(t, json.Unmarshal([]byte(tc.in), &inv))
			assert.Equal(t, tc.want, inv)
		})
	}
}

func TestParseAndString(t *testing.T) {
	assert.Equal(t, Inventory{}, Parse("not json"))
	assert.Equal(t, "[]", Inventory(nil).String())

	inv := Of("MPSD", "Sniper")
	assert.Equal(t, `[{"toolId":"MPSD","quantity":1},{"toolId":"Sniper","quantity":1}]`, inv.String())
	assert.Equal(t, inv, Parse(inv.String()))
}

func TestCloneIsIndependent(t *testing.T) {
	inv := Inventory{{"wood", 1}}
	cp := inv.Clone()
	cp[0].Quantity = 9
	assert.Equal(t, 1, inv[0].Quantity)
	assert.Equal(t, Inventory{}, Inventory(nil).Clone())
}

func TestNormalize(t *testing.T) {
	inv := Inventory{{"wood", 1}, {"", 5}, {"wood", 2}, {"stone", 0}}
	assert.Equal(t, Inventory{{"wood", 3}}, inv.Normalize())
}
