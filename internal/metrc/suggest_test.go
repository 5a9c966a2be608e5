package metrc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggest(t *testing.T) {
	dictionary := []string{"Buds", "Shake/Trim", "Immature Plant", "Bulk"}

	cases := []struct {
		name  string
		value string
		want  []string
	}{
		{name: "single close match", value: "Bud", want: []string{"Buds"}},
		{name: "case insensitive", value: "immature plnt", want: []string{"Immature Plant"}},
		{name: "ties sorted", value: "Buls", want: []string{"Buds", "Bulk"}},
		{name: "nothing close", value: "Seeds", want: nil},
		{name: "empty", value: " ", want: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Suggest(tc.value, dictionary))
		})
	}
}

func TestValidateItemType(t *testing.T) {
	supported := []string{"Buds", "Shake/Trim"}

	require.NoError(t, ValidateItemType("Buds", supported))

	err := ValidateItemType("Seeds", supported)
	require.Error(t, err)
	assert.Equal(t, "The package item type 'Seeds' is not supported by Metrc. No similar types were found on Metrc.", message(err))
}

func TestValidateUnits(t *testing.T) {
	require.NoError(t, ValidateUnits([]ResourceUnit{{Unit: "Grams"}, {Unit: "Grams"}}))

	err := ValidateUnits([]ResourceUnit{{Unit: "Grams"}, {Unit: "Ounces"}, {Unit: "Grams"}})
	require.Error(t, err)
	assert.Contains(t, message(err), "Expected all resources in the package to be the same. Got: Grams, Ounces")
}
