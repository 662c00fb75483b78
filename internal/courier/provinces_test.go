package courier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProvinceID(t *testing.T) {
	tests := map[string]int{
		"Aragatsotn":      1,
		"ararat":          2,
		"Armavir":         3,
		"Gegharkunik":     4,
		"Kotayk Province": 5,
		"Lori":            6,
		"Shirak":          7,
		" Syunik ":        8,
		"Tavush":          9,
		"Vayots Dzor":     10,
		"Vayots-Dzor":     10,
		"Yerevan":         11,
		"AM-SH":           7,
		"am-vd":           10,
		"":                DefaultProvinceID,
		"Unknown Region":  DefaultProvinceID,
		"California":      DefaultProvinceID,
	}
	for region, want := range tests {
		assert.Equal(t, want, ProvinceID(region), region)
	}
}
