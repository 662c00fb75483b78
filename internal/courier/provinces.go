package courier

import "strings"

// DefaultProvinceID is used for any region the courier table does not know (Yerevan)
const DefaultProvinceID = 11

// provinceIDs maps normalized region names and ISO 3166-2:AM codes to courier province IDs
var provinceIDs = map[string]int{
	"aragatsotn":  1,
	"am-ag":       1,
	"ararat":      2,
	"am-ar":       2,
	"armavir":     3,
	"am-av":       3,
	"gegharkunik": 4,
	"am-gr":       4,
	"kotayk":      5,
	"am-kt":       5,
	"lori":        6,
	"am-lo":       6,
	"shirak":      7,
	"am-sh":       7,
	"syunik":      8,
	"am-su":       8,
	"tavush":      9,
	"am-tv":       9,
	"vayots dzor": 10,
	"am-vd":       10,
	"yerevan":     11,
	"am-er":       11,
}

// ProvinceID looks up the courier province code for a region name or code
func ProvinceID(region string) int {
	key := normalizeRegion(region)
	if id, ok := provinceIDs[key]; ok {
		return id
	}
	return DefaultProvinceID
}

func normalizeRegion(region string) string {
	r := strings.ToLower(strings.TrimSpace(region))
	r = strings.ReplaceAll(r, "_", " ")
	if !strings.HasPrefix(r, "am-") {
		r = strings.ReplaceAll(r, "-", " ")
	}
	for _, suffix := range []string{" province", " marz", " region", " city"} {
		r = strings.TrimSuffix(r, suffix)
	}
	return strings.Join(strings.Fields(r), " ")
}
