package geocoding

import "strings"

// FormatAddress builds a one-line address from the most specific parts
// first: named object, street with house number, then suburb up to country.
// It falls back to DisplayName when the result carries no address parts.
func FormatAddress(r Result) string {
	if r.Address == nil {
		return r.DisplayName
	}
	a := r.Address

	var parts []string
	add := func(s string) {
		if s != "" {
			parts = append(parts, s)
		}
	}

	add(a.Building)
	add(a.Amenity)
	if a.Shop != "" {
		add("Shop: " + a.Shop)
	}
	add(a.Tourism)
	add(a.Leisure)
	add(a.Historic)

	if a.Road != "" {
		if a.HouseNumber != "" {
			add(a.Road + ", " + a.HouseNumber)
		} else {
			add(a.Road)
		}
	}

	add(a.Suburb)
	add(a.City)
	add(a.State)
	add(a.Country)

	if len(parts) == 0 {
		return r.DisplayName
	}
	return strings.Join(parts, ", ")
}

var objectTypeLabels = map[string]string{
	// buildings
	"building":    "🏢 Building",
	"house":       "🏠 House",
	"residential": "🏘️ Residential building",
	"commercial":  "🏪 Commercial building",

	// amenities
	"amenity":      "📍 Object",
	"restaurant":   "🍽️ Restaurant",
	"cafe":         "☕ Cafe",
	"bar":          "🍺 Bar",
	"pub":          "🍺 Pub",
	"fast_food":    "🍔 Fast food",
	"bank":         "🏦 Bank",
	"atm":          "💳 ATM",
	"hospital":     "🏥 Hospital",
	"pharmacy":     "💊 Pharmacy",
	"school":       "🏫 School",
	"university":   "🎓 University",
	"library":      "📚 Library",
	"police":       "👮 Police",
	"fire_station": "🚒 Fire station",
	"post_office":  "📮 Post office",
	"fuel":         "⛽ Fuel station",
	"parking":      "🅿️ Parking",

	// shops
	"shop":        "🛒 Shop",
	"supermarket": "🏪 Supermarket",
	"mall":        "🏬 Mall",

	// tourism
	"tourism":  "🗺️ Attraction",
	"hotel":    "🏨 Hotel",
	"museum":   "🏛️ Museum",
	"monument": "⛰️ Monument",

	// leisure
	"leisure":       "🎯 Leisure",
	"park":          "🌳 Park",
	"playground":    "🎠 Playground",
	"sports_centre": "🏋️ Sports centre",
	"stadium":       "🏟️ Stadium",
	"cinema":        "🎬 Cinema",
	"theatre":       "🎭 Theatre",

	"historic": "🏛️ Historic site",

	// roads
	"highway":          "🛣️ Road",
	"motorway":         "🛣️ Motorway",
	"primary":          "🛣️ Primary road",
	"secondary":        "🛣️ Secondary road",
	"residential_road": "🛣️ Residential street",

	// nature
	"natural": "🌿 Natural feature",
	"water":   "💧 Water",
	"forest":  "🌲 Forest",
	"beach":   "🏖️ Beach",
}

const (
	fallbackObjectLabel = "📍 Object"
	fallbackPlaceLabel  = "📍 Place"
)

// ObjectType returns a short emoji label for what the result is.
//
// The specific type code wins ("cafe"), then the category ("amenity"),
// and a result with neither is just a place.
func ObjectType(r Result) string {
	if label, ok := objectTypeLabels[r.Type]; ok && r.Type != "" {
		return label
	}

	category := r.Category
	if category == "" {
		category = r.Class
	}
	if category != "" {
		if label, ok := objectTypeLabels[category]; ok {
			return label
		}
		return fallbackObjectLabel
	}

	return fallbackPlaceLabel
}
