// Package geocoding looks up addresses and places through OpenStreetMap Nominatim.
//
// The marker core never calls this package. It backs the search box
// (forward lookup) and the "what is here?" panel (reverse lookup) only.
package geocoding

import "context"

// Geocoder is the lookup contract the service layer depends on.
type Geocoder interface {
	// Search returns up to limit places matching query, in upstream order.
	Search(ctx context.Context, query string, limit int) ([]Result, error)
	// Reverse returns the place at a point, or (nil, nil) when there is none.
	Reverse(ctx context.Context, lat, lon float64) (*Result, error)
}

// Address is the addressdetails block of a Nominatim result.
type Address struct {
	Building    string `json:"building,omitempty"`
	Amenity     string `json:"amenity,omitempty"`
	Shop        string `json:"shop,omitempty"`
	Tourism     string `json:"tourism,omitempty"`
	Leisure     string `json:"leisure,omitempty"`
	Historic    string `json:"historic,omitempty"`
	Road        string `json:"road,omitempty"`
	HouseNumber string `json:"house_number,omitempty"`
	Suburb      string `json:"suburb,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	Country     string `json:"country,omitempty"`
	Postcode    string `json:"postcode,omitempty"`
}

// Result is one Nominatim place. Field names and JSON tags follow the
// upstream format=json output, so search results pass through to clients
// in the shape Nominatim documents.
type Result struct {
	PlaceID     int64             `json:"place_id,omitempty"`
	DisplayName string            `json:"display_name"`
	Lat         string            `json:"lat"`
	Lon         string            `json:"lon"`
	Class       string            `json:"class,omitempty"`
	Category    string            `json:"category,omitempty"`
	Type        string            `json:"type,omitempty"`
	Importance  *float64          `json:"importance,omitempty"`
	Address     *Address          `json:"address,omitempty"`
	ExtraTags   map[string]string `json:"extratags,omitempty"`
}

// ImportanceOrZero treats a missing importance as 0.
func (r Result) ImportanceOrZero() float64 {
	if r.Importance == nil {
		return 0
	}
	return *r.Importance
}
