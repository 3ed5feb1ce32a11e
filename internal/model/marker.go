// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// Marker is a user-owned point of interest on the map.
//
// The `json:"..."` tags tell encoding/json how to serialize the struct, so a
// marker goes over the wire as:
//
//	{"id":"cv37rs3pp9olc6atsptg","title":"Cafe","description":null,"latitude":55.75,...}
//
// NULLABLE DESCRIPTION:
// A marker may have no description at all. A nil pointer marshals to JSON null,
// which lets the frontend tell "no description" apart from an empty text box.
//
// OwnerID is the user ID of the creator. It is set once by the store and never
// changes; every single-record query filters on it.
type Marker struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// MarkerPatch describes a partial update. A nil field means "leave untouched".
type MarkerPatch struct {
	Title       *string
	Description *string
	Latitude    *float64
	Longitude   *float64
}

// IsEmpty reports whether the patch changes nothing.
func (p MarkerPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Latitude == nil && p.Longitude == nil
}

// Apply copies every non-nil patch field onto m. An empty description clears it.
func (p MarkerPatch) Apply(m *Marker) {
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.Description != nil {
		if *p.Description == "" {
			m.Description = nil
		} else {
			d := *p.Description
			m.Description = &d
		}
	}
	if p.Latitude != nil {
		m.Latitude = *p.Latitude
	}
	if p.Longitude != nil {
		m.Longitude = *p.Longitude
	}
}
