package model

// ShipID identifies a vessel in the reference catalog
type ShipID string

// Ship is read-only reference data rendered in a racer's lane
type Ship struct {
	ID          ShipID
	Name        string
	ImageURL    string
	Description string
}
