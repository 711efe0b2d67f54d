package models

import "github.com/angelmondragon/packfinderz-dispatch/pkg/geo"

// Address is embedded into orders twice (pickup_ and delivery_ prefixes).
type Address struct {
	Line1      string   `gorm:"column:line1"`
	City       string   `gorm:"column:city"`
	PostalCode string   `gorm:"column:postal_code"`
	Lat        *float64 `gorm:"column:lat"`
	Lng        *float64 `gorm:"column:lng"`
}

// Point returns the coordinates when both are present.
func (a Address) Point() (geo.Point, bool) {
	return geo.NewPoint(a.Lat, a.Lng)
}
