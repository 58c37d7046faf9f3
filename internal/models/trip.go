package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Trip struct {
	bun.BaseModel `bun:"table:trips"`

	TripID         string    `bun:"trip_id,pk" json:"trip_id"`
	TripNumber     string    `bun:"trip_number,notnull" json:"trip_number"`
	Origin         string    `bun:"origin,notnull" json:"origin"`
	Destination    string    `bun:"destination,notnull" json:"destination"`
	Date           time.Time `bun:"date,notnull" json:"date"`
	DepartureTime  time.Time `bun:"departure_time,notnull" json:"departure_time"`
	ArrivalTime    time.Time `bun:"arrival_time,notnull" json:"arrival_time"`
	TotalSeats     int       `bun:"total_seats,notnull" json:"total_seats"`
	AvailableSeats int       `bun:"available_seats,notnull" json:"available_seats"`
	Price          float64   `bun:"price,notnull" json:"price"`
	CompanyName    string    `bun:"company_name" json:"company_name"`
}

// Departed reports whether the trip has already left.
func (t *Trip) Departed(now time.Time) bool {
	return !t.DepartureTime.After(now)
}

type TripSearchRequest struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Date        string `json:"date"` // YYYY-MM-DD
}
