package utils

import (
	"fmt"
	"strings"
	"time"
)

// BookingReference builds the human-readable external identifier quoted
// to customers, e.g. BKODA-42-T103-9F3A21C4-20250613083000. Anonymous
// guest bookings use "ANON" in the user slot. Uniqueness is enforced by
// the database; a collision is an integrity fault, never retried.
func BookingReference(userID, tripID, bookingID string, at time.Time) string {
	user := userID
	if user == "" {
		user = "ANON"
	}
	return fmt.Sprintf("BKODA-%s-%s-%s-%s", user, tripID, ShortID(bookingID), at.UTC().Format("20060102150405"))
}

// RescheduleReference derives the successor booking's reference from the
// original so the lineage stays legible on paper tickets.
func RescheduleReference(original string) string {
	return "R-" + original
}

// ShortID folds a UUID down to its first block, uppercased, for use in
// human-facing references.
func ShortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		id = id[:i]
	}
	return strings.ToUpper(id)
}
