package utils_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"bkoda/internal/utils"
)

func TestBookingReference(t *testing.T) {
	at := time.Date(2026, 6, 13, 8, 30, 0, 0, time.UTC)
	ref := utils.BookingReference("42", "T103", "9f3a21c4-1111-2222-3333-444455556666", at)

	assert.Equal(t, "BKODA-42-T103-9F3A21C4-20260613083000", ref)
}

func TestBookingReferenceAnonymous(t *testing.T) {
	at := time.Date(2026, 6, 13, 8, 30, 0, 0, time.UTC)
	ref := utils.BookingReference("", "T103", "9f3a21c4-1111-2222-3333-444455556666", at)

	assert.Equal(t, "BKODA-ANON-T103-9F3A21C4-20260613083000", ref)
}

func TestRescheduleReference(t *testing.T) {
	assert.Equal(t, "R-BKODA-42-T103-X-20260613083000",
		utils.RescheduleReference("BKODA-42-T103-X-20260613083000"))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "9F3A21C4", utils.ShortID("9f3a21c4-1111-2222-3333-444455556666"))
	assert.Equal(t, "ABC", utils.ShortID("abc"))
}
