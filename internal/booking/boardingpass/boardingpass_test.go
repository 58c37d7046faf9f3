package boardingpass_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bkoda/internal/booking/boardingpass"
	"bkoda/internal/models"
)

func TestGenerateProducesPNG(t *testing.T) {
	g := boardingpass.NewGenerator("test-secret")

	trip := &models.Trip{
		Origin:        "Kabayan, Benguet",
		Destination:   "Baguio City",
		DepartureTime: time.Now().Add(48 * time.Hour),
	}
	b := &models.Booking{
		BookingReference:   "BKODA-user-1-trip-a-ABC123-20260101120000",
		NumberOfPassengers: 2,
	}

	png, err := g.Generate(b, trip)
	require.NoError(t, err)
	assert.NotEmpty(t, png)
	// PNG signature.
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	g := boardingpass.NewGenerator("test-secret")

	departure := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	trip := &models.Trip{
		Origin:        "Baguio City",
		Destination:   "Kabayan, Benguet",
		DepartureTime: departure,
	}
	b := &models.Booking{
		BookingReference:   "BKODA-ANON-trip-b-DEF456-20260101120000",
		NumberOfPassengers: 1,
	}

	encrypted, err := g.Encrypt(b, trip)
	require.NoError(t, err)

	payload, err := g.Decode(encrypted)
	require.NoError(t, err)
	assert.Equal(t, b.BookingReference, payload.BookingReference)
	assert.Equal(t, trip.Origin, payload.Origin)
	assert.Equal(t, trip.Destination, payload.Destination)
	assert.Equal(t, 1, payload.Passengers)
	assert.True(t, payload.DepartureTime.Equal(departure))
}

func TestDecodeWithWrongSecretFails(t *testing.T) {
	g := boardingpass.NewGenerator("test-secret")
	other := boardingpass.NewGenerator("other-secret")

	trip := &models.Trip{Origin: "A", Destination: "B", DepartureTime: time.Now()}
	b := &models.Booking{BookingReference: "BKODA-X", NumberOfPassengers: 1}

	encrypted, err := g.Encrypt(b, trip)
	require.NoError(t, err)

	_, err = other.Decode(encrypted)
	assert.Error(t, err)
}
