// Package boardingpass renders the QR code attached to booking
// confirmations. The payload is AES-encrypted so the code can be
// verified at boarding without exposing passenger data.
package boardingpass

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"time"

	"github.com/skip2/go-qrcode"

	"bkoda/internal/models"
)

type Payload struct {
	BookingReference string    `json:"booking_reference"`
	Origin           string    `json:"origin"`
	Destination      string    `json:"destination"`
	DepartureTime    time.Time `json:"departure_time"`
	Passengers       int       `json:"passengers"`
}

type Generator struct {
	secret []byte
}

func NewGenerator(secret string) *Generator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &Generator{secret: hashed[:]}
}

// Generate returns a 256px PNG QR of the encrypted boarding payload.
func (g *Generator) Generate(b *models.Booking, trip *models.Trip) ([]byte, error) {
	encrypted, err := g.Encrypt(b, trip)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(encrypted, qrcode.Medium, 256)
}

// Encrypt builds and encrypts the boarding payload without rendering it.
func (g *Generator) Encrypt(b *models.Booking, trip *models.Trip) (string, error) {
	payload := Payload{
		BookingReference: b.BookingReference,
		Origin:           trip.Origin,
		Destination:      trip.Destination,
		DepartureTime:    trip.DepartureTime,
		Passengers:       b.NumberOfPassengers,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	return encryptAES(data, g.secret)
}

// Decode reverses Generate's encryption for boarding-gate verification.
func (g *Generator) Decode(encrypted string) (*Payload, error) {
	data, err := decryptAES(encrypted, g.secret)
	if err != nil {
		return nil, err
	}
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]

	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func decryptAES(encoded string, key []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aes.BlockSize {
		return nil, io.ErrUnexpectedEOF
	}

	iv := ciphertext[:aes.BlockSize]
	data := make([]byte, len(ciphertext)-aes.BlockSize)

	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(data, ciphertext[aes.BlockSize:])

	return data, nil
}
