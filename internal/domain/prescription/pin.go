package prescription

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// pinLength is the number of digits in a collection PIN.
const pinLength = 6

// GeneratePIN returns a fixed-length numeric PIN from a cryptographically
// secure random source. PINs are generated fresh per prescription and never
// reused.
func GeneratePIN() (string, error) {
	digits := make([]byte, pinLength)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate pin: %w", err)
		}
		digits[i] = '0' + byte(n.Int64())
	}
	return string(digits), nil
}

// QRPayload derives the opaque string handed to an external QR encoder. The
// pharmacy scanner splits it back into prescription ID and PIN at the
// counter.
func QRPayload(id uuid.UUID, pin string) string {
	return fmt.Sprintf("RX1:%s:%s", id, pin)
}
