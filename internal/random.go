package internal

import (
	"crypto/rand"
	"encoding/base64"
	"math/big"
)

const opaqueIDSize = 18

// NewOpaqueID returns a URL-safe random identifier with 144 bits of entropy.
// Used for reauth challenge IDs, which must be unguessable.
func NewOpaqueID() (string, error) {
	var raw [opaqueIDSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// RandomIndex returns a uniform index in [0, max) from crypto/rand.
func RandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
