package models

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
)

// Account is the watched signing identity. Exactly one per process,
// immutable for the process lifetime.
type Account struct {
	// Address is the address derived from Key.
	Address common.Address
	// Key is the signing credential.
	Key *ecdsa.PrivateKey
}
