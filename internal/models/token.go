package models

import "github.com/ethereum/go-ethereum/common"

// Token describes the single tracked ERC-20 contract and the spender
// addresses whose approvals are revoked during an emergency sequence.
type Token struct {
	// Address is the contract address of the token
	Address common.Address
	// Spenders are the addresses whose allowances get set to zero
	Spenders []common.Address
}
