package utils

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// GenerateID returns a new random identifier
func GenerateID() string {
	return uuid.NewString()
}

// IsValidAddress checks if a string is a valid RSK/EVM address
func IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// NormalizeAddress normalizes an address to lowercase with 0x prefix.
// RSK checksums (EIP-1191) differ from Ethereum's, so addresses are stored
// lowercase and compared that way.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		address = "0x" + address
	}
	return strings.ToLower(address)
}

// ToCommonAddress converts a stored address to a go-ethereum address
func ToCommonAddress(address string) common.Address {
	return common.HexToAddress(NormalizeAddress(address))
}
