package account

import (
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// AddressFromName derives a stable 20-byte identity from an agent name:
// the last 20 bytes of keccak256(name), as for an EVM address.
// common.Address.Hex renders it EIP-55 checksummed.
func AddressFromName(name string) common.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(name))
	sum := h.Sum(nil)
	return common.BytesToAddress(sum[12:])
}
