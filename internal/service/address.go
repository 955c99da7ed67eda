package service

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// NormalizeAddress validates a hex account address and returns its EIP-55
// checksummed form. The zero address is rejected.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", domain.ErrInvalidAddress
	}
	a := common.HexToAddress(addr)
	if a == (common.Address{}) {
		return "", domain.ErrInvalidAddress
	}
	return a.Hex(), nil
}

func currentHeight(ctx context.Context, tx domain.Tx) (uint64, error) {
	return tx.Chain().Height(ctx)
}
