// Package chainref handles validation and normalization of the on-chain
// references that payments carry: wallet addresses and transaction hashes.
// The exchange never verifies these against the chain (confirmation
// endpoints trust caller-supplied metadata); it only enforces shape and a
// canonical lowercase form so uniqueness checks compare like with like.
package chainref

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrInvalidAddress = errors.New("chainref: invalid wallet address")
	ErrInvalidTxHash  = errors.New("chainref: invalid transaction hash")
)

// addressRegex matches a 20-byte hex address: 0x + 40 hex chars.
var addressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// txHashRegex matches a 32-byte hex transaction hash: 0x + 64 hex chars.
var txHashRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// NormalizeAddress validates a wallet address and returns its canonical
// lowercase form.
func NormalizeAddress(addr string) (string, error) {
	trimmed := strings.TrimSpace(addr)
	if !addressRegex.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q (expected 0x + 40 hex chars)", ErrInvalidAddress, addr)
	}
	return strings.ToLower(trimmed), nil
}

// NormalizeTxHash validates a transaction hash and returns its canonical
// lowercase form.
func NormalizeTxHash(hash string) (string, error) {
	trimmed := strings.TrimSpace(hash)
	if !txHashRegex.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q (expected 0x + 64 hex chars)", ErrInvalidTxHash, hash)
	}
	return strings.ToLower(trimmed), nil
}
