// Package ethsig recovers wallet accounts from personal-sign signatures.
//
// The digest follows the EIP-191 "personal_sign" convention used by wallet
// software: keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg).
package ethsig

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an [R || S || V] signature.
const SignatureLength = crypto.SignatureLength

var ErrInvalidSignature = errors.New("invalid signature")

// Verifier recovers signers. The zero value is ready to use and safe for
// concurrent use.
type Verifier struct{}

func NewVerifier() *Verifier {
	return &Verifier{}
}

// RecoverSigner returns the normalized account that produced signature over
// message.
func (v *Verifier) RecoverSigner(message string, signature []byte) (string, error) {
	addr, err := Recover(message, signature)
	if err != nil {
		return "", err
	}
	return Normalize(addr.Hex()), nil
}

// Recover returns the address whose key signed the personal-sign digest of
// message. V may be given as 0/1 or 27/28. High-S signatures are rejected.
func Recover(message string, signature []byte) (common.Address, error) {
	if len(signature) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureLength, len(signature))
	}
	sig := make([]byte, SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	v := sig[crypto.RecoveryIDOffset]
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return common.Address{}, fmt.Errorf("%w: signature values out of range", ErrInvalidSignature)
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// DecodeSignature parses a hex signature, with or without the 0x prefix.
func DecodeSignature(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	raw, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return raw, nil
}

// Normalize lower-cases an account identifier for comparison and storage.
func Normalize(account string) string {
	return strings.ToLower(account)
}

// SameAccount compares two account identifiers case-insensitively.
func SameAccount(a, b string) bool {
	return strings.EqualFold(a, b)
}
