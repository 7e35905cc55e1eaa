package walletauth

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PersonalSignVerifier verifies EIP-191 personal_sign signatures by
// recovering the signer address from the signature and comparing it to the
// claimed address. It is stateless and safe for concurrent use.
type PersonalSignVerifier struct{}

var _ SignatureVerifier = PersonalSignVerifier{}

// NewPersonalSignVerifier returns the default verifier.
func NewPersonalSignVerifier() PersonalSignVerifier {
	return PersonalSignVerifier{}
}

// Verify reports whether signature recovers to address for the exact
// message bytes. Any decoding or recovery error counts as a failed
// verification; this method never panics.
func (PersonalSignVerifier) Verify(address, message, signature string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	if address == "" || message == "" || signature == "" {
		return false
	}
	if !common.IsHexAddress(address) {
		return false
	}

	sig := common.FromHex(signature)
	if len(sig) != crypto.SignatureLength {
		return false
	}

	// personal_sign encodes the recovery id as 27/28; crypto.SigToPub
	// expects 0/1.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(personalSignHash([]byte(message)), sig)
	if err != nil {
		return false
	}

	recovered := crypto.PubkeyToAddress(*pub)
	return strings.EqualFold(recovered.Hex(), address)
}

// personalSignHash applies the EIP-191 prefix before hashing:
// keccak256("\x19Ethereum Signed Message:\n" + len(message) + message).
func personalSignHash(message []byte) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}
