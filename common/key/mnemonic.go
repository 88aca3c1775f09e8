package key

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"

	"github.com/drand/ceremony/crypto"
)

// MnemonicWords is the number of words of a contributor mnemonic.
const MnemonicWords = 24

// ErrInvalidMnemonic is returned for phrases that are not valid BIP-39 mnemonics.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// Provider supplies the contributor keypair.
type Provider func() (*crypto.Keypair, error)

// NewMnemonic returns a fresh 24 word mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// NormalizeMnemonic lowercases the phrase and collapses whitespace.
func NormalizeMnemonic(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}

// FromMnemonic derives the keypair of a 24 word mnemonic.
func FromMnemonic(phrase, passphrase string) (*crypto.Keypair, error) {
	phrase = NormalizeMnemonic(phrase)
	if n := len(strings.Fields(phrase)); n != MnemonicWords {
		return nil, fmt.Errorf("%w: got %d words, expected %d", ErrInvalidMnemonic, n, MnemonicWords)
	}
	if !bip39.IsMnemonicValid(phrase) {
		return nil, fmt.Errorf("%w: checksum mismatch or unknown word", ErrInvalidMnemonic)
	}
	return crypto.KeypairFromSeed(bip39.NewSeed(phrase, passphrase))
}

// MnemonicProvider returns a Provider deriving the keypair from phrase.
func MnemonicProvider(phrase, passphrase string) Provider {
	return func() (*crypto.Keypair, error) {
		return FromMnemonic(phrase, passphrase)
	}
}
