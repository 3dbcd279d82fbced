package identity

import (
	"errors"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

const mnemonicWordCount = 24

var (
	ErrInvalidMnemonic  = errors.New("invalid mnemonic")
	ErrMnemonicRequired = errors.New("mnemonic is required")
)

// GenerateMnemonic produces a fresh 24-word recovery phrase from 256
// bits of entropy.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// NormalizeMnemonic lowercases and collapses whitespace so user input
// with stray spacing still derives the same keys.
func NormalizeMnemonic(mnemonic string) string {
	words := strings.Fields(strings.ToLower(mnemonic))
	return strings.Join(words, " ")
}

// ValidateMnemonic checks word count, wordlist membership, and the
// BIP-39 checksum after normalization.
func ValidateMnemonic(mnemonic string) bool {
	normalized := NormalizeMnemonic(mnemonic)
	if normalized == "" {
		return false
	}
	if len(strings.Split(normalized, " ")) != mnemonicWordCount {
		return false
	}
	return bip39.IsMnemonicValid(normalized)
}
