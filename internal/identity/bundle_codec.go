package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidBundle = errors.New("invalid key bundle")

// EncodeKeyBundle packs a bundle into a single base64 string for the
// secret store. The encoding round-trips byte-exact.
func EncodeKeyBundle(bundle *KeyBundle) (string, error) {
	if bundle == nil {
		return "", ErrInvalidBundle
	}
	raw, err := json.Marshal(bundle)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeKeyBundle restores a bundle written by EncodeKeyBundle and
// checks the key sizes before handing it back.
func DecodeKeyBundle(encoded string) (*KeyBundle, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	var bundle KeyBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	if err := checkBundle(&bundle); err != nil {
		return nil, err
	}
	return &bundle, nil
}

func checkBundle(bundle *KeyBundle) error {
	if len(bundle.Identity.PrivateKey) != ed25519.PrivateKeySize ||
		len(bundle.Identity.PublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: identity key size", ErrInvalidBundle)
	}
	if len(bundle.Encryption.PrivateKey) != 32 || len(bundle.Encryption.PublicKey) != 32 {
		return fmt.Errorf("%w: encryption key size", ErrInvalidBundle)
	}
	if len(bundle.LocalKey) != 32 {
		return fmt.Errorf("%w: local key size", ErrInvalidBundle)
	}
	return nil
}
