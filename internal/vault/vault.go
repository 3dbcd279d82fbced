// Package vault seals application data for backend storage. The
// backend only ever sees the packed blob and a content hash computed
// before encryption, so it can deduplicate without reading anything.
package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yurug/maplume-sub000/internal/contracts"
	"github.com/yurug/maplume-sub000/internal/crypto"
)

var ErrDecryptionFailed = errors.New("vault decryption failed")

// Seal serializes appData, hashes the canonical bytes, and packs them
// with the local vault key. The hash is over the plaintext, so equal
// app state yields an equal hash even though every blob differs.
func Seal(appData any, localKey []byte) (blob string, hash string, err error) {
	canonical, err := json.Marshal(appData)
	if err != nil {
		return "", "", err
	}
	sum := sha256.Sum256(canonical)
	blob, err = crypto.PackBytes(canonical, localKey)
	if err != nil {
		return "", "", contracts.WrapCategorizedError(contracts.ErrorCategoryCrypto, err)
	}
	return blob, hex.EncodeToString(sum[:]), nil
}

// Unseal unpacks a blob produced by Seal into out. Any failure to
// authenticate or decode wraps ErrDecryptionFailed; callers must not
// retry, the result will not change.
func Unseal(blob string, localKey []byte, out any) error {
	raw, err := crypto.UnpackBytes(blob, localKey)
	if err != nil {
		return contracts.WrapCategorizedError(contracts.ErrorCategoryCrypto,
			fmt.Errorf("%w: %w", ErrDecryptionFailed, err))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return contracts.WrapCategorizedError(contracts.ErrorCategoryCrypto,
			fmt.Errorf("%w: malformed payload", ErrDecryptionFailed))
	}
	return nil
}

// Hash recomputes the content hash for already-serialized app data.
func Hash(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
