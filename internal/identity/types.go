package identity

// KeyPair holds one asymmetric key pair as raw bytes.
type KeyPair struct {
	PublicKey  []byte `json:"public_key"`
	PrivateKey []byte `json:"private_key"`
}

// KeyBundle is the full set of keys derived from one mnemonic.
// Identity is Ed25519 (64-byte private, 32-byte public), Encryption is
// X25519 (32-byte scalar, 32-byte public), LocalKey is a 32-byte
// symmetric key reserved for the local vault.
type KeyBundle struct {
	Identity   KeyPair `json:"identity"`
	Encryption KeyPair `json:"encryption"`
	LocalKey   []byte  `json:"local_key"`
}

// Zero overwrites all private key material in place.
func (b *KeyBundle) Zero() {
	if b == nil {
		return
	}
	zeroBytes(b.Identity.PrivateKey)
	zeroBytes(b.Encryption.PrivateKey)
	zeroBytes(b.LocalKey)
}

// Clone returns a deep copy so callers can hold key material without
// aliasing the bundle owned by the service.
func (b *KeyBundle) Clone() *KeyBundle {
	if b == nil {
		return nil
	}
	return &KeyBundle{
		Identity: KeyPair{
			PublicKey:  append([]byte(nil), b.Identity.PublicKey...),
			PrivateKey: append([]byte(nil), b.Identity.PrivateKey...),
		},
		Encryption: KeyPair{
			PublicKey:  append([]byte(nil), b.Encryption.PublicKey...),
			PrivateKey: append([]byte(nil), b.Encryption.PrivateKey...),
		},
		LocalKey: append([]byte(nil), b.LocalKey...),
	}
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
