package keystore

import "context"

// KeyManager abstracts external Key Management Systems that wrap and
// unwrap key material before it is held at rest, mirroring the teacher's
// KMS abstraction but applied here to the channel's ECDH private key
// (see KMSBackedStore) instead of per-object data encryption keys.
//
// Implementations must never expose plaintext key material outside the
// KMS boundary.
type KeyManager interface {
	// Provider returns a short identifier used for diagnostics and metadata.
	Provider() string

	// WrapKey encrypts plaintext (key material such as the channel private key) and returns an
	// envelope suitable for persisting.
	WrapKey(ctx context.Context, plaintext []byte, metadata map[string]string) (*KeyEnvelope, error)

	// UnwrapKey decrypts the ciphertext in envelope and returns the plaintext.
	UnwrapKey(ctx context.Context, envelope *KeyEnvelope, metadata map[string]string) ([]byte, error)

	// ActiveKeyVersion returns the version identifier of the primary wrapping key.
	ActiveKeyVersion(ctx context.Context) (int, error)

	// HealthCheck verifies that the KMS is accessible and operational.
	HealthCheck(ctx context.Context) error

	// Close releases any underlying resources.
	Close(ctx context.Context) error
}

// KeyEnvelope captures the information required to unwrap wrapped key material.
type KeyEnvelope struct {
	KeyID      string
	KeyVersion int
	Provider   string
	Ciphertext []byte
}
