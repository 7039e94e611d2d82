package keystore

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ovh/kmip-go"
	"github.com/ovh/kmip-go/payloads"
)

// KMIPKeyReference names one wrapping key version held by the KMIP server.
type KMIPKeyReference struct {
	ID      string
	Version int
}

// KMIPOptions configures a KMIP-backed KeyManager.
type KMIPOptions struct {
	Endpoint  string
	Keys      []KMIPKeyReference
	TLSConfig *tls.Config
	Timeout   time.Duration
	Provider  string
}

// kmipManager wraps key material via a KMIP server's Encrypt/Decrypt
// operations against a registered symmetric wrapping key, grounded on
// the teacher's Cosmian KMIP manager (internal/crypto/keymanager.go /
// keymanager_test.go): one active key version, Encrypt/Decrypt used as
// the wrap/unwrap primitive, Get used for health checks.
type kmipManager struct {
	client    *kmip.Client
	keys      []KMIPKeyReference
	provider  string
	timeout   time.Duration
}

// NewKMIPManager dials the configured KMIP endpoint and returns a
// KeyManager backed by it.
func NewKMIPManager(opts KMIPOptions) (KeyManager, error) {
	if len(opts.Keys) == 0 {
		return nil, fmt.Errorf("keystore: at least one KMIP key reference required")
	}
	client, err := kmip.NewClient(kmip.ClientOptions{
		Endpoint:  opts.Endpoint,
		TLSConfig: opts.TLSConfig,
		Timeout:   opts.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("keystore: dial kmip: %w", err)
	}
	return &kmipManager{client: client, keys: opts.Keys, provider: opts.Provider, timeout: opts.Timeout}, nil
}

func (m *kmipManager) Provider() string { return m.provider }

func (m *kmipManager) activeKey() KMIPKeyReference {
	return m.keys[len(m.keys)-1]
}

func (m *kmipManager) WrapKey(ctx context.Context, plaintext []byte, _ map[string]string) (*KeyEnvelope, error) {
	active := m.activeKey()
	resp, err := m.client.Request(ctx, kmip.OperationEncrypt, &payloads.EncryptRequestPayload{
		UniqueIdentifier: active.ID,
		Data:             plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("keystore: kmip encrypt: %w", err)
	}
	out, ok := resp.(*payloads.EncryptResponsePayload)
	if !ok {
		return nil, fmt.Errorf("keystore: kmip encrypt: unexpected response type %T", resp)
	}
	return &KeyEnvelope{
		KeyID:      active.ID,
		KeyVersion: active.Version,
		Provider:   m.provider,
		Ciphertext: out.Data,
	}, nil
}

func (m *kmipManager) UnwrapKey(ctx context.Context, envelope *KeyEnvelope, _ map[string]string) ([]byte, error) {
	keyID := envelope.KeyID
	if keyID == "" {
		for _, k := range m.keys {
			if k.Version == envelope.KeyVersion {
				keyID = k.ID
				break
			}
		}
	}
	if keyID == "" {
		return nil, fmt.Errorf("keystore: no key reference for version %d", envelope.KeyVersion)
	}
	resp, err := m.client.Request(ctx, kmip.OperationDecrypt, &payloads.DecryptRequestPayload{
		UniqueIdentifier: keyID,
		Data:             envelope.Ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("keystore: kmip decrypt: %w", err)
	}
	out, ok := resp.(*payloads.DecryptResponsePayload)
	if !ok {
		return nil, fmt.Errorf("keystore: kmip decrypt: unexpected response type %T", resp)
	}
	return out.Data, nil
}

func (m *kmipManager) ActiveKeyVersion(_ context.Context) (int, error) {
	return m.activeKey().Version, nil
}

func (m *kmipManager) HealthCheck(ctx context.Context) error {
	active := m.activeKey()
	_, err := m.client.Request(ctx, kmip.OperationGet, &payloads.GetRequestPayload{
		UniqueIdentifier: active.ID,
	})
	if err != nil {
		return fmt.Errorf("keystore: kmip health check: %w", err)
	}
	return nil
}

func (m *kmipManager) Close(_ context.Context) error {
	return m.client.Close()
}
