// Package crypto implements the key agreement and payload encryption scheme
// used for health-information transfer: X25519 key exchange, an HKDF-SHA256
// derived AES-256-GCM key salted with the XOR of both parties' nonces, and
// an MD5 checksum over the plaintext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	Algorithm     = "ECDH"
	CurveName     = "Curve25519"
	KeyParameters = "Curve25519/32byte random key"

	// KeyMaterialTTL bounds how long generated key material stays usable.
	KeyMaterialTTL = time.Hour

	nonceSize = 32
	keySize   = 32
	saltSize  = 20
	ivSize    = 12
)

// Error wraps failures in the encryption pipeline with the operation that
// failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("crypto %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KeyMaterial is one party's half of a key agreement: an X25519 key pair, a
// random nonce, and an expiry.
type KeyMaterial struct {
	PrivateKey []byte    `json:"privateKey"`
	PublicKey  []byte    `json:"publicKey"`
	Nonce      []byte    `json:"nonce"`
	Expiry     time.Time `json:"expiry"`
}

// GenerateKeyMaterial mints a fresh X25519 key pair and 32-byte nonce, valid
// for KeyMaterialTTL.
func GenerateKeyMaterial() (*KeyMaterial, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, &Error{Op: "generate key pair", Err: err}
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, &Error{Op: "generate nonce", Err: err}
	}

	return &KeyMaterial{
		PrivateKey: priv.Bytes(),
		PublicKey:  priv.PublicKey().Bytes(),
		Nonce:      nonce,
		Expiry:     time.Now().UTC().Add(KeyMaterialTTL),
	}, nil
}

// Expired reports whether the key material is past its validity window.
func (m *KeyMaterial) Expired(now time.Time) bool {
	return now.After(m.Expiry)
}

// DHPublicKey is the wire form of one party's public key.
type DHPublicKey struct {
	Expiry     string `json:"expiry"`
	Parameters string `json:"parameters"`
	KeyValue   string `json:"keyValue"`
}

// TransferMaterial is the key-material block attached to transfer requests
// and encrypted payloads.
type TransferMaterial struct {
	CryptoAlg   string      `json:"cryptoAlg"`
	Curve       string      `json:"curve"`
	DHPublicKey DHPublicKey `json:"dhPublicKey"`
	Nonce       string      `json:"nonce"`
}

// TransferMaterial renders the public half for the wire. When useDER is set
// the public key is wrapped in a DER SubjectPublicKeyInfo structure; some
// counterparties only accept that form.
func (m *KeyMaterial) TransferMaterial(useDER bool) (*TransferMaterial, error) {
	keyValue := base64.StdEncoding.EncodeToString(m.PublicKey)
	if useDER {
		pub, err := ecdh.X25519().NewPublicKey(m.PublicKey)
		if err != nil {
			return nil, &Error{Op: "load public key", Err: err}
		}
		der, err := x509.MarshalPKIXPublicKey(pub)
		if err != nil {
			return nil, &Error{Op: "encode public key", Err: err}
		}
		keyValue = base64.StdEncoding.EncodeToString(der)
	}

	return &TransferMaterial{
		CryptoAlg: Algorithm,
		Curve:     CurveName,
		DHPublicKey: DHPublicKey{
			Expiry:     m.Expiry.Format("2006-01-02T15:04:05.000Z"),
			Parameters: KeyParameters,
			KeyValue:   keyValue,
		},
		Nonce: base64.StdEncoding.EncodeToString(m.Nonce),
	}, nil
}

// Encrypt encrypts plaintext for the peer identified by its base64 public key
// and nonce, returning base64 ciphertext. Given identical inputs the output
// is identical: the IV is derived from the nonces, not random.
func (m *KeyMaterial) Encrypt(peerKey, peerNonce string, plaintext []byte) (string, error) {
	aead, iv, err := m.deriveAEAD(peerKey, peerNonce)
	if err != nil {
		return "", err
	}
	sealed := aead.Seal(nil, iv, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt for a payload produced by the peer.
func (m *KeyMaterial) Decrypt(peerKey, peerNonce, ciphertext string) ([]byte, error) {
	aead, iv, err := m.deriveAEAD(peerKey, peerNonce)
	if err != nil {
		return nil, err
	}
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, &Error{Op: "decode ciphertext", Err: err}
	}
	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, &Error{Op: "decrypt", Err: err}
	}
	return plaintext, nil
}

// deriveAEAD computes the shared AES-GCM cipher and IV for this key material
// and the peer's transfer parameters.
func (m *KeyMaterial) deriveAEAD(peerKey, peerNonce string) (cipher.AEAD, []byte, error) {
	peerPub, err := decodePeerKey(peerKey)
	if err != nil {
		return nil, nil, err
	}
	nonce, err := base64.StdEncoding.DecodeString(peerNonce)
	if err != nil {
		return nil, nil, &Error{Op: "decode peer nonce", Err: err}
	}
	if len(nonce) != nonceSize {
		return nil, nil, &Error{Op: "decode peer nonce", Err: fmt.Errorf("expected %d bytes, got %d", nonceSize, len(nonce))}
	}

	priv, err := ecdh.X25519().NewPrivateKey(m.PrivateKey)
	if err != nil {
		return nil, nil, &Error{Op: "load private key", Err: err}
	}
	secret, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, nil, &Error{Op: "key agreement", Err: err}
	}

	// XOR of the two nonces seeds both the KDF salt and the IV. XOR is
	// symmetric, so both parties derive the same values regardless of role.
	mixed := xorBytes(m.Nonce, nonce)
	salt := mixed[:saltSize]
	iv := mixed[len(mixed)-ivSize:]

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, nil), key); err != nil {
		return nil, nil, &Error{Op: "derive key", Err: err}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, &Error{Op: "create cipher", Err: err}
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, &Error{Op: "create GCM", Err: err}
	}
	return aead, iv, nil
}

// decodePeerKey accepts a base64 public key in either raw 32-byte or DER
// SubjectPublicKeyInfo form.
func decodePeerKey(b64 string) (*ecdh.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, &Error{Op: "decode peer key", Err: err}
	}

	if len(raw) == keySize {
		pub, err := ecdh.X25519().NewPublicKey(raw)
		if err != nil {
			return nil, &Error{Op: "decode peer key", Err: err}
		}
		return pub, nil
	}

	parsed, err := x509.ParsePKIXPublicKey(raw)
	if err != nil {
		return nil, &Error{Op: "decode peer key", Err: err}
	}
	pub, ok := parsed.(*ecdh.PublicKey)
	if !ok {
		return nil, &Error{Op: "decode peer key", Err: fmt.Errorf("unexpected key type %T", parsed)}
	}
	return pub, nil
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// Checksum returns the base64-encoded MD5 digest counterparties use to verify
// payload integrity.
func Checksum(data []byte) string {
	sum := md5.Sum(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}
