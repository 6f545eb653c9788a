// encrypt.go - Encryption of coin openings.
//
// Openings for other recipients go through an Encryptor chosen by the wallet
// owner; the default is ECIES over BLS12-377 G1 Diffie-Hellman. Openings of the
// sender's own outputs are sealed with a symmetric key.

package utt

import (
	"io"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// Encryptor encrypts data for the holder of a public key.
type Encryptor interface {
	EncryptFor(publicKey []byte, plaintext []byte) ([]byte, error)
}

// Decryptor opens data encrypted for this wallet.
type Decryptor interface {
	Decrypt(ciphertext []byte) ([]byte, error)
}

// DHKeyPair represents a BLS12-377 keypair for Diffie-Hellman key exchange.
type DHKeyPair struct {
	Sk fr.Element
	Pk bls12377.G1Affine
}

// GenerateDHKeyPair generates a random BLS12-377 keypair for DH.
func GenerateDHKeyPair() (*DHKeyPair, error) {
	sk, err := randomScalar()
	if err != nil {
		return nil, err
	}
	return &DHKeyPair{Sk: sk, Pk: g1Mul(&g1Gen, &sk)}, nil
}

// DHKeyPairFromBytes restores a keypair from its secret scalar.
func DHKeyPairFromBytes(secret []byte) (*DHKeyPair, error) {
	var s Scalar
	if err := s.UnmarshalBinary(secret); err != nil {
		return nil, errors.Wrap(err, "dh secret")
	}
	if s.IsZero() {
		return nil, errors.New("dh secret is zero")
	}
	return &DHKeyPair{Sk: s.Element, Pk: g1Mul(&g1Gen, &s.Element)}, nil
}

// PublicKey returns the compressed public key.
func (k *DHKeyPair) PublicKey() []byte {
	b := k.Pk.Bytes()
	return b[:]
}

// SecretKey returns the secret scalar bytes.
func (k *DHKeyPair) SecretKey() []byte {
	b := k.Sk.Bytes()
	return b[:]
}

// ComputeDHShared computes the shared secret (G^ab) given our sk and their pk.
func ComputeDHShared(sk *fr.Element, pk *bls12377.G1Affine) bls12377.G1Affine {
	return g1Mul(pk, sk)
}

func deriveKey(secret, salt []byte, info string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha3.New256, secret, salt, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errors.Wrap(err, "hkdf")
	}
	return key, nil
}

func seal(key, plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, err := randomBytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, ad), nil
}

func open(key, ciphertext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	return aead.Open(nil, nonce, body, ad)
}

// ECIES is the default Encryptor; it needs no state.
type ECIES struct{}

func (ECIES) EncryptFor(publicKey []byte, plaintext []byte) ([]byte, error) {
	var pk Point1
	if err := pk.UnmarshalBinary(publicKey); err != nil {
		return nil, errors.Wrap(err, "recipient public key")
	}
	if pk.IsInfinity() {
		return nil, errors.New("recipient public key is the identity")
	}
	eph, err := GenerateDHKeyPair()
	if err != nil {
		return nil, err
	}
	shared := ComputeDHShared(&eph.Sk, &pk.G1Affine)
	sb := shared.Bytes()
	ephPub := eph.PublicKey()
	key, err := deriveKey(sb[:], ephPub, "UTT-ECIES-V1")
	if err != nil {
		return nil, err
	}
	body, err := seal(key, plaintext, ephPub)
	if err != nil {
		return nil, err
	}
	return append(ephPub, body...), nil
}

// Decrypt implements Decryptor for the keypair.
func (k *DHKeyPair) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < bls12377.SizeOfG1AffineCompressed {
		return nil, errors.New("ciphertext too short")
	}
	ephPub := ciphertext[:bls12377.SizeOfG1AffineCompressed]
	var eph Point1
	if err := eph.UnmarshalBinary(ephPub); err != nil {
		return nil, errors.Wrap(err, "ephemeral key")
	}
	shared := ComputeDHShared(&k.Sk, &eph.G1Affine)
	sb := shared.Bytes()
	key, err := deriveKey(sb[:], ephPub, "UTT-ECIES-V1")
	if err != nil {
		return nil, err
	}
	return open(key, ciphertext[bls12377.SizeOfG1AffineCompressed:], ephPub)
}

// Sealer protects openings of the sender's own outputs.
type Sealer struct {
	key []byte
}

// NewSealer derives a sealing key from the wallet's secret material.
func NewSealer(secret []byte) (*Sealer, error) {
	key, err := deriveKey(secret, nil, "UTT-SELF-SEAL-V1")
	if err != nil {
		return nil, err
	}
	return &Sealer{key: key}, nil
}

func (s *Sealer) Seal(plaintext, ad []byte) ([]byte, error) {
	return seal(s.key, plaintext, ad)
}

func (s *Sealer) Open(ciphertext, ad []byte) ([]byte, error) {
	return open(s.key, ciphertext, ad)
}
