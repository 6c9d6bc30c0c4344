// Package keys manages the Ed25519 key pair that signs proof tokens.
//
// A Key is tagged as private or public. Exporting uses one PEM encoder for
// both kinds; importing checks the declared kind and rejects the other.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Kind tags a key as private or public.
type Kind int

const (
	KindPrivate Kind = iota + 1
	KindPublic
)

func (k Kind) String() string {
	switch k {
	case KindPrivate:
		return "private"
	case KindPublic:
		return "public"
	default:
		return "unknown"
	}
}

// Default file names inside a key directory.
const (
	PrivateKeyFile = "private.pem"
	PublicKeyFile  = "public.pem"
)

var (
	// ErrWrongKeyType reports PEM data that holds a different kind of key than requested.
	ErrWrongKeyType = errors.New("wrong key type")
	// ErrInvalidKey reports data that is not a usable Ed25519 key.
	ErrInvalidKey = errors.New("invalid key")
)

// Key is an immutable Ed25519 key of a known kind.
type Key struct {
	kind    Kind
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// Pair holds a private key and the public key derived from it.
type Pair struct {
	Private Key
	Public  Key
}

// Generate creates a fresh key pair.
func Generate() (Pair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Pair{}, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return Pair{
		Private: Key{kind: KindPrivate, private: priv, public: pub},
		Public:  Key{kind: KindPublic, public: pub},
	}, nil
}

// Kind reports whether the key is private or public.
func (k Key) Kind() Kind { return k.kind }

// IsZero reports whether the key holds no material.
func (k Key) IsZero() bool { return k.kind == 0 }

// Public returns the public half. For a public key it returns the key itself.
func (k Key) Public() Key {
	return Key{kind: KindPublic, public: k.public}
}

// PrivateKey returns the Ed25519 private key, or ErrWrongKeyType for a public key.
func (k Key) PrivateKey() (ed25519.PrivateKey, error) {
	if k.kind != KindPrivate {
		return nil, fmt.Errorf("%w: want private, have %s", ErrWrongKeyType, k.kind)
	}
	return k.private, nil
}

// PublicKey returns the Ed25519 public key.
func (k Key) PublicKey() ed25519.PublicKey {
	return k.public
}

// FromPrivate wraps an existing Ed25519 private key.
func FromPrivate(priv ed25519.PrivateKey) (Key, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return Key{}, fmt.Errorf("%w: private key must be %d bytes", ErrInvalidKey, ed25519.PrivateKeySize)
	}
	pub, _ := priv.Public().(ed25519.PublicKey)
	return Key{kind: KindPrivate, private: priv, public: pub}, nil
}

// FromPublic wraps an existing Ed25519 public key.
func FromPublic(pub ed25519.PublicKey) (Key, error) {
	if len(pub) != ed25519.PublicKeySize {
		return Key{}, fmt.Errorf("%w: public key must be %d bytes", ErrInvalidKey, ed25519.PublicKeySize)
	}
	return Key{kind: KindPublic, public: pub}, nil
}

// Encode serializes the key to PEM: PKCS#8 for private keys, PKIX for public keys.
func Encode(k Key) ([]byte, error) {
	var (
		block *pem.Block
		der   []byte
		err   error
	)
	switch k.kind {
	case KindPrivate:
		der, err = x509.MarshalPKCS8PrivateKey(k.private)
		block = &pem.Block{Type: "PRIVATE KEY"}
	case KindPublic:
		der, err = x509.MarshalPKIXPublicKey(k.public)
		block = &pem.Block{Type: "PUBLIC KEY"}
	default:
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal %s key: %w", k.kind, err)
	}
	block.Bytes = der
	return pem.EncodeToMemory(block), nil
}

// Decode parses PEM data as a key of kind want.
func Decode(data []byte, want Kind) (Key, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return Key{}, fmt.Errorf("%w: no PEM block found", ErrInvalidKey)
	}

	switch block.Type {
	case "PRIVATE KEY":
		if want != KindPrivate {
			return Key{}, fmt.Errorf("%w: want %s, found private key", ErrWrongKeyType, want)
		}
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return Key{}, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		priv, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return Key{}, fmt.Errorf("%w: private key is %T, not ed25519", ErrWrongKeyType, parsed)
		}
		return FromPrivate(priv)
	case "PUBLIC KEY":
		if want != KindPublic {
			return Key{}, fmt.Errorf("%w: want %s, found public key", ErrWrongKeyType, want)
		}
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return Key{}, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		pub, ok := parsed.(ed25519.PublicKey)
		if !ok {
			return Key{}, fmt.Errorf("%w: public key is %T, not ed25519", ErrWrongKeyType, parsed)
		}
		return FromPublic(pub)
	default:
		return Key{}, fmt.Errorf("%w: unsupported PEM block %q", ErrInvalidKey, block.Type)
	}
}

// Export writes the key to path as PEM. Private keys are written 0600.
func Export(k Key, path string) error {
	data, err := Encode(k)
	if err != nil {
		return err
	}
	perm := os.FileMode(0o644)
	if k.kind == KindPrivate {
		perm = 0o600
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("write %s key: %w", k.kind, err)
	}
	return nil
}

// Import reads a PEM key of kind want from path.
func Import(path string, want Kind) (Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Key{}, fmt.Errorf("read %s key: %w", want, err)
	}
	return Decode(data, want)
}

// ExportPair writes private.pem and public.pem into dir, creating it if needed.
func ExportPair(p Pair, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := Export(p.Private, filepath.Join(dir, PrivateKeyFile)); err != nil {
		return err
	}
	return Export(p.Public, filepath.Join(dir, PublicKeyFile))
}

// ImportPair reads the key pair from dir and checks that both halves match.
func ImportPair(dir string) (Pair, error) {
	priv, err := Import(filepath.Join(dir, PrivateKeyFile), KindPrivate)
	if err != nil {
		return Pair{}, err
	}
	pub, err := Import(filepath.Join(dir, PublicKeyFile), KindPublic)
	if err != nil {
		return Pair{}, err
	}
	if !priv.public.Equal(pub.public) {
		return Pair{}, fmt.Errorf("%w: public key does not match private key", ErrInvalidKey)
	}
	return Pair{Private: priv, Public: pub}, nil
}

// LoadOrGenerate imports the pair from dir. When no private key exists and
// generate is true, a new pair is created and exported first.
func LoadOrGenerate(dir string, generate bool) (Pair, bool, error) {
	_, err := os.Stat(filepath.Join(dir, PrivateKeyFile))
	switch {
	case err == nil:
		p, err := ImportPair(dir)
		return p, false, err
	case errors.Is(err, os.ErrNotExist) && generate:
		p, err := Generate()
		if err != nil {
			return Pair{}, false, err
		}
		if err := ExportPair(p, dir); err != nil {
			return Pair{}, false, err
		}
		return p, true, nil
	default:
		return Pair{}, false, fmt.Errorf("locate private key: %w", err)
	}
}
