// Package crypto holds the wallet key used to sign command envelopes and the
// EIP-712 signing and recovery of those envelopes.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

// Wallet file parameters. Iterations are stored in each file so the default
// can be raised without breaking existing wallets.
const (
	walletVersion     = 1
	walletKDF         = "pbkdf2-sha256"
	defaultIterations = 480_000
	walletSaltLen     = 16
)

var (
	// ErrNoKey is returned when neither a raw key nor a key file is configured.
	ErrNoKey = errors.New("crypto: no wallet key configured")
	// ErrEmptyPassword rejects sealing or opening a wallet without a password.
	ErrEmptyPassword = errors.New("crypto: wallet password must not be empty")
)

// walletFile is the on-disk wallet. Byte fields are base64 in JSON.
type walletFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// KeyConfig names where the wallet key comes from: a raw hex key, or a
// wallet file written by WriteKeyFile plus its password.
type KeyConfig struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

// parseKey validates a hex secp256k1 key, with or without 0x.
func parseKey(keyHex string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: private key is not valid hex: %w", err)
	}
	if _, err := ethcrypto.ToECDSA(raw); err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return raw, nil
}

func walletCipher(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, iterations, 32, sha256.New))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// EncryptKey seals a hex private key under password and returns the wallet
// file contents. The key's address is stored in clear so a wallet can be
// identified without its password.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	raw, err := parseKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	priv, _ := ethcrypto.ToECDSA(raw)

	w := walletFile{
		Version:    walletVersion,
		Address:    ethcrypto.PubkeyToAddress(priv.PublicKey).Hex(),
		KDF:        walletKDF,
		Iterations: defaultIterations,
		Salt:       make([]byte, walletSaltLen),
	}
	if _, err := rand.Read(w.Salt); err != nil {
		return nil, fmt.Errorf("crypto: wallet salt: %w", err)
	}
	aead, err := walletCipher(password, w.Salt, w.Iterations)
	if err != nil {
		return nil, fmt.Errorf("crypto: wallet cipher: %w", err)
	}
	w.Nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(w.Nonce); err != nil {
		return nil, fmt.Errorf("crypto: wallet nonce: %w", err)
	}
	// The address is authenticated so it cannot be swapped on disk.
	w.Ciphertext = aead.Seal(nil, w.Nonce, raw, []byte(w.Address))

	return json.MarshalIndent(w, "", "  ")
}

// DecryptKey opens a wallet file and returns the hex private key without
// the 0x prefix.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	var w walletFile
	if err := json.Unmarshal(data, &w); err != nil {
		return "", fmt.Errorf("crypto: parse wallet: %w", err)
	}
	if w.Version != walletVersion || w.KDF != walletKDF {
		return "", fmt.Errorf("crypto: unsupported wallet (version %d, kdf %q)", w.Version, w.KDF)
	}
	if w.Iterations <= 0 {
		return "", fmt.Errorf("crypto: wallet iterations %d", w.Iterations)
	}

	aead, err := walletCipher(password, w.Salt, w.Iterations)
	if err != nil {
		return "", fmt.Errorf("crypto: wallet cipher: %w", err)
	}
	if len(w.Nonce) != aead.NonceSize() {
		return "", fmt.Errorf("crypto: wallet nonce has %d bytes", len(w.Nonce))
	}
	raw, err := aead.Open(nil, w.Nonce, w.Ciphertext, []byte(w.Address))
	if err != nil {
		return "", fmt.Errorf("crypto: open wallet %s (wrong password?): %w", w.Address, err)
	}
	return hex.EncodeToString(raw), nil
}

// GenerateKey returns a fresh hex private key.
func GenerateKey() (string, error) {
	priv, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("crypto: generate key: %w", err)
	}
	return hex.EncodeToString(ethcrypto.FromECDSA(priv)), nil
}

// WriteKeyFile seals privateKeyHex into a new wallet file at path and
// returns the wallet address. An existing file is never overwritten.
func WriteKeyFile(path, privateKeyHex, password string) (string, error) {
	data, err := EncryptKey(privateKeyHex, password)
	if err != nil {
		return "", err
	}
	var w walletFile
	if err := json.Unmarshal(data, &w); err != nil {
		return "", fmt.Errorf("crypto: reread wallet: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("crypto: create wallet file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("crypto: write wallet file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("crypto: close wallet file: %w", err)
	}
	return w.Address, nil
}

// LoadKey resolves the hex private key, preferring RawPrivateKey over the
// wallet file.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case cfg.RawPrivateKey != "":
		raw, err := parseKey(cfg.RawPrivateKey)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(raw), nil
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read wallet file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	default:
		return "", ErrNoKey
	}
}

// LoadSigner resolves the wallet key and builds a Signer for chainID.
func LoadSigner(cfg KeyConfig, chainID int64) (*Signer, error) {
	key, err := LoadKey(cfg)
	if err != nil {
		return nil, err
	}
	return NewSigner(key, chainID)
}
