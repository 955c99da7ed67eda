package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// DomainName and DomainVersion identify the EIP-712 signing domain of
// command envelopes.
const (
	DomainName    = "WagerWars"
	DomainVersion = "1"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Command(string id,string name,bytes args,uint256 nonce)
	commandTypeHash = ethcrypto.Keccak256(
		[]byte("Command(string id,string name,bytes args,uint256 nonce)"),
	)
)

// Signer signs command envelopes with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded private key for the given
// chain id.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  domainSeparator(chainID),
	}, nil
}

// Address returns the EIP-55 address of the signing key.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// SignEnvelope fills env.Signer and env.Signature.
func (s *Signer) SignEnvelope(env *domain.Envelope) error {
	digest, err := envelopeDigest(s.domainSep, env)
	if err != nil {
		return err
	}
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return fmt.Errorf("crypto/signer: %w: %v", domain.ErrSigningFailed, err)
	}
	// go-ethereum returns v in {0,1}; wallets expect {27,28}.
	sig[64] += 27

	env.Signer = s.address.Hex()
	env.Signature = "0x" + hex.EncodeToString(sig)
	return nil
}

// Verifier recovers and checks the signer of command envelopes.
type Verifier struct {
	domainSep []byte
}

// NewVerifier creates a Verifier for the given chain id.
func NewVerifier(chainID int64) *Verifier {
	return &Verifier{domainSep: domainSeparator(chainID)}
}

// Recover returns the EIP-55 address that signed env. It fails with
// domain.ErrUnauthorized when the signature is malformed or the recovered
// address differs from env.Signer.
func (v *Verifier) Recover(env domain.Envelope) (string, error) {
	digest, err := envelopeDigest(v.domainSep, &env)
	if err != nil {
		return "", err
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(env.Signature, "0x"))
	if err != nil || len(sig) != 65 {
		return "", fmt.Errorf("crypto/verify: envelope %s: malformed signature: %w", env.ID, domain.ErrUnauthorized)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("crypto/verify: envelope %s: %w", env.ID, domain.ErrUnauthorized)
	}
	recovered := ethcrypto.PubkeyToAddress(*pub)
	if !common.IsHexAddress(env.Signer) || common.HexToAddress(env.Signer) != recovered {
		return "", fmt.Errorf("crypto/verify: envelope %s signed by %s, claims %q: %w",
			env.ID, recovered.Hex(), env.Signer, domain.ErrUnauthorized)
	}
	return recovered.Hex(), nil
}

// domainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func domainSeparator(chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(DomainName)),
			ethcrypto.Keccak256([]byte(DomainVersion)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)
}

// envelopeDigest computes keccak256("\x19\x01" || domainSeparator || structHash).
// Args are hashed in compact form so the digest survives JSON re-encoding.
func envelopeDigest(domainSep []byte, env *domain.Envelope) ([]byte, error) {
	var args bytes.Buffer
	if len(env.Command.Args) > 0 {
		if err := json.Compact(&args, env.Command.Args); err != nil {
			return nil, fmt.Errorf("crypto/signer: envelope %s: args are not valid JSON: %w", env.ID, err)
		}
	}

	structHash := ethcrypto.Keccak256(
		concatBytes(
			commandTypeHash,
			ethcrypto.Keccak256([]byte(env.ID)),
			ethcrypto.Keccak256([]byte(env.Command.Name)),
			ethcrypto.Keccak256(args.Bytes()),
			bigIntTo32Bytes(new(big.Int).SetUint64(env.Nonce)),
		),
	)
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash)), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
