package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// Well-known development key (hardhat account #0).
const (
	devKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func envelope() domain.Envelope {
	return domain.Envelope{
		ID:    "env-1",
		Nonce: 7,
		Command: domain.Command{
			Name: "buy-shares",
			Args: json.RawMessage(`{ "marketId": 1, "outcome": 0, "amount": 100000000 }`),
		},
	}
}

func TestSignerAddress(t *testing.T) {
	s, err := NewSigner("0x"+devKey, 1)
	require.NoError(t, err)
	assert.Equal(t, devAddress, s.Address())

	_, err = NewSigner("not-hex", 1)
	assert.Error(t, err)
}

func TestSignAndRecover(t *testing.T) {
	s, err := NewSigner(devKey, 31337)
	require.NoError(t, err)

	env := envelope()
	require.NoError(t, s.SignEnvelope(&env))
	assert.Equal(t, devAddress, env.Signer)
	assert.Len(t, env.Signature, 2+130)

	got, err := NewVerifier(31337).Recover(env)
	require.NoError(t, err)
	assert.Equal(t, devAddress, got)
}

func TestRecoverSurvivesJSONRoundTrip(t *testing.T) {
	s, err := NewSigner(devKey, 31337)
	require.NoError(t, err)
	env := envelope()
	require.NoError(t, s.SignEnvelope(&env))

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	var decoded domain.Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))

	got, err := NewVerifier(31337).Recover(decoded)
	require.NoError(t, err)
	assert.Equal(t, devAddress, got)
}

func TestRecoverRejectsTampering(t *testing.T) {
	s, err := NewSigner(devKey, 31337)
	require.NoError(t, err)
	v := NewVerifier(31337)

	signed := envelope()
	require.NoError(t, s.SignEnvelope(&signed))

	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(e *domain.Envelope)
	}{
		{"changed args", func(e *domain.Envelope) { e.Command.Args = json.RawMessage(`{"marketId":2}`) }},
		{"changed command", func(e *domain.Envelope) { e.Command.Name = "sell-shares" }},
		{"changed nonce", func(e *domain.Envelope) { e.Nonce++ }},
		{"changed id", func(e *domain.Envelope) { e.ID = "env-2" }},
		{"claimed signer", func(e *domain.Envelope) { e.Signer = ethcrypto.PubkeyToAddress(other.PublicKey).Hex() }},
		{"short signature", func(e *domain.Envelope) { e.Signature = "0xdead" }},
		{"non-hex signature", func(e *domain.Envelope) { e.Signature = "zz" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := signed
			tt.mutate(&env)
			_, err := v.Recover(env)
			assert.ErrorIs(t, err, domain.ErrUnauthorized)
		})
	}

	t.Run("other chain", func(t *testing.T) {
		_, err := NewVerifier(1).Recover(signed)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}

func TestSignRejectsInvalidArgs(t *testing.T) {
	s, err := NewSigner(devKey, 1)
	require.NoError(t, err)
	env := envelope()
	env.Command.Args = json.RawMessage(`{not json`)
	assert.Error(t, s.SignEnvelope(&env))
}

func TestWalletFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.json")
	addr, err := WriteKeyFile(path, "0x"+devKey, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, devAddress, addr)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	signer, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"}, 1)
	require.NoError(t, err)
	assert.Equal(t, devAddress, signer.Address())

	_, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "wrong"})
	assert.Error(t, err)

	_, err = WriteKeyFile(path, devKey, "hunter2")
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestWalletAddressIsAuthenticated(t *testing.T) {
	blob, err := EncryptKey(devKey, "hunter2")
	require.NoError(t, err)

	var w walletFile
	require.NoError(t, json.Unmarshal(blob, &w))
	assert.Equal(t, devAddress, w.Address)
	assert.Equal(t, defaultIterations, w.Iterations)

	w.Address = "0x0000000000000000000000000000000000000001"
	forged, err := json.Marshal(w)
	require.NoError(t, err)
	_, err = DecryptKey(forged, "hunter2")
	assert.Error(t, err)
}

func TestGenerateKey(t *testing.T) {
	k1, err := GenerateKey()
	require.NoError(t, err)
	k2, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)

	_, err = NewSigner(k1, 1)
	assert.NoError(t, err)
}

func TestLoadKey(t *testing.T) {
	k, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + devKey})
	require.NoError(t, err)
	assert.Equal(t, devKey, k)

	_, err = LoadKey(KeyConfig{RawPrivateKey: "xyz"})
	assert.Error(t, err)

	_, err = LoadKey(KeyConfig{})
	assert.ErrorIs(t, err, ErrNoKey)

	_, err = EncryptKey(devKey, "")
	assert.ErrorIs(t, err, ErrEmptyPassword)
	_, err = EncryptKey("abcd", "pw")
	assert.Error(t, err)
}
