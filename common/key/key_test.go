package key

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drand/ceremony/crypto"
)

func TestMnemonic(t *testing.T) {
	phrase, err := NewMnemonic()
	require.NoError(t, err)
	require.Len(t, strings.Fields(phrase), MnemonicWords)

	k1, err := FromMnemonic(phrase, "")
	require.NoError(t, err)
	k2, err := MnemonicProvider("  "+strings.ToUpper(phrase)+"\n", "")()
	require.NoError(t, err)
	require.Equal(t, k1.PublicKey(), k2.PublicKey())

	k3, err := FromMnemonic(phrase, "passphrase")
	require.NoError(t, err)
	require.NotEqual(t, k1.PublicKey(), k3.PublicKey())

	words := strings.Fields(phrase)
	_, err = FromMnemonic(strings.Join(words[:12], " "), "")
	require.ErrorIs(t, err, ErrInvalidMnemonic)

	_, err = FromMnemonic(strings.Repeat("notaword ", MnemonicWords), "")
	require.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultKeyFile)
	kp := crypto.NewKeypair()
	require.NoError(t, Save(path, kp))

	loaded, err := FileProvider(path)()
	require.NoError(t, err)
	require.Equal(t, kp.PublicKey(), loaded.PublicKey())

	other := crypto.NewKeypair()
	tampered := strings.Replace(readFile(t, path), kp.PublicKey(), other.PublicKey(), 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0600))
	_, err = Load(path)
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}
