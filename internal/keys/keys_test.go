package keys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTripsBothKinds(t *testing.T) {
	pair, err := Generate()
	require.NoError(t, err)

	privPEM, err := Encode(pair.Private)
	require.NoError(t, err)
	assert.Contains(t, string(privPEM), "BEGIN PRIVATE KEY")

	pubPEM, err := Encode(pair.Public)
	require.NoError(t, err)
	assert.Contains(t, string(pubPEM), "BEGIN PUBLIC KEY")

	priv, err := Decode(privPEM, KindPrivate)
	require.NoError(t, err)
	assert.Equal(t, KindPrivate, priv.Kind())
	assert.True(t, priv.PublicKey().Equal(pair.Public.PublicKey()))

	pub, err := Decode(pubPEM, KindPublic)
	require.NoError(t, err)
	assert.True(t, pub.PublicKey().Equal(pair.Public.PublicKey()))
}

func TestDecode_WrongKind(t *testing.T) {
	pair, err := Generate()
	require.NoError(t, err)
	privPEM, err := Encode(pair.Private)
	require.NoError(t, err)
	pubPEM, err := Encode(pair.Public)
	require.NoError(t, err)

	_, err = Decode(privPEM, KindPublic)
	assert.ErrorIs(t, err, ErrWrongKeyType)

	_, err = Decode(pubPEM, KindPrivate)
	assert.ErrorIs(t, err, ErrWrongKeyType)

	_, err = Decode([]byte("not pem"), KindPublic)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestPublicKeyCannotSign(t *testing.T) {
	pair, err := Generate()
	require.NoError(t, err)

	_, err = pair.Public.PrivateKey()
	assert.ErrorIs(t, err, ErrWrongKeyType)
	assert.Equal(t, KindPublic, pair.Private.Public().Kind())
}

func TestExportPair_FilePermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	pair, err := Generate()
	require.NoError(t, err)
	require.NoError(t, ExportPair(pair, dir))

	info, err := os.Stat(filepath.Join(dir, PrivateKeyFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := ImportPair(dir)
	require.NoError(t, err)
	assert.True(t, loaded.Public.PublicKey().Equal(pair.Public.PublicKey()))
}

func TestImportPair_Mismatch(t *testing.T) {
	dir := t.TempDir()
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)
	require.NoError(t, Export(a.Private, filepath.Join(dir, PrivateKeyFile)))
	require.NoError(t, Export(b.Public, filepath.Join(dir, PublicKeyFile)))

	_, err = ImportPair(dir)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestLoadOrGenerate(t *testing.T) {
	dir := t.TempDir()

	_, _, err := LoadOrGenerate(dir, false)
	assert.Error(t, err)

	first, created, err := LoadOrGenerate(dir, true)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := LoadOrGenerate(dir, true)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, first.Public.PublicKey().Equal(second.Public.PublicKey()))
}
