package lgrnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/errors"
)

func TestSealPassword_RoundTrip(t *testing.T) {
	sealed, err := sealPassword("s3cret")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "s3cret")

	again, err := sealPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")

	pw, err := openPassword(sealed)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pw)
}

func TestOpenPassword_RejectsGarbage(t *testing.T) {
	_, err := openPassword("not base64!")
	assert.True(t, errors.IsInvalid(err))

	sealed, err := sealPassword("pw")
	require.NoError(t, err)
	tampered := []byte(sealed)
	tampered[len(tampered)-2] ^= 0x01
	_, err = openPassword(string(tampered))
	assert.Error(t, err)
}

func TestSettings_WriteReadEncrypted(t *testing.T) {
	s := DefaultSettings()
	s.Address = "10.0.0.5"
	s.Port = 6790
	s.LogonName = "admin"
	s.LogonPassword = "s3cret"
	s.AccessToken = "tok"
	s.EncryptPassword = true

	p := access.NewProperties()
	require.NoError(t, WriteSettings(p, s))
	assert.NotEqual(t, "s3cret", p.String(PropLogonPassword, ""))
	assert.Equal(t, "true", p.String(PropPasswordEncrypted, ""))

	got, err := ReadSettings(p, DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestSettings_RememberFalseOmitsCredentials(t *testing.T) {
	s := DefaultSettings()
	s.LogonName = "admin"
	s.LogonPassword = "s3cret"
	s.Remember = false

	p := access.NewProperties()
	require.NoError(t, WriteSettings(p, s))
	assert.False(t, p.Has(PropLogonName))
	assert.False(t, p.Has(PropLogonPassword))
	assert.Equal(t, "false", p.String(PropRemember, ""))
}

func TestReadSettings_Errors(t *testing.T) {
	p := access.PropertiesFromMap(map[string]string{PropPort: "99999"})
	_, err := ReadSettings(p, DefaultSettings())
	assert.Error(t, err)

	p = access.PropertiesFromMap(map[string]string{PropAddress: ""})
	_, err = ReadSettings(p, DefaultSettings())
	assert.True(t, errors.IsInvalid(err))
}

func TestSettings_SameEndpoint(t *testing.T) {
	a := DefaultSettings()
	b := a
	b.Remember = false
	assert.True(t, a.sameEndpoint(b))

	b.LogonName = "other"
	assert.False(t, a.sameEndpoint(b))
}

func TestFailureOf(t *testing.T) {
	assert.Equal(t, access.FailureUnknown, FailureOf(nil))
	assert.Equal(t, access.FailureInvalidTableName, FailureOf(NewFailureError(access.FailureInvalidTableName, "x")))
	assert.Equal(t, access.FailureConnectionFailed, FailureOf(assert.AnError))
	assert.Equal(t, "invalid_table_name: x", NewFailureError(access.FailureInvalidTableName, "x").Error())
}
