package lgrnet

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/errors"
)

// DefaultPort is the LoggerNet server port
const DefaultPort uint16 = 6789

// Property names
const (
	PropAddress           = "address"
	PropPort              = "port"
	PropLogonName         = "logon-name"
	PropLogonPassword     = "logon-password"
	PropPasswordEncrypted = "logon-password-encrypted"
	PropAccessToken       = "access-token"
	PropRefreshToken      = "refresh-token"
	PropRemember          = "remember"
	PropSubjectPrefix     = "subject-prefix"
)

// DefaultSubjectPrefix roots the NATS subjects of the gateway
const DefaultSubjectPrefix = "lgrnet"

// Settings are the connection properties of a LoggerNet source
type Settings struct {
	Address       string
	Port          uint16
	LogonName     string
	LogonPassword string
	AccessToken   string
	RefreshToken  string
	Remember      bool
	SubjectPrefix string

	// EncryptPassword seals the password when properties are written
	EncryptPassword bool
}

// DefaultSettings returns settings for a local server
func DefaultSettings() Settings {
	return Settings{
		Address:       "localhost",
		Port:          DefaultPort,
		Remember:      true,
		SubjectPrefix: DefaultSubjectPrefix,
	}
}

// Logon returns the credentials to present
func (s Settings) Logon() Logon {
	return Logon{
		Name:         s.LogonName,
		Password:     s.LogonPassword,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
	}
}

// sameEndpoint reports whether a reconnect is needed to apply o
func (s Settings) sameEndpoint(o Settings) bool {
	return s.Address == o.Address && s.Port == o.Port && s.Logon() == o.Logon() && s.SubjectPrefix == o.SubjectPrefix
}

var passwordKey = func() *[32]byte {
	sum := sha256.Sum256([]byte("lgraccess logon password"))
	return &sum
}()

// sealPassword encrypts pw for storage in a property file
func sealPassword(pw string) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", errors.WrapTransient(err, "lgrnet", "sealPassword", "nonce")
	}
	sealed := secretbox.Seal(nonce[:], []byte(pw), &nonce, passwordKey)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// openPassword reverses sealPassword
func openPassword(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) < 24 {
		return "", errors.WrapInvalid(errors.ErrParsingFailed, "lgrnet", "openPassword", "decode")
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	pw, ok := secretbox.Open(nil, raw[24:], &nonce, passwordKey)
	if !ok {
		return "", errors.WrapInvalid(errors.ErrDataCorrupted, "lgrnet", "openPassword", "unseal")
	}
	return string(pw), nil
}

// ReadSettings parses the properties of a LoggerNet source
func ReadSettings(p *access.Properties, def Settings) (Settings, error) {
	s := def
	s.Address = p.String(PropAddress, def.Address)
	port, err := p.Uint16(PropPort, def.Port)
	if err != nil {
		return def, err
	}
	s.Port = port
	s.LogonName = p.String(PropLogonName, def.LogonName)
	encrypted, err := p.Bool(PropPasswordEncrypted, false)
	if err != nil {
		return def, err
	}
	s.EncryptPassword = encrypted
	s.LogonPassword = p.String(PropLogonPassword, def.LogonPassword)
	if encrypted && p.Has(PropLogonPassword) && s.LogonPassword != "" {
		if s.LogonPassword, err = openPassword(s.LogonPassword); err != nil {
			return def, err
		}
	}
	s.AccessToken = p.String(PropAccessToken, def.AccessToken)
	s.RefreshToken = p.String(PropRefreshToken, def.RefreshToken)
	if s.Remember, err = p.Bool(PropRemember, def.Remember); err != nil {
		return def, err
	}
	s.SubjectPrefix = p.String(PropSubjectPrefix, def.SubjectPrefix)
	if s.Address == "" {
		return def, errors.WrapInvalid(errors.ErrMissingConfig, "lgrnet", "ReadSettings", PropAddress+" check")
	}
	return s, nil
}

// WriteSettings stores s. Credentials are only written when Remember is set.
func WriteSettings(p *access.Properties, s Settings) error {
	p.Set(PropAddress, s.Address)
	p.SetUint16(PropPort, s.Port)
	p.SetBool(PropRemember, s.Remember)
	if s.SubjectPrefix != "" {
		p.Set(PropSubjectPrefix, s.SubjectPrefix)
	}
	if !s.Remember {
		return nil
	}
	p.Set(PropLogonName, s.LogonName)
	if s.LogonPassword != "" {
		pw := s.LogonPassword
		if s.EncryptPassword {
			sealed, err := sealPassword(pw)
			if err != nil {
				return err
			}
			pw = sealed
		}
		p.Set(PropLogonPassword, pw)
		p.SetBool(PropPasswordEncrypted, s.EncryptPassword)
	}
	if s.AccessToken != "" {
		p.Set(PropAccessToken, s.AccessToken)
	}
	if s.RefreshToken != "" {
		p.Set(PropRefreshToken, s.RefreshToken)
	}
	return nil
}
