// Package vault encrypts credentials stored at rest with a passphrase.
//
// Values are OpenPGP messages encrypted with a password (symmetric
// encryption) and stored armored, so they survive JSON round trips.
package vault

import (
	"strings"

	"github.com/ProtonMail/gopenpgp/v3/crypto"
	"github.com/cockroachdb/errors"
)

const armorHeader = "-----BEGIN PGP MESSAGE-----"

// ErrNoPassphrase is returned when a Vault is built without a passphrase.
var ErrNoPassphrase = errors.New("vault passphrase is not set")

// Vault encrypts and decrypts values with one passphrase.
type Vault struct {
	pgp        *crypto.PGPHandle
	passphrase []byte
}

// New returns a Vault for passphrase.
func New(passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}
	return &Vault{
		pgp:        crypto.PGP(),
		passphrase: []byte(passphrase),
	}, nil
}

// IsEncrypted reports whether value looks like an armored message.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), armorHeader)
}

// Encrypt returns the armored ciphertext of plaintext. Values that are
// already encrypted are returned unchanged.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if IsEncrypted(plaintext) {
		return plaintext, nil
	}
	handle, err := v.pgp.Encryption().Password(v.passphrase).New()
	if err != nil {
		return "", errors.Wrap(err, "vault: build encryption handle")
	}
	msg, err := handle.Encrypt([]byte(plaintext))
	if err != nil {
		return "", errors.Wrap(err, "vault: encrypt")
	}
	armored, err := msg.ArmorBytes()
	if err != nil {
		return "", errors.Wrap(err, "vault: armor")
	}
	return string(armored), nil
}

// Decrypt returns the plaintext of an armored value. Values that are not
// encrypted are returned unchanged.
func (v *Vault) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	handle, err := v.pgp.Decryption().Password(v.passphrase).New()
	if err != nil {
		return "", errors.Wrap(err, "vault: build decryption handle")
	}
	res, err := handle.Decrypt([]byte(value), crypto.Armor)
	if err != nil {
		return "", errors.Wrap(err, "vault: decrypt (wrong passphrase?)")
	}
	return string(res.Bytes()), nil
}
