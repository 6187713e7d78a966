package crypto

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/google/uuid"

	"trustclient/errcode"
)

// PassphraseEnv is the environment variable read when no passphrase
// variable is configured.
const PassphraseEnv = "TRUSTCLIENT_KEYSTORE_PASSPHRASE"

// CreateKeystore generates a signing key, stores it encrypted at path and
// returns a signer holding it.
func CreateKeystore(path, passphrase string) (*Signer, error) {
	key, err := GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	if err := writeKeystore(path, key, passphrase); err != nil {
		return nil, err
	}
	return NewSigner(key), nil
}

// OpenKeystore decrypts the v3 keystore at path and returns a signer for its
// key. A wrong passphrase is reported with errcode.Pass.
func OpenKeystore(path, passphrase string) (*Signer, error) {
	if path == "" {
		return nil, errcode.New(errcode.Config, "no keystore configured")
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, errcode.Wrap(errcode.Config, "read keystore "+path, err)
	}
	dec, err := keystore.DecryptKey(blob, passphrase)
	if errors.Is(err, keystore.ErrDecrypt) {
		return nil, errcode.Wrap(errcode.Pass, "decrypt keystore "+path, err)
	}
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidData, "decrypt keystore "+path, err)
	}
	return NewSigner(&PrivateKey{dec.PrivateKey}), nil
}

// LoadSigner opens the keystore at path with the passphrase held in the
// environment variable passphraseEnv.
func LoadSigner(path, passphraseEnv string) (*Signer, error) {
	if passphraseEnv == "" {
		passphraseEnv = PassphraseEnv
	}
	return OpenKeystore(path, os.Getenv(passphraseEnv))
}

// writeKeystore encrypts key and replaces path atomically, leaving the file
// readable by the owner only.
func writeKeystore(path string, key *PrivateKey, passphrase string) error {
	if path == "" {
		return errcode.New(errcode.Config, "no keystore path")
	}
	blob, err := keystore.EncryptKey(&keystore.Key{
		Id:         uuid.New(),
		Address:    key.Address(),
		PrivateKey: key.PrivateKey,
	}, passphrase, keystore.StandardScryptN, keystore.StandardScryptP)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".keystore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
