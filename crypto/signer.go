package crypto

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"trustclient/errcode"
	"trustclient/plugin"
)

// Signer implements plugin.Signer for a set of local keys. Signatures are 65
// bytes, r || s || v with v in {27, 28}.
type Signer struct {
	mu    sync.RWMutex
	keys  map[common.Address]*PrivateKey
	order []common.Address
}

var _ plugin.Signer = (*Signer)(nil)

// NewSigner returns a signer holding keys. The first key signs requests that
// do not name an account.
func NewSigner(keys ...*PrivateKey) *Signer {
	s := &Signer{keys: make(map[common.Address]*PrivateKey)}
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

// Add registers another key.
func (s *Signer) Add(k *PrivateKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := k.Address()
	if _, ok := s.keys[addr]; !ok {
		s.order = append(s.order, addr)
	}
	s.keys[addr] = k
}

// Accounts lists the accounts in registration order.
func (s *Signer) Accounts() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]common.Address(nil), s.order...)
}

// Sign hashes req.Message as requested and signs the digest.
func (s *Signer) Sign(ctx context.Context, req *plugin.SignRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := s.key(req.Account)
	if err != nil {
		return nil, err
	}
	digest, err := Digest(req.Digest, req.Message)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, key.PrivateKey)
	if err != nil {
		return nil, errcode.Wrap(errcode.Unknown, "sign", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func (s *Signer) key(account common.Address) (*PrivateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if account == (common.Address{}) {
		if len(s.order) == 0 {
			return nil, errcode.New(errcode.Config, "no signing key configured")
		}
		return s.keys[s.order[0]], nil
	}
	key, ok := s.keys[account]
	if !ok {
		return nil, errcode.Newf(errcode.NotFound, "no key for account %s", account.Hex())
	}
	return key, nil
}

// Digest returns the 32 byte value that is signed for message.
func Digest(kind plugin.Digest, message []byte) ([]byte, error) {
	switch kind {
	case plugin.DigestRaw:
		if len(message) != common.HashLength {
			return nil, errcode.Newf(errcode.Invalid, "raw messages must be %d bytes, got %d", common.HashLength, len(message))
		}
		return message, nil
	case plugin.DigestKeccak:
		return crypto.Keccak256(message), nil
	case plugin.DigestEthMessage:
		return accounts.TextHash(message), nil
	}
	return nil, errcode.New(errcode.NotSupported, fmt.Sprintf("unknown digest %d", kind))
}

// RecoverSigner returns the account that produced sig over message.
func RecoverSigner(kind plugin.Digest, message, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errcode.Newf(errcode.InvalidData, "signature must be %d bytes", crypto.SignatureLength)
	}
	digest, err := Digest(kind, message)
	if err != nil {
		return common.Address{}, err
	}
	normalized := append([]byte(nil), sig...)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, errcode.Wrap(errcode.InvalidData, "recover signer", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
