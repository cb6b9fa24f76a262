// Copyright 2020 Converter Systems LLC. All rights reserved.

package uasc

import (
	"crypto/aes"
	"crypto/cipher"
	"hash"
	"time"

	"github.com/nagarsumit/milo/ua"
)

// SymmetricKeys is one direction's derived signing key, encrypting key, and
// initialization vector, plus the hash/cipher objects built from them.
type SymmetricKeys struct {
	SigningKey    []byte
	EncryptingKey []byte
	IV            []byte
	hmacFactory   func() hash.Hash
	block         cipher.Block
}

func deriveSymmetricKeys(policy ua.SecurityPolicy, secret, seed []byte) (*SymmetricKeys, error) {
	signingSize := policy.SymSignatureKeySize()
	encryptingSize := policy.SymEncryptionKeySize()
	ivSize := policy.SymEncryptionBlockSize()
	material := ua.CalculatePSHA(secret, seed, signingSize+encryptingSize+ivSize, policy.URI())

	k := &SymmetricKeys{
		SigningKey:    append([]byte(nil), material[:signingSize]...),
		EncryptingKey: append([]byte(nil), material[signingSize:signingSize+encryptingSize]...),
		IV:            append([]byte(nil), material[signingSize+encryptingSize:]...),
	}
	k.hmacFactory = func() hash.Hash { return policy.SymHMACFactory(k.SigningKey) }
	if encryptingSize > 0 {
		block, err := aes.NewCipher(k.EncryptingKey)
		if err != nil {
			return nil, ua.BadSecurityChecksFailed
		}
		k.block = block
	}
	return k, nil
}

// HMAC returns a fresh keyed hash for signing or verifying with this key set.
func (k *SymmetricKeys) HMAC() hash.Hash { return k.hmacFactory() }

// BlockCipher returns the AES block cipher built from this key set's
// encrypting key, or nil when the security policy has no encrypting key
// (policy None). It is non-nil under a real policy even when the channel's
// security mode doesn't encrypt.
func (k *SymmetricKeys) BlockCipher() cipher.Block { return k.block }

// SecurityToken pairs a ChannelSecurityToken with the symmetric keys derived
// from it and the nonces that produced them.
type SecurityToken struct {
	ua.ChannelSecurityToken
	LocalNonce  []byte
	RemoteNonce []byte
	Local       *SymmetricKeys
	Remote      *SymmetricKeys
}

// tokenSet tracks the current and, briefly, the previous security token for
// a channel. The channel accepts either token's id on an inbound chunk until
// the previous one is evicted; at most one predecessor is ever retained, so
// installing a third token outright discards the oldest.
type tokenSet struct {
	current  *SecurityToken
	previous *SecurityToken
}

// install makes tok the current token, demoting the existing current token
// to previous and discarding whatever was previously the previous token.
func (t *tokenSet) install(tok *SecurityToken) {
	t.previous = t.current
	t.current = tok
}

// lookup returns the token matching tokenID, checking current before previous.
func (t *tokenSet) lookup(tokenID uint32) (*SecurityToken, bool) {
	if t.current != nil && t.current.TokenID == tokenID {
		return t.current, true
	}
	if t.previous != nil && t.previous.TokenID == tokenID {
		return t.previous, true
	}
	return nil, false
}

// renewalTime is 75% of the revised lifetime after the token was created,
// the point at which the channel should have already sent a renew request.
func renewalTime(tok *SecurityToken) time.Time {
	return tok.CreatedAt.Add(time.Duration(tok.RevisedLifetime) * time.Millisecond * 75 / 100)
}
