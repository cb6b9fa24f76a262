// Copyright 2020 Converter Systems LLC. All rights reserved.

package uasc

import (
	"testing"
	"time"

	"github.com/nagarsumit/milo/ua"
	"gotest.tools/assert"
)

func TestTokenSetInstallDemotesCurrentAndDropsOldPrevious(t *testing.T) {
	var set tokenSet

	first := &SecurityToken{ChannelSecurityToken: ua.ChannelSecurityToken{TokenID: 1}}
	second := &SecurityToken{ChannelSecurityToken: ua.ChannelSecurityToken{TokenID: 2}}
	third := &SecurityToken{ChannelSecurityToken: ua.ChannelSecurityToken{TokenID: 3}}

	set.install(first)
	assert.Equal(t, set.current, first)
	assert.Equal(t, set.previous == nil, true)

	set.install(second)
	assert.Equal(t, set.current, second)
	assert.Equal(t, set.previous, first)

	set.install(third)
	assert.Equal(t, set.current, third)
	assert.Equal(t, set.previous, second)

	_, ok := set.lookup(1)
	assert.Equal(t, ok, false)
}

func TestTokenSetLookupFindsCurrentAndPrevious(t *testing.T) {
	var set tokenSet
	older := &SecurityToken{ChannelSecurityToken: ua.ChannelSecurityToken{TokenID: 5}}
	newer := &SecurityToken{ChannelSecurityToken: ua.ChannelSecurityToken{TokenID: 6}}
	set.install(older)
	set.install(newer)

	got, ok := set.lookup(6)
	assert.Equal(t, ok, true)
	assert.Equal(t, got, newer)

	got, ok = set.lookup(5)
	assert.Equal(t, ok, true)
	assert.Equal(t, got, older)

	_, ok = set.lookup(99)
	assert.Equal(t, ok, false)
}

func TestRenewalTimeIsSeventyFivePercentOfLifetime(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := &SecurityToken{ChannelSecurityToken: ua.ChannelSecurityToken{
		CreatedAt:       created,
		RevisedLifetime: 10000,
	}}

	want := created.Add(7500 * time.Millisecond)
	assert.Equal(t, renewalTime(tok).Equal(want), true)
}

func TestDeriveSymmetricKeysProducesCorrectlySizedMaterial(t *testing.T) {
	policy, err := ua.NewSecurityPolicy(ua.SecurityPolicyURIBasic256Sha256)
	assert.NilError(t, err)

	secret := make([]byte, 32)
	seed := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
		seed[i] = byte(i + 1)
	}

	keys, err := deriveSymmetricKeys(policy, secret, seed)
	assert.NilError(t, err)
	assert.Equal(t, len(keys.SigningKey), policy.SymSignatureKeySize())
	assert.Equal(t, len(keys.EncryptingKey), policy.SymEncryptionKeySize())
	assert.Equal(t, len(keys.IV), policy.SymEncryptionBlockSize())
	assert.Equal(t, keys.BlockCipher() != nil, true)
	assert.Equal(t, keys.HMAC() != nil, true)
}
