// Copyright 2020 Converter Systems LLC. All rights reserved.

package ua_test

import (
	"testing"

	"github.com/nagarsumit/milo/ua"
	"gotest.tools/assert"
)

func TestCalculatePSHADeterministic(t *testing.T) {
	secret := []byte("a-shared-secret-nonce-value-0123")
	seed := []byte("the-other-partys-nonce-value-456")

	a := ua.CalculatePSHA(secret, seed, 64, ua.SecurityPolicyURIBasic256Sha256)
	b := ua.CalculatePSHA(secret, seed, 64, ua.SecurityPolicyURIBasic256Sha256)
	assert.DeepEqual(t, a, b)
	assert.Equal(t, len(a), 64)

	c := ua.CalculatePSHA(seed, secret, 64, ua.SecurityPolicyURIBasic256Sha256)
	assert.Equal(t, bytesEqual(a, c), false)
}

func TestCalculatePSHAUsesSHA1ForLegacyPolicies(t *testing.T) {
	secret := []byte("secret")
	seed := []byte("seed")
	sha1Based := ua.CalculatePSHA(secret, seed, 20, ua.SecurityPolicyURIBasic128Rsa15)
	sha256Based := ua.CalculatePSHA(secret, seed, 20, ua.SecurityPolicyURIBasic256Sha256)
	assert.Equal(t, bytesEqual(sha1Based, sha256Based), false)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewSecurityPolicyRejectsUnknownURI(t *testing.T) {
	_, err := ua.NewSecurityPolicy("http://example.com/bogus")
	assert.Equal(t, err, ua.BadSecurityPolicyRejected)
}

func TestNewSecurityPolicyNoneForEmptyURI(t *testing.T) {
	p, err := ua.NewSecurityPolicy("")
	assert.NilError(t, err)
	assert.Equal(t, p.URI(), ua.SecurityPolicyURINone)
}

func TestStatusCodeGoodBad(t *testing.T) {
	assert.Equal(t, ua.Good.IsGood(), true)
	assert.Equal(t, ua.Good.IsBad(), false)
	assert.Equal(t, ua.BadDecodingError.IsBad(), true)
	assert.Equal(t, ua.BadDecodingError.IsGood(), false)
	assert.Equal(t, ua.BadDecodingError.Error(), "BadDecodingError")
}
