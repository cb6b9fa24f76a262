// Copyright 2020 Converter Systems LLC. All rights reserved.

package ua

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"hash"
)

// Security policy URIs, as sent in the AsymmetricSecurityHeader.
const (
	SecurityPolicyURINone                = "http://opcfoundation.org/UA/SecurityPolicy#None"
	SecurityPolicyURIBasic128Rsa15       = "http://opcfoundation.org/UA/SecurityPolicy#Basic128Rsa15"
	SecurityPolicyURIBasic256            = "http://opcfoundation.org/UA/SecurityPolicy#Basic256"
	SecurityPolicyURIBasic256Sha256      = "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256"
	SecurityPolicyURIAes128Sha256RsaOaep = "http://opcfoundation.org/UA/SecurityPolicy#Aes128_Sha256_RsaOaep"
)

// SecurityPolicy supplies the asymmetric and symmetric primitives named by a
// security policy URI. The secure channel core only ever calls through this
// interface, never crypto/* directly, so a policy can be swapped or faked in
// tests.
type SecurityPolicy interface {
	URI() string
	RSASign(priv *rsa.PrivateKey, plainText []byte) ([]byte, error)
	RSAVerify(pub *rsa.PublicKey, plainText, signature []byte) error
	RSAEncrypt(pub *rsa.PublicKey, plainText []byte) ([]byte, error)
	RSADecrypt(priv *rsa.PrivateKey, cipherText []byte) ([]byte, error)
	SymHMACFactory(key []byte) hash.Hash
	RSAPaddingSize() int
	SymSignatureSize() int
	SymSignatureKeySize() int
	SymEncryptionBlockSize() int
	SymEncryptionKeySize() int
	NonceSize() int
}

// NewSecurityPolicy resolves a security policy URI to an implementation, or
// BadSecurityPolicyRejected if the URI is unrecognized.
func NewSecurityPolicy(uri string) (SecurityPolicy, error) {
	switch uri {
	case "", SecurityPolicyURINone:
		return &PolicyNone{}, nil
	case SecurityPolicyURIBasic128Rsa15:
		return &PolicyBasic128Rsa15{}, nil
	case SecurityPolicyURIBasic256:
		return &PolicyBasic256{}, nil
	case SecurityPolicyURIBasic256Sha256:
		return &PolicyBasic256Sha256{}, nil
	case SecurityPolicyURIAes128Sha256RsaOaep:
		return &PolicyAes128Sha256RsaOaep{}, nil
	default:
		return nil, BadSecurityPolicyRejected
	}
}

// PolicyNone is used when MessageSecurityMode is None: no signing, no
// encryption, no nonce.
type PolicyNone struct{}

func (p *PolicyNone) URI() string { return SecurityPolicyURINone }
func (p *PolicyNone) RSASign(priv *rsa.PrivateKey, plainText []byte) ([]byte, error) {
	return nil, BadSecurityPolicyRejected
}
func (p *PolicyNone) RSAVerify(pub *rsa.PublicKey, plainText, signature []byte) error {
	return BadSecurityPolicyRejected
}
func (p *PolicyNone) RSAEncrypt(pub *rsa.PublicKey, plainText []byte) ([]byte, error) {
	return nil, BadSecurityPolicyRejected
}
func (p *PolicyNone) RSADecrypt(priv *rsa.PrivateKey, cipherText []byte) ([]byte, error) {
	return nil, BadSecurityPolicyRejected
}
func (p *PolicyNone) SymHMACFactory(key []byte) hash.Hash  { return nil }
func (p *PolicyNone) RSAPaddingSize() int                  { return 0 }
func (p *PolicyNone) SymSignatureSize() int                { return 0 }
func (p *PolicyNone) SymSignatureKeySize() int              { return 0 }
func (p *PolicyNone) SymEncryptionBlockSize() int           { return 1 }
func (p *PolicyNone) SymEncryptionKeySize() int             { return 0 }
func (p *PolicyNone) NonceSize() int                        { return 0 }

// PolicyBasic128Rsa15 implements http://opcfoundation.org/UA/SecurityPolicy#Basic128Rsa15.
type PolicyBasic128Rsa15 struct{}

func (p *PolicyBasic128Rsa15) URI() string { return SecurityPolicyURIBasic128Rsa15 }
func (p *PolicyBasic128Rsa15) RSASign(priv *rsa.PrivateKey, plainText []byte) ([]byte, error) {
	hashed := sha1.Sum(plainText)
	return rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA1, hashed[:])
}
func (p *PolicyBasic128Rsa15) RSAVerify(pub *rsa.PublicKey, plainText, signature []byte) error {
	hashed := sha1.Sum(plainText)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA1, hashed[:], signature)
}
func (p *PolicyBasic128Rsa15) RSAEncrypt(pub *rsa.PublicKey, plainText []byte) ([]byte, error) {
	return rsa.EncryptPKCS1v15(rand.Reader, pub, plainText)
}
func (p *PolicyBasic128Rsa15) RSADecrypt(priv *rsa.PrivateKey, cipherText []byte) ([]byte, error) {
	return rsa.DecryptPKCS1v15(rand.Reader, priv, cipherText)
}
func (p *PolicyBasic128Rsa15) SymHMACFactory(key []byte) hash.Hash { return hmac.New(sha1.New, key) }
func (p *PolicyBasic128Rsa15) RSAPaddingSize() int                 { return 11 }
func (p *PolicyBasic128Rsa15) SymSignatureSize() int               { return 20 }
func (p *PolicyBasic128Rsa15) SymSignatureKeySize() int            { return 16 }
func (p *PolicyBasic128Rsa15) SymEncryptionBlockSize() int         { return 16 }
func (p *PolicyBasic128Rsa15) SymEncryptionKeySize() int           { return 16 }
func (p *PolicyBasic128Rsa15) NonceSize() int                      { return 16 }

// PolicyBasic256 implements http://opcfoundation.org/UA/SecurityPolicy#Basic256.
type PolicyBasic256 struct{}

func (p *PolicyBasic256) URI() string { return SecurityPolicyURIBasic256 }
func (p *PolicyBasic256) RSASign(priv *rsa.PrivateKey, plainText []byte) ([]byte, error) {
	hashed := sha1.Sum(plainText)
	return rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA1, hashed[:])
}
func (p *PolicyBasic256) RSAVerify(pub *rsa.PublicKey, plainText, signature []byte) error {
	hashed := sha1.Sum(plainText)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA1, hashed[:], signature)
}
func (p *PolicyBasic256) RSAEncrypt(pub *rsa.PublicKey, plainText []byte) ([]byte, error) {
	return rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, plainText, []byte{})
}
func (p *PolicyBasic256) RSADecrypt(priv *rsa.PrivateKey, cipherText []byte) ([]byte, error) {
	return rsa.DecryptOAEP(sha1.New(), rand.Reader, priv, cipherText, []byte{})
}
func (p *PolicyBasic256) SymHMACFactory(key []byte) hash.Hash { return hmac.New(sha1.New, key) }
func (p *PolicyBasic256) RSAPaddingSize() int                 { return 42 }
func (p *PolicyBasic256) SymSignatureSize() int               { return 20 }
func (p *PolicyBasic256) SymSignatureKeySize() int            { return 24 }
func (p *PolicyBasic256) SymEncryptionBlockSize() int         { return 16 }
func (p *PolicyBasic256) SymEncryptionKeySize() int           { return 32 }
func (p *PolicyBasic256) NonceSize() int                      { return 32 }

// PolicyBasic256Sha256 implements http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256.
type PolicyBasic256Sha256 struct{}

func (p *PolicyBasic256Sha256) URI() string { return SecurityPolicyURIBasic256Sha256 }
func (p *PolicyBasic256Sha256) RSASign(priv *rsa.PrivateKey, plainText []byte) ([]byte, error) {
	hashed := sha256.Sum256(plainText)
	return rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, hashed[:])
}
func (p *PolicyBasic256Sha256) RSAVerify(pub *rsa.PublicKey, plainText, signature []byte) error {
	hashed := sha256.Sum256(plainText)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, hashed[:], signature)
}
func (p *PolicyBasic256Sha256) RSAEncrypt(pub *rsa.PublicKey, plainText []byte) ([]byte, error) {
	return rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, plainText, []byte{})
}
func (p *PolicyBasic256Sha256) RSADecrypt(priv *rsa.PrivateKey, cipherText []byte) ([]byte, error) {
	return rsa.DecryptOAEP(sha1.New(), rand.Reader, priv, cipherText, []byte{})
}
func (p *PolicyBasic256Sha256) SymHMACFactory(key []byte) hash.Hash {
	return hmac.New(sha256.New, key)
}
func (p *PolicyBasic256Sha256) RSAPaddingSize() int         { return 42 }
func (p *PolicyBasic256Sha256) SymSignatureSize() int       { return 32 }
func (p *PolicyBasic256Sha256) SymSignatureKeySize() int    { return 32 }
func (p *PolicyBasic256Sha256) SymEncryptionBlockSize() int { return 16 }
func (p *PolicyBasic256Sha256) SymEncryptionKeySize() int   { return 32 }
func (p *PolicyBasic256Sha256) NonceSize() int              { return 32 }

// PolicyAes128Sha256RsaOaep implements http://opcfoundation.org/UA/SecurityPolicy#Aes128_Sha256_RsaOaep.
type PolicyAes128Sha256RsaOaep struct{}

func (p *PolicyAes128Sha256RsaOaep) URI() string { return SecurityPolicyURIAes128Sha256RsaOaep }
func (p *PolicyAes128Sha256RsaOaep) RSASign(priv *rsa.PrivateKey, plainText []byte) ([]byte, error) {
	hashed := sha256.Sum256(plainText)
	return rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, hashed[:])
}
func (p *PolicyAes128Sha256RsaOaep) RSAVerify(pub *rsa.PublicKey, plainText, signature []byte) error {
	hashed := sha256.Sum256(plainText)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, hashed[:], signature)
}
func (p *PolicyAes128Sha256RsaOaep) RSAEncrypt(pub *rsa.PublicKey, plainText []byte) ([]byte, error) {
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plainText, []byte{})
}
func (p *PolicyAes128Sha256RsaOaep) RSADecrypt(priv *rsa.PrivateKey, cipherText []byte) ([]byte, error) {
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, cipherText, []byte{})
}
func (p *PolicyAes128Sha256RsaOaep) SymHMACFactory(key []byte) hash.Hash {
	return hmac.New(sha256.New, key)
}
func (p *PolicyAes128Sha256RsaOaep) RSAPaddingSize() int         { return 66 }
func (p *PolicyAes128Sha256RsaOaep) SymSignatureSize() int       { return 32 }
func (p *PolicyAes128Sha256RsaOaep) SymSignatureKeySize() int    { return 32 }
func (p *PolicyAes128Sha256RsaOaep) SymEncryptionBlockSize() int { return 16 }
func (p *PolicyAes128Sha256RsaOaep) SymEncryptionKeySize() int   { return 16 }
func (p *PolicyAes128Sha256RsaOaep) NonceSize() int              { return 32 }

// CalculatePSHA implements the pseudo-random function (P_SHA1 or P_SHA256,
// chosen by policy) that OPC UA uses to derive symmetric keys from the two
// peers' nonces.
func CalculatePSHA(secret, seed []byte, sizeBytes int, securityPolicyURI string) []byte {
	var mac hash.Hash
	switch securityPolicyURI {
	case SecurityPolicyURIBasic128Rsa15, SecurityPolicyURIBasic256:
		mac = hmac.New(sha1.New, secret)
	default:
		mac = hmac.New(sha256.New, secret)
	}
	size := mac.Size()
	output := make([]byte, sizeBytes)
	a := seed
	iterations := (sizeBytes + size - 1) / size
	for i := 0; i < iterations; i++ {
		mac.Reset()
		mac.Write(a)
		a = mac.Sum(nil)
		mac.Reset()
		mac.Write(a)
		mac.Write(seed)
		buf := mac.Sum(nil)
		m := size * i
		n := sizeBytes - m
		if n > size {
			n = size
		}
		copy(output[m:m+n], buf)
	}
	return output
}
