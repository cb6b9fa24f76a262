// Copyright 2020 Converter Systems LLC. All rights reserved.

package ua

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"os"
	"time"
)

// CertificateValidator is consumed by the handshake controller to validate
// the server certificate presented in an OpenSecureChannel response.
type CertificateValidator interface {
	Validate(cert *x509.Certificate) error
	VerifyTrustChain(chain []*x509.Certificate) error
}

// DecodeCertificateChain parses a DER-encoded certificate chain as sent in
// an AsymmetricSecurityHeader's senderCertificate field. OPC UA applications
// in practice send a single leaf certificate here; any trailing DER-encoded
// certificates (a full chain) are parsed as additional, higher elements.
func DecodeCertificateChain(der []byte) ([]*x509.Certificate, error) {
	certs, err := x509.ParseCertificates(der)
	if err != nil || len(certs) == 0 {
		return nil, BadCertificateInvalid
	}
	return certs, nil
}

// X509Validator validates server certificates against an optional trusted
// certificate bundle on disk, mirroring the checks a client application
// instance performs before trusting a server's AsymmetricSecurityHeader.
type X509Validator struct {
	Hostname                           string
	TrustedCertsFile                   string
	SuppressHostNameInvalid            bool
	SuppressCertificateTimeInvalid     bool
	SuppressCertificateChainIncomplete bool
}

// Validate checks a single certificate's time window and (unless suppressed)
// hostname, without attempting to build a trust chain.
func (v *X509Validator) Validate(cert *x509.Certificate) error {
	if cert == nil {
		return BadCertificateInvalid
	}
	if !v.SuppressCertificateTimeInvalid {
		now := time.Now()
		if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			return BadCertificateTimeInvalid
		}
	}
	if !v.SuppressHostNameInvalid && v.Hostname != "" {
		if err := cert.VerifyHostname(v.Hostname); err != nil {
			return BadCertificateHostNameInvalid
		}
	}
	return nil
}

// VerifyTrustChain builds and verifies a chain rooted in the configured
// trusted-certs bundle (or the OS root pool if none is configured).
func (v *X509Validator) VerifyTrustChain(chain []*x509.Certificate) error {
	if len(chain) == 0 {
		return BadCertificateInvalid
	}
	leaf := chain[0]

	var roots, intermediates *x509.CertPool
	if buf, err := os.ReadFile(v.TrustedCertsFile); err == nil {
		roots, intermediates = splitTrustBundle(buf)
	}

	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSName:       v.Hostname,
	}
	if v.SuppressHostNameInvalid {
		opts.DNSName = ""
	}
	if v.SuppressCertificateTimeInvalid {
		opts.CurrentTime = leaf.NotBefore
	}
	if v.SuppressCertificateChainIncomplete {
		if opts.Roots == nil {
			opts.Roots = x509.NewCertPool()
		}
		opts.Roots.AddCert(leaf)
	}

	if _, err := leaf.Verify(opts); err != nil {
		switch se := err.(type) {
		case x509.CertificateInvalidError:
			switch se.Reason {
			case x509.Expired:
				return BadCertificateTimeInvalid
			case x509.IncompatibleUsage:
				return BadCertificateUseNotAllowed
			default:
				return BadSecurityChecksFailed
			}
		case x509.HostnameError:
			return BadCertificateHostNameInvalid
		case x509.UnknownAuthorityError:
			return BadCertificateChainIncomplete
		default:
			return BadSecurityChecksFailed
		}
	}
	return nil
}

func splitTrustBundle(buf []byte) (roots, intermediates *x509.CertPool) {
	for len(buf) > 0 {
		var block *pem.Block
		block, buf = pem.Decode(buf)
		if block == nil {
			cert, err := x509.ParseCertificate(buf)
			if err == nil {
				addToPool(cert, &roots, &intermediates)
			}
			break
		}
		if block.Type != "CERTIFICATE" || len(block.Headers) != 0 {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			continue
		}
		addToPool(cert, &roots, &intermediates)
	}
	return roots, intermediates
}

func addToPool(cert *x509.Certificate, roots, intermediates **x509.CertPool) {
	if bytes.Equal(cert.RawIssuer, cert.RawSubject) {
		if *roots == nil {
			*roots = x509.NewCertPool()
		}
		(*roots).AddCert(cert)
	} else {
		if *intermediates == nil {
			*intermediates = x509.NewCertPool()
		}
		(*intermediates).AddCert(cert)
	}
}
