// Copyright 2020 Converter Systems LLC. All rights reserved.

package uasc

import (
	"crypto/rsa"
	"time"

	"github.com/nagarsumit/milo/ua"
)

// SecureChannelOption configures a SecureChannel at construction time,
// following the functional-options pattern used throughout this module.
type SecureChannelOption func(*secureChannelOptions) error

type secureChannelOptions struct {
	securityPolicyURI                 string
	securityMode                      ua.MessageSecurityMode
	localCertificate                  []byte
	localPrivateKey                   *rsa.PrivateKey
	remoteCertificate                 []byte
	connectTimeout                    time.Duration
	requestTimeout                    time.Duration
	tokenRequestedLifetime            uint32
	trustedCertsFile                  string
	suppressHostNameInvalid           bool
	suppressCertificateTimeInvalid    bool
	suppressCertificateChainIncomplete bool
	trace                              bool
	codec                              ua.MessageCodec
}

func defaultSecureChannelOptions() *secureChannelOptions {
	return &secureChannelOptions{
		securityPolicyURI:     ua.SecurityPolicyURINone,
		securityMode:          ua.MessageSecurityModeNone,
		connectTimeout:        5 * time.Second,
		requestTimeout:        15 * time.Second,
		tokenRequestedLifetime: 3600000,
		codec:                 ua.NewBinaryCodec(),
	}
}

// WithSecurityPolicy selects the security policy URI used to protect the channel.
func WithSecurityPolicy(uri string) SecureChannelOption {
	return func(o *secureChannelOptions) error {
		o.securityPolicyURI = uri
		return nil
	}
}

// WithSecurityMode selects how symmetric chunks are protected.
func WithSecurityMode(mode ua.MessageSecurityMode) SecureChannelOption {
	return func(o *secureChannelOptions) error {
		o.securityMode = mode
		return nil
	}
}

// WithClientCertificate supplies the application instance certificate and
// its private key, required for any security mode other than None.
func WithClientCertificate(cert []byte, key *rsa.PrivateKey) SecureChannelOption {
	return func(o *secureChannelOptions) error {
		o.localCertificate = cert
		o.localPrivateKey = key
		return nil
	}
}

// WithServerCertificate supplies the DER-encoded server certificate expected
// from the endpoint being connected to.
func WithServerCertificate(cert []byte) SecureChannelOption {
	return func(o *secureChannelOptions) error {
		o.remoteCertificate = cert
		return nil
	}
}

// WithConnectTimeout bounds how long the TCP dial and Hello/Acknowledge
// handshake may take.
func WithConnectTimeout(d time.Duration) SecureChannelOption {
	return func(o *secureChannelOptions) error {
		o.connectTimeout = d
		return nil
	}
}

// WithRequestTimeout bounds how long a pending service request sent through
// Request may wait for a response. The OpenSecureChannel request is not
// covered: the initial issue is bounded by the fixed handshake timeout and a
// renewal is not bounded at all.
func WithRequestTimeout(d time.Duration) SecureChannelOption {
	return func(o *secureChannelOptions) error {
		o.requestTimeout = d
		return nil
	}
}

// WithTokenLifetime requests the number of milliseconds a security token
// should remain valid before the channel schedules a renewal.
func WithTokenLifetime(ms uint32) SecureChannelOption {
	return func(o *secureChannelOptions) error {
		o.tokenRequestedLifetime = ms
		return nil
	}
}

// WithTrustedCertsFile points the channel's certificate validator at a PEM
// bundle of trusted roots and intermediates.
func WithTrustedCertsFile(path string) SecureChannelOption {
	return func(o *secureChannelOptions) error {
		o.trustedCertsFile = path
		return nil
	}
}

// WithSuppressHostNameInvalid disables hostname checking of the server certificate.
func WithSuppressHostNameInvalid() SecureChannelOption {
	return func(o *secureChannelOptions) error {
		o.suppressHostNameInvalid = true
		return nil
	}
}

// WithSuppressCertificateTimeInvalid disables the not-before/not-after check of the server certificate.
func WithSuppressCertificateTimeInvalid() SecureChannelOption {
	return func(o *secureChannelOptions) error {
		o.suppressCertificateTimeInvalid = true
		return nil
	}
}

// WithSuppressCertificateChainIncomplete allows a server certificate to validate
// against itself when no trust chain can be built.
func WithSuppressCertificateChainIncomplete() SecureChannelOption {
	return func(o *secureChannelOptions) error {
		o.suppressCertificateChainIncomplete = true
		return nil
	}
}

// WithTrace enables logging of each service request sent through Request, each
// response delivered to a waiting caller, and an OpenSecureChannel timeout.
// Chunks and OpenSecureChannel messages themselves are not logged.
func WithTrace() SecureChannelOption {
	return func(o *secureChannelOptions) error {
		o.trace = true
		return nil
	}
}

// WithMessageCodec overrides the default BinaryCodec, e.g. to register
// application-specific service types.
func WithMessageCodec(codec ua.MessageCodec) SecureChannelOption {
	return func(o *secureChannelOptions) error {
		o.codec = codec
		return nil
	}
}
