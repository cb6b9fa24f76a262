// Copyright 2020 Converter Systems LLC. All rights reserved.

package uasc

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/nagarsumit/milo/ua"
)

const protocolVersion uint32 = 0

// handshakeTimeout bounds the initial OpenSecureChannel issue; the
// Hello/Acknowledge exchange is bounded by the connect timeout instead. It's
// a var, not a const, so tests can shorten it. The original Java client's log
// message for this timeout says five seconds while its code actually waits
// ten; this implementation's logging matches its own code.
var handshakeTimeout = 10 * time.Second

// sayHello performs the preamble that precedes any secure channel: a Hello
// carrying this client's proposed buffer sizes, answered by an Acknowledge
// carrying the server's revised values (or an Error closing the connection).
func (ch *SecureChannel) sayHello(conn net.Conn) error {
	buf := make([]byte, 0, 32+len(ch.endpointURL))
	w := &byteWriter{buf: buf}
	ua.WriteUInt32(w, ua.MessageTypeHello)
	ua.WriteUInt32(w, uint32(32+len(ch.endpointURL)))
	ua.WriteUInt32(w, protocolVersion)
	ua.WriteUInt32(w, ua.DefaultBufferSize)
	ua.WriteUInt32(w, ua.DefaultBufferSize)
	ua.WriteUInt32(w, ua.DefaultMaxMessageSize)
	ua.WriteUInt32(w, ua.DefaultMaxChunkCount)
	ua.WriteString(w, ch.endpointURL)
	if _, err := conn.Write(w.Bytes()); err != nil {
		return ua.BadConnectionClosed
	}

	var hdr [8]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return ua.BadConnectionClosed
	}
	messageType := binary.LittleEndian.Uint32(hdr[0:4])
	messageLength := binary.LittleEndian.Uint32(hdr[4:8])
	if messageLength < 8 {
		return ua.BadDecodingError
	}
	rest := make([]byte, messageLength-8)
	if _, err := io.ReadFull(conn, rest); err != nil {
		return ua.BadConnectionClosed
	}

	switch messageType {
	case ua.MessageTypeAck:
		if len(rest) < 20 {
			return ua.BadDecodingError
		}
		remoteVersion := binary.LittleEndian.Uint32(rest[0:4])
		if remoteVersion < protocolVersion {
			return ua.BadProtocolVersionUnsupported
		}
		ch.sendBufferSize = binary.LittleEndian.Uint32(rest[4:8])
		ch.receiveBufferSize = binary.LittleEndian.Uint32(rest[8:12])
		ch.maxMessageSize = binary.LittleEndian.Uint32(rest[12:16])
		ch.maxChunkCount = binary.LittleEndian.Uint32(rest[16:20])
		return nil
	case ua.MessageTypeError:
		if len(rest) < 4 {
			return ua.BadDecodingError
		}
		return ua.StatusCode(binary.LittleEndian.Uint32(rest[0:4]))
	default:
		return ua.BadTCPMessageTypeInvalid
	}
}

// issueSecureChannel performs the initial OpenSecureChannel, bounded by
// handshakeTimeout: a slow or absent response fails the handshake outright.
func (ch *SecureChannel) issueSecureChannel() (*SecurityToken, error) {
	return ch.openSecureChannel(ua.SecurityTokenRequestTypeIssue, true)
}

// renewSecureChannel reissues the security token ahead of its expiry. Unlike
// the initial issue, a renewal is not raced against handshakeTimeout: the
// still-current token keeps the channel usable, and a renewal that never
// arrives surfaces instead as the eventual failure of the next request sent
// under the expired token.
func (ch *SecureChannel) renewSecureChannel() (*SecurityToken, error) {
	return ch.openSecureChannel(ua.SecurityTokenRequestTypeRenew, false)
}

// openSecureChannel issues or renews a security token, blocking until the
// server's response is decoded, and returns the new token; installing it is
// left to the caller. When timed is
// true the wait is bounded by handshakeTimeout; a renewal overlaps the
// still-current token, so up to two tokens are ever valid on a channel at
// once.
func (ch *SecureChannel) openSecureChannel(requestType ua.SecurityTokenRequestType, timed bool) (*SecurityToken, error) {
	nonce := make([]byte, ch.securityPolicy.NonceSize())
	if len(nonce) > 0 {
		if _, err := rand.Read(nonce); err != nil {
			return nil, ua.BadSecurityChecksFailed
		}
	}

	req := &ua.OpenSecureChannelRequest{
		RequestHeader:         ua.RequestHeader{Timestamp: time.Now(), RequestHandle: ch.mux.NextRequestID()},
		ClientProtocolVersion: protocolVersion,
		RequestType:           requestType,
		SecurityMode:          ch.securityMode,
		ClientNonce:           ua.ByteString(nonce),
		RequestedLifetime:     ch.tokenRequestedLifetime,
	}

	requestID := req.RequestHeader.RequestHandle
	waitCh := ch.mux.Register(requestID, req)

	seq := ch.mux.NextSequenceNumber()
	body, err := ch.encodeBody(req)
	if err != nil {
		ch.mux.Forget(requestID)
		return nil, err
	}
	if err := ch.crypto.EncodeAsymmetric(ch.conn, ua.MessageTypeOpenFinal, ch.channelID, seq, requestID, body); err != nil {
		ch.mux.Forget(requestID)
		return nil, err
	}

	var timeoutCh <-chan time.Time
	if timed {
		timer := time.NewTimer(handshakeTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case result := <-waitCh:
		if result.Err != nil {
			return nil, result.Err
		}
		resp, ok := result.Response.(*ua.OpenSecureChannelResponse)
		if !ok {
			return nil, ua.BadUnknownResponse
		}
		if resp.ResponseHeader.ServiceResult.IsBad() {
			return nil, ua.NewServiceFault(resp.ResponseHeader)
		}
		if resp.ServerProtocolVersion < protocolVersion {
			return nil, ua.BadProtocolVersionUnsupported
		}
		localKeys, err := deriveSymmetricKeys(ch.securityPolicy, []byte(resp.ServerNonce), nonce)
		if err != nil {
			return nil, err
		}
		remoteKeys, err := deriveSymmetricKeys(ch.securityPolicy, nonce, []byte(resp.ServerNonce))
		if err != nil {
			return nil, err
		}
		tok := &SecurityToken{
			ChannelSecurityToken: resp.SecurityToken,
			LocalNonce:           nonce,
			RemoteNonce:          []byte(resp.ServerNonce),
			Local:                localKeys,
			Remote:               remoteKeys,
		}
		return tok, nil
	case <-timeoutCh:
		ch.mux.Forget(requestID)
		if ch.trace {
			fmt.Printf("OpenSecureChannelRequest timed out after +%s\n", handshakeTimeout)
		}
		return nil, ua.BadTimeout
	}
}

// scheduleRenewal arms a timer to renew tok at 75% of its revised lifetime.
// The timer is cancelled and replaced every time a new token is installed,
// so only one renewal timer for the channel is ever outstanding.
func (ch *SecureChannel) scheduleRenewal(tok *SecurityToken) {
	if tok.RevisedLifetime == 0 {
		log.Printf("channelId=%d: server revised token lifetime to 0, no renewal scheduled", tok.ChannelID)
		return
	}
	d := time.Until(renewalTime(tok))
	if d < 0 {
		d = 0
	}
	ch.mu.Lock()
	if ch.renewalTimer != nil {
		ch.renewalTimer.Cancel()
	}
	ch.renewalTimer = AfterFunc(d, func() { ch.renew() })
	ch.mu.Unlock()
}

func (ch *SecureChannel) renew() {
	ch.mu.Lock()
	if ch.state != StateOpen {
		ch.mu.Unlock()
		return
	}
	ch.state = StateRenewing
	ch.mu.Unlock()

	tok, err := ch.renewSecureChannel()
	if err != nil {
		// spec.md §4.4: OPEN --renewTimerFires--> RENEWING --err--> FAILED(->CLOSED).
		// A server that rejects a renewal has repudiated the channel's
		// current token; the channel can't keep sending under it.
		ch.shutdown(statusOf(err))
		return
	}

	ch.mu.Lock()
	ch.tokens.install(tok)
	ch.state = StateOpen
	ch.mu.Unlock()
	ch.scheduleRenewal(tok)
}

func validateServerCertificate(cert []byte, hostname string, v *ua.X509Validator) error {
	chain, err := ua.DecodeCertificateChain(cert)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	v.Hostname = hostname
	if err := v.Validate(chain[0]); err != nil {
		return err
	}
	return v.VerifyTrustChain(chain)
}
