// Copyright 2020 Converter Systems LLC. All rights reserved.

package uasc

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"log"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/nagarsumit/milo/ua"
)

// SecureChannel is a client-side OPC UA TCP secure channel: it owns the
// socket, the Hello/Acknowledge and OpenSecureChannel handshakes, chunk
// encoding and decoding, and the table of requests awaiting a response.
// Everything that isn't wire framing or cryptography — the actual service
// request/response types — passes through unopinionated, via the
// MessageCodec collaborator.
type SecureChannel struct {
	mu sync.RWMutex

	endpointURL        string
	securityPolicyURI  string
	securityPolicy     ua.SecurityPolicy
	securityMode       ua.MessageSecurityMode
	localCertificate   []byte
	remoteCertificate  []byte
	localPrivateKey    *rsa.PrivateKey
	remotePublicKey    *rsa.PublicKey

	connectTimeout         time.Duration
	requestTimeout         time.Duration
	tokenRequestedLifetime uint32
	trace                  bool
	codec                  ua.MessageCodec
	certValidator          *ua.X509Validator
	serverHostname         string

	conn              net.Conn
	state             State
	channelID         uint32
	sendBufferSize    uint32
	receiveBufferSize uint32
	maxMessageSize    uint32
	maxChunkCount     uint32
	handshakeDone     chan struct{}

	crypto       *ChannelCrypto
	mux          *Multiplexer
	tokens       tokenSet
	renewalTimer *Timer

	pool     *workerpool.WorkerPool
	closeErr error
	closed   chan struct{}
}

// NewSecureChannel constructs a channel to endpointURL, applying opts over
// the package defaults. The channel is not connected until Open is called.
func NewSecureChannel(endpointURL string, opts ...SecureChannelOption) (*SecureChannel, error) {
	o := defaultSecureChannelOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	policy, err := ua.NewSecurityPolicy(o.securityPolicyURI)
	if err != nil {
		return nil, err
	}

	ch := &SecureChannel{
		endpointURL:            endpointURL,
		securityPolicyURI:      o.securityPolicyURI,
		securityPolicy:         policy,
		securityMode:           o.securityMode,
		localCertificate:       o.localCertificate,
		localPrivateKey:        o.localPrivateKey,
		remoteCertificate:      o.remoteCertificate,
		connectTimeout:         o.connectTimeout,
		requestTimeout:         o.requestTimeout,
		tokenRequestedLifetime: o.tokenRequestedLifetime,
		trace:                  o.trace,
		codec:                  o.codec,
		mux:                    NewMultiplexer(),
		pool:                   workerpool.New(4),
		state:                  StateClosed,
	}
	if o.trustedCertsFile != "" || o.suppressHostNameInvalid || o.suppressCertificateTimeInvalid || o.suppressCertificateChainIncomplete {
		ch.certValidator = &ua.X509Validator{
			TrustedCertsFile:                   o.trustedCertsFile,
			SuppressHostNameInvalid:            o.suppressHostNameInvalid,
			SuppressCertificateTimeInvalid:     o.suppressCertificateTimeInvalid,
			SuppressCertificateChainIncomplete: o.suppressCertificateChainIncomplete,
		}
	}
	if len(o.remoteCertificate) > 0 {
		cert, err := x509.ParseCertificate(o.remoteCertificate)
		if err != nil {
			return nil, ua.BadCertificateInvalid
		}
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, ua.BadCertificateInvalid
		}
		ch.remotePublicKey = pub
	}
	return ch, nil
}

// State reports the channel's current lifecycle state.
func (ch *SecureChannel) State() State {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.state
}

// Write implements io.Writer over the underlying connection, so the channel
// itself can be passed wherever the encode pipeline wants an io.Writer.
func (ch *SecureChannel) Write(p []byte) (int, error) { return ch.conn.Write(p) }

// Open dials the endpoint, performs the Hello/Acknowledge preamble, then
// issues the first OpenSecureChannel request and installs the resulting
// token. The channel is ready to carry service requests when Open returns
// without error.
func (ch *SecureChannel) Open(ctx context.Context) error {
	ch.mu.Lock()
	if ch.state != StateClosed {
		ch.mu.Unlock()
		return ua.BadInternalError
	}
	ch.state = StateOpening
	done := make(chan struct{})
	ch.handshakeDone = done
	ch.mu.Unlock()
	// Wakes every Request call that arrived while the handshake was still
	// in flight and queued itself on this channel, regardless of how Open
	// returns below.
	defer close(done)

	u, err := url.Parse(ch.endpointURL)
	if err != nil {
		return err
	}

	ch.serverHostname = u.Hostname()

	if len(ch.remoteCertificate) > 0 {
		if err := validateServerCertificate(ch.remoteCertificate, ch.serverHostname, ch.certValidator); err != nil {
			return err
		}
	}

	conn, err := net.DialTimeout("tcp", u.Host, ch.connectTimeout)
	if err != nil {
		return ua.BadConnectionClosed
	}
	ch.conn = conn

	if ch.connectTimeout > 0 {
		conn.SetDeadline(time.Now().Add(ch.connectTimeout))
	}
	if err := ch.sayHello(conn); err != nil {
		conn.Close()
		return err
	}
	conn.SetDeadline(time.Time{})

	ch.crypto = &ChannelCrypto{
		SecurityPolicyURI: ch.securityPolicyURI,
		SecurityPolicy:    ch.securityPolicy,
		SecurityMode:      ch.securityMode,
		LocalCertificate:  ch.localCertificate,
		RemoteCertificate: ch.remoteCertificate,
		LocalPrivateKey:   ch.localPrivateKey,
		RemotePublicKey:   ch.remotePublicKey,
		SendBufferSize:    ch.sendBufferSize,
		MaxMessageSize:    ch.maxMessageSize,
		MaxChunkCount:     ch.maxChunkCount,
	}

	ch.closed = make(chan struct{})
	go ch.readLoop()

	tok, err := ch.issueSecureChannel()
	if err != nil {
		conn.Close()
		ch.mu.Lock()
		ch.state = StateClosed
		ch.mu.Unlock()
		return err
	}

	ch.mu.Lock()
	ch.channelID = tok.ChannelID
	ch.tokens.install(tok)
	ch.state = StateOpen
	ch.mu.Unlock()

	ch.scheduleRenewal(tok)
	return nil
}

// Request sends req and blocks until the matching response arrives, the
// request is aborted by the server, the channel closes, or ctx is done.
func (ch *SecureChannel) Request(ctx context.Context, req ua.ServiceRequest) (ua.ServiceResponse, error) {
	ch.mu.RLock()
	state := ch.state
	done := ch.handshakeDone
	ch.mu.RUnlock()

	if state == StateOpening {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ch.mu.RLock()
	state = ch.state
	tok := ch.tokens.current
	ch.mu.RUnlock()
	if state != StateOpen && state != StateRenewing {
		return nil, ua.BadSecureChannelClosed
	}

	requestID := ch.mux.NextRequestID()
	req.Header().RequestHandle = requestID
	req.Header().Timestamp = time.Now()

	if ch.trace {
		log.Printf("-> request %T requestId=%d", req, requestID)
	}

	if _, isClose := req.(*ua.CloseSecureChannelRequest); isClose {
		return ch.sendClose(ctx, req, requestID, tok)
	}

	waitCh := ch.mux.Register(requestID, req)
	body, err := ch.encodeBody(req)
	if err != nil {
		ch.mux.Forget(requestID)
		return nil, err
	}
	seq := ch.mux.NextSequenceNumber()
	if err := ch.crypto.EncodeSymmetric(ch.conn, "MSG", ch.channelID, tok, seq, requestID, body); err != nil {
		ch.mux.Forget(requestID)
		return nil, err
	}

	timeout := ch.requestTimeout
	select {
	case result := <-waitCh:
		return result.Response, result.Err
	case <-ctx.Done():
		ch.mux.Forget(requestID)
		return nil, ctx.Err()
	case <-time.After(timeout):
		ch.mux.Forget(requestID)
		return nil, ua.BadRequestTimeout
	case <-ch.closed:
		return nil, ch.closeErr
	}
}

// sendClose sends a CloseSecureChannelRequest and, because OPC UA servers
// typically close the socket instead of replying to it, synthesizes a
// success response locally rather than waiting on one.
func (ch *SecureChannel) sendClose(ctx context.Context, req ua.ServiceRequest, requestID uint32, tok *SecurityToken) (ua.ServiceResponse, error) {
	body, err := ch.encodeBody(req)
	if err != nil {
		return nil, err
	}
	seq := ch.mux.NextSequenceNumber()
	_ = ch.crypto.EncodeSymmetric(ch.conn, "CLO", ch.channelID, tok, seq, requestID, body)
	return &ua.CloseSecureChannelResponse{
		ResponseHeader: ua.ResponseHeader{RequestHandle: requestID, Timestamp: time.Now()},
	}, nil
}

// Close asks the server to close the channel and tears down the socket and
// background goroutines regardless of whether a reply is seen.
func (ch *SecureChannel) Close(ctx context.Context) error {
	ch.mu.Lock()
	if ch.state == StateClosed {
		ch.mu.Unlock()
		return nil
	}
	ch.state = StateClosing
	if ch.renewalTimer != nil {
		ch.renewalTimer.Cancel()
	}
	tok := ch.tokens.current
	ch.mu.Unlock()

	req := &ua.CloseSecureChannelRequest{RequestHeader: ua.RequestHeader{Timestamp: time.Now()}}
	requestID := ch.mux.NextRequestID()
	req.RequestHeader.RequestHandle = requestID
	_, _ = ch.sendClose(ctx, req, requestID, tok)
	return ch.shutdown(ua.BadSecureChannelClosed)
}

// Abort closes the channel immediately without attempting a graceful
// CloseSecureChannel exchange, for use when the connection is already
// known to be broken.
func (ch *SecureChannel) Abort() error {
	return ch.shutdown(ua.BadConnectionClosed)
}

func (ch *SecureChannel) shutdown(reason ua.StatusCode) error {
	ch.mu.Lock()
	if ch.state == StateClosed {
		ch.mu.Unlock()
		return nil
	}
	ch.state = StateClosed
	ch.channelID = 0
	if ch.renewalTimer != nil {
		ch.renewalTimer.Cancel()
	}
	conn := ch.conn
	alreadyClosed := ch.closeErr != nil
	if !alreadyClosed {
		ch.closeErr = reason
	}
	ch.mu.Unlock()

	if !alreadyClosed {
		ch.mux.CloseAll(reason)
		select {
		case <-ch.closed:
		default:
			close(ch.closed)
		}
	}
	ch.pool.StopWait()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// encodeBody serializes req's message body (without chunk framing) through
// the channel's MessageCodec.
func (ch *SecureChannel) encodeBody(msg interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := ch.codec.WriteMessage(&buf, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (ch *SecureChannel) decodeBody(body []byte) (interface{}, error) {
	return ch.codec.ReadMessage(bytes.NewReader(body))
}

// readLoop is the channel's single reader goroutine: it reads one chunk at
// a time and routes it to the handshake's pending OpenSecureChannel
// request, to the chunk assembler for an in-progress MSG/CLO message, or to
// an abort completion, until the connection fails.
func (ch *SecureChannel) readLoop() {
	reader := NewFrameReader(ch.conn, ua.DefaultBufferSize)
	buf := make([]byte, ua.DefaultBufferSize)
	assembler := NewChunkAssembler(ua.DefaultMaxChunkCount, ua.DefaultBufferSize)
	var opnHeader *AsymmetricHeader

	for {
		messageType, chunk, err := reader.ReadChunk(&buf)
		if err != nil {
			ch.shutdown(classifyReadError(err))
			return
		}

		switch ua.MessageClass(messageType) {
		case "OPN":
			body, _, requestID, header, err := ch.crypto.DecodeAsymmetric(chunk)
			if err != nil {
				ch.shutdown(classifyReadError(err))
				return
			}
			chunkType := ua.ChunkTypeOf(messageType)
			if chunkType == ua.ChunkTypeAbort {
				reason := abortReason(body)
				ch.pool.Submit(func() {
					if !ch.mux.Abort(requestID, reason.Status, reason.Reason) {
						log.Printf("requestId=%d: abort for unknown request", requestID)
					}
				})
				assembler.Reset()
				opnHeader = nil
				continue
			}
			if opnHeader == nil {
				if len(header.SenderCertificate) > 0 {
					if err := validateServerCertificate([]byte(header.SenderCertificate), ch.serverHostname, ch.certValidator); err != nil {
						ch.shutdown(classifyReadError(err))
						return
					}
				}
				h := header
				opnHeader = &h
			} else if !opnHeader.Equal(header) {
				assembler.Reset()
				opnHeader = nil
				ch.shutdown(ua.BadSecurityChecksFailed)
				return
			}
			done, err := assembler.AddChunk(requestID, chunkType, body)
			if err != nil {
				opnHeader = nil
				ch.shutdown(classifyReadError(err))
				return
			}
			if !done {
				continue
			}
			opnHeader = nil
			full := assembler.Bytes()
			ch.deliver(requestID, full, nil)
		case "MSG", "CLO":
			ch.mu.RLock()
			channelID := ch.channelID
			tokenID := readTokenID(chunk)
			tok, ok := ch.tokens.lookup(tokenID)
			ch.mu.RUnlock()
			if readChannelID(chunk) != channelID {
				ch.shutdown(ua.BadSecureChannelIDInvalid)
				return
			}
			if !ok {
				ch.shutdown(ua.BadSecureChannelTokenUnknown)
				return
			}
			body, _, requestID, chunkType, err := ch.crypto.DecodeSymmetric(chunk, tok)
			if err != nil {
				ch.shutdown(classifyReadError(err))
				return
			}
			if chunkType == ua.ChunkTypeAbort {
				reason := abortReason(body)
				ch.pool.Submit(func() {
					if !ch.mux.Abort(requestID, reason.Status, reason.Reason) {
						log.Printf("requestId=%d: abort for unknown request", requestID)
					}
				})
				assembler.Reset()
				continue
			}
			done, err := assembler.AddChunk(requestID, chunkType, body)
			if err != nil {
				ch.shutdown(classifyReadError(err))
				return
			}
			if !done {
				continue
			}
			full := assembler.Bytes()
			ch.deliver(requestID, full, nil)
		case "ERR":
			ch.shutdown(ua.BadConnectionClosed)
			return
		default:
			ch.shutdown(ua.BadTCPMessageTypeInvalid)
			return
		}
	}
}

func (ch *SecureChannel) deliver(requestID uint32, body []byte, err error) {
	ch.pool.Submit(func() {
		if err != nil {
			if !ch.mux.Abort(requestID, classifyReadError(err), err.Error()) {
				log.Printf("requestId=%d: abort for unknown request", requestID)
			}
			return
		}
		msg, decErr := ch.decodeBody(body)
		if decErr != nil {
			if !ch.mux.Abort(requestID, ua.BadDecodingError, decErr.Error()) {
				log.Printf("requestId=%d: abort for unknown request", requestID)
			}
			return
		}
		resp, ok := msg.(ua.ServiceResponse)
		if !ok {
			if !ch.mux.Abort(requestID, ua.BadUnknownResponse, "decoded message is not a ServiceResponse") {
				log.Printf("requestId=%d: abort for unknown request", requestID)
			}
			return
		}
		if fault, isFault := msg.(*ua.ServiceFault); isFault {
			resp = fault
		}
		if ch.trace {
			fmt.Printf("<- response %T requestId=%d\n", resp, requestID)
		}
		if !ch.mux.Complete(requestID, resp) {
			log.Printf("requestId=%d: response for unknown request", requestID)
		}
	})
}

func readChannelID(chunk []byte) uint32 {
	if len(chunk) < 12 {
		return 0
	}
	return uint32(chunk[8]) | uint32(chunk[9])<<8 | uint32(chunk[10])<<16 | uint32(chunk[11])<<24
}

func readTokenID(chunk []byte) uint32 {
	if len(chunk) < 16 {
		return 0
	}
	return uint32(chunk[12]) | uint32(chunk[13])<<8 | uint32(chunk[14])<<16 | uint32(chunk[15])<<24
}

func abortReason(body []byte) *ua.AbortedError {
	if len(body) < 4 {
		return &ua.AbortedError{Status: ua.BadUnexpectedError}
	}
	status := uint32(body[0]) | uint32(body[1])<<8 | uint32(body[2])<<16 | uint32(body[3])<<24
	var reason string
	if len(body) > 8 {
		if n := int(uint32(body[4]) | uint32(body[5])<<8 | uint32(body[6])<<16 | uint32(body[7])<<24); n > 0 && 8+n <= len(body) {
			reason = string(body[8 : 8+n])
		}
	}
	return &ua.AbortedError{Status: ua.StatusCode(status), Reason: reason}
}
