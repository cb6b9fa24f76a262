// Copyright 2020 Converter Systems LLC. All rights reserved.

package uasc

import (
	"bytes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/binary"
	"io"

	"github.com/djherbis/buffer"
	"github.com/nagarsumit/milo/ua"
)

// ChannelCrypto holds everything the encode/decode pipeline needs to turn a
// message body into signed, optionally encrypted chunks and back, kept
// separate from SecureChannel so the pipeline can be driven from tests
// without a live connection.
type ChannelCrypto struct {
	SecurityPolicyURI  string
	SecurityPolicy     ua.SecurityPolicy
	SecurityMode       ua.MessageSecurityMode
	LocalCertificate   []byte
	RemoteCertificate  []byte
	LocalPrivateKey    *rsa.PrivateKey
	RemotePublicKey    *rsa.PublicKey
	SendBufferSize     uint32
	MaxMessageSize     uint32
	MaxChunkCount      uint32
}

func (c *ChannelCrypto) encrypts() bool {
	return c.SecurityMode == ua.MessageSecurityModeSignAndEncrypt
}

func (c *ChannelCrypto) signs() bool {
	return c.SecurityMode == ua.MessageSecurityModeSign || c.SecurityMode == ua.MessageSecurityModeSignAndEncrypt
}

// EncodeAsymmetric splits body into one or more OpenSecureChannel chunks,
// signed with the local private key and (when the security mode calls for
// encryption) encrypted in blocks sized to the remote certificate's RSA key,
// and writes them to w.
func (c *ChannelCrypto) EncodeAsymmetric(w io.Writer, messageType uint32, channelID uint32, sequenceNumber, requestID uint32, body []byte) error {
	bodyStream := buffer.NewPartitionAt(ua.BufferPool)
	defer bodyStream.Reset()
	if _, err := bodyStream.Write(body); err != nil {
		return ua.BadEncodingError
	}

	sendBuffer := ua.BytesPool.Get().([]byte)
	defer ua.BytesPool.Put(sendBuffer)

	bodyCount := int(bodyStream.Len())
	if c.MaxMessageSize > 0 && bodyCount > int(c.MaxMessageSize) {
		return ua.BadRequestTooLarge
	}

	var localPrivateKeySize, remotePublicKeySize int
	if c.signs() {
		if c.LocalPrivateKey == nil || c.RemotePublicKey == nil {
			return ua.BadSecurityChecksFailed
		}
		localPrivateKeySize = c.LocalPrivateKey.Size()
		remotePublicKeySize = c.RemotePublicKey.Size()
	}

	chunkCount := 0
	for bodyCount > 0 || chunkCount == 0 {
		chunkCount++
		if c.MaxChunkCount > 0 && chunkCount > int(c.MaxChunkCount) {
			return ua.BadEncodingLimitsExceeded
		}

		var plainHeaderSize, signatureSize, paddingHeaderSize, maxBodySize, bodySize, paddingSize, chunkSize, cipherBlockSize, plainBlockSize int

		if c.encrypts() {
			plainHeaderSize = 16 + len(c.SecurityPolicyURI) + 28 + len(c.LocalCertificate)
			signatureSize = localPrivateKeySize
			cipherBlockSize = remotePublicKeySize
			plainBlockSize = cipherBlockSize - c.SecurityPolicy.RSAPaddingSize()
			if cipherBlockSize > 256 {
				paddingHeaderSize = 2
			} else {
				paddingHeaderSize = 1
			}
			maxBodySize = (((int(c.SendBufferSize) - plainHeaderSize) / cipherBlockSize) * plainBlockSize) - ua.SequenceHeaderSize - paddingHeaderSize - signatureSize
			if bodyCount < maxBodySize {
				bodySize = bodyCount
				paddingSize = (plainBlockSize - ((ua.SequenceHeaderSize + bodySize + paddingHeaderSize + signatureSize) % plainBlockSize)) % plainBlockSize
			} else {
				bodySize = maxBodySize
			}
			chunkSize = plainHeaderSize + (((ua.SequenceHeaderSize + bodySize + paddingSize + paddingHeaderSize + signatureSize) / plainBlockSize) * cipherBlockSize)
		} else if c.signs() {
			plainHeaderSize = 16 + len(c.SecurityPolicyURI) + 28 + len(c.LocalCertificate)
			signatureSize = localPrivateKeySize
			maxBodySize = int(c.SendBufferSize) - plainHeaderSize - ua.SequenceHeaderSize - signatureSize
			if bodyCount < maxBodySize {
				bodySize = bodyCount
			} else {
				bodySize = maxBodySize
			}
			chunkSize = plainHeaderSize + ua.SequenceHeaderSize + bodySize + signatureSize
		} else {
			plainHeaderSize = 16 + len(c.SecurityPolicyURI) + 8
			maxBodySize = int(c.SendBufferSize) - plainHeaderSize - ua.SequenceHeaderSize
			if bodyCount < maxBodySize {
				bodySize = bodyCount
			} else {
				bodySize = maxBodySize
			}
			chunkSize = plainHeaderSize + ua.SequenceHeaderSize + bodySize
		}

		stream := &byteWriter{buf: sendBuffer[:0]}

		ua.WriteUInt32(stream, messageType)
		ua.WriteUInt32(stream, uint32(chunkSize))
		ua.WriteUInt32(stream, channelID)

		ua.WriteString(stream, c.SecurityPolicyURI)
		if c.signs() {
			writeByteArray(stream, c.LocalCertificate)
			thumb := sha1.Sum(c.RemoteCertificate)
			writeByteArray(stream, thumb[:])
		} else {
			writeByteArray(stream, nil)
			writeByteArray(stream, nil)
		}
		if stream.Len() != plainHeaderSize {
			return ua.BadEncodingError
		}

		ua.WriteUInt32(stream, sequenceNumber)
		ua.WriteUInt32(stream, requestID)

		if _, err := io.CopyN(stream, bodyStream, int64(bodySize)); err != nil {
			return ua.BadEncodingError
		}
		bodyCount -= bodySize

		if c.encrypts() {
			padByte := byte(paddingSize & 0xFF)
			stream.WriteByte(padByte)
			for i := 0; i < paddingSize; i++ {
				stream.WriteByte(padByte)
			}
			if paddingHeaderSize == 2 {
				stream.WriteByte(byte((paddingSize >> 8) & 0xFF))
			}
		}

		if c.signs() {
			signature, err := c.SecurityPolicy.RSASign(c.LocalPrivateKey, stream.Bytes())
			if err != nil || len(signature) != signatureSize {
				return ua.BadEncodingError
			}
			stream.Write(signature)
		}

		if c.encrypts() {
			out := make([]byte, chunkSize)
			copy(out, stream.Bytes()[:plainHeaderSize])
			plainText := make([]byte, plainBlockSize)
			jj := plainHeaderSize
			for ii := plainHeaderSize; ii < stream.Len(); ii += plainBlockSize {
				copy(plainText, stream.Bytes()[ii:])
				cipherText, err := c.SecurityPolicy.RSAEncrypt(c.RemotePublicKey, plainText)
				if err != nil || len(cipherText) != cipherBlockSize {
					return ua.BadEncodingError
				}
				copy(out[jj:], cipherText)
				jj += cipherBlockSize
			}
			if jj != chunkSize || jj > len(out) {
				return ua.BadEncodingError
			}
			if _, err := w.Write(out[:chunkSize]); err != nil {
				return ua.BadConnectionClosed
			}
		} else {
			if stream.Len() != chunkSize {
				return ua.BadEncodingError
			}
			if _, err := w.Write(stream.Bytes()); err != nil {
				return ua.BadConnectionClosed
			}
		}
	}
	return nil
}

// EncodeSymmetric splits body into one or more MSG/CLO chunks protected with
// the supplied security token's local keys.
func (c *ChannelCrypto) EncodeSymmetric(w io.Writer, messageClass string, channelID uint32, tok *SecurityToken, sequenceNumber, requestID uint32, body []byte) error {
	bodyStream := buffer.NewPartitionAt(ua.BufferPool)
	defer bodyStream.Reset()
	if _, err := bodyStream.Write(body); err != nil {
		return ua.BadEncodingError
	}

	sendBuffer := ua.BytesPool.Get().([]byte)
	defer ua.BytesPool.Put(sendBuffer)

	bodyCount := int(bodyStream.Len())
	if c.MaxMessageSize > 0 && bodyCount > int(c.MaxMessageSize) {
		return ua.BadRequestTooLarge
	}

	var signatureSize, plainHeaderSize int
	var block cipher.Block
	if c.signs() {
		signatureSize = c.SecurityPolicy.SymSignatureSize()
	}
	if c.encrypts() && tok.Local != nil {
		block = tok.Local.BlockCipher()
	}
	plainHeaderSize = 16

	chunkCount := 0
	for bodyCount > 0 || chunkCount == 0 {
		chunkCount++
		if c.MaxChunkCount > 0 && chunkCount > int(c.MaxChunkCount) {
			return ua.BadEncodingLimitsExceeded
		}

		var blockSize, maxBodySize, bodySize, paddingSize, chunkSize int
		if block != nil {
			blockSize = block.BlockSize()
			maxBodySize = int(c.SendBufferSize) - plainHeaderSize - ua.SequenceHeaderSize - signatureSize - 1
			if bodyCount < maxBodySize {
				bodySize = bodyCount
				paddingSize = (blockSize - ((ua.SequenceHeaderSize + bodySize + 1 + signatureSize) % blockSize)) % blockSize
			} else {
				bodySize = maxBodySize
			}
			chunkSize = plainHeaderSize + ua.SequenceHeaderSize + bodySize + 1 + paddingSize + signatureSize
		} else {
			maxBodySize = int(c.SendBufferSize) - plainHeaderSize - ua.SequenceHeaderSize - signatureSize
			if bodyCount < maxBodySize {
				bodySize = bodyCount
			} else {
				bodySize = maxBodySize
			}
			chunkSize = plainHeaderSize + ua.SequenceHeaderSize + bodySize + signatureSize
		}

		last := bodyCount <= bodySize
		var mt uint32
		if last {
			mt = messageTypeWord(messageClass, ua.ChunkTypeFinal)
		} else {
			mt = messageTypeWord(messageClass, ua.ChunkTypeIntermediate)
		}

		stream := &byteWriter{buf: sendBuffer[:0]}
		ua.WriteUInt32(stream, mt)
		ua.WriteUInt32(stream, uint32(chunkSize))
		ua.WriteUInt32(stream, channelID)
		ua.WriteUInt32(stream, tok.TokenID)
		ua.WriteUInt32(stream, sequenceNumber)
		ua.WriteUInt32(stream, requestID)

		if _, err := io.CopyN(stream, bodyStream, int64(bodySize)); err != nil {
			return ua.BadEncodingError
		}
		bodyCount -= bodySize

		if block != nil {
			padByte := byte(paddingSize & 0xFF)
			stream.WriteByte(padByte)
			for i := 0; i < paddingSize; i++ {
				stream.WriteByte(padByte)
			}
		}

		if c.signs() && tok.Local != nil {
			mac := tok.Local.HMAC()
			mac.Write(stream.Bytes())
			stream.Write(mac.Sum(nil))
		}

		if block != nil {
			span := stream.Bytes()[plainHeaderSize:]
			if len(span)%block.BlockSize() != 0 {
				return ua.BadEncodingError
			}
			cipher.NewCBCEncrypter(block, tok.Local.IV).CryptBlocks(span, span)
		}

		if _, err := w.Write(stream.Bytes()); err != nil {
			return ua.BadConnectionClosed
		}
	}
	return nil
}

func messageTypeWord(class string, chunkType byte) uint32 {
	return uint32(class[0]) | uint32(class[1])<<8 | uint32(class[2])<<16 | uint32(chunkType)<<24
}

func writeByteArray(w io.Writer, b []byte) {
	ua.WriteByteString(w, ua.ByteString(b))
}

// byteWriter is a minimal growable byte buffer implementing io.Writer and
// io.ByteWriter (io.CopyN needs only Write); used in place of bytes.Buffer so the send chunk can be built directly
// atop a pooled backing array.
type byteWriter struct {
	buf []byte
}

func (b *byteWriter) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *byteWriter) WriteByte(c byte) error {
	b.buf = append(b.buf, c)
	return nil
}

func (b *byteWriter) Bytes() []byte { return b.buf }
func (b *byteWriter) Len() int      { return len(b.buf) }

// AsymmetricHeader is the AsymmetricSecurityHeader carried on every OPN
// chunk. Every chunk belonging to the same OpenSecureChannel message must
// carry an identical header, which is why DecodeAsymmetric returns it
// instead of just validating it in isolation: the caller accumulating
// chunks is the one positioned to compare it across chunks.
type AsymmetricHeader struct {
	PolicyURI          string
	SenderCertificate  ua.ByteString
	ReceiverThumbprint ua.ByteString
}

// Equal reports whether h and other carry the same policy URI, sender
// certificate, and receiver thumbprint.
func (h AsymmetricHeader) Equal(other AsymmetricHeader) bool {
	return h.PolicyURI == other.PolicyURI &&
		bytes.Equal(h.SenderCertificate, other.SenderCertificate) &&
		bytes.Equal(h.ReceiverThumbprint, other.ReceiverThumbprint)
}

// DecodeAsymmetric verifies and, if the security mode calls for it, decrypts
// one OpenSecureChannel chunk, returning the message body, the sequence
// number and request id carried in its sequence header, and the
// AsymmetricSecurityHeader the chunk was sent with.
func (c *ChannelCrypto) DecodeAsymmetric(chunk []byte) (body []byte, sequenceNumber, requestID uint32, header AsymmetricHeader, err error) {
	buf := append([]byte(nil), chunk...)
	r := bytes.NewReader(buf)

	var messageType, messageLength uint32
	if err := ua.ReadUInt32(r, &messageType); err != nil {
		return nil, 0, 0, header, ua.BadDecodingError
	}
	if err := ua.ReadUInt32(r, &messageLength); err != nil {
		return nil, 0, 0, header, ua.BadDecodingError
	}
	if int(messageLength) != len(buf) {
		return nil, 0, 0, header, ua.BadDecodingError
	}

	var unusedChannelID uint32
	if err := ua.ReadUInt32(r, &unusedChannelID); err != nil {
		return nil, 0, 0, header, ua.BadDecodingError
	}

	var policyURI string
	if err := ua.ReadString(r, &policyURI); err != nil {
		return nil, 0, 0, header, ua.BadDecodingError
	}
	if policyURI != c.SecurityPolicyURI {
		return nil, 0, 0, header, ua.BadSecurityPolicyRejected
	}
	var senderCert, receiverThumbprint ua.ByteString
	if err := ua.ReadByteString(r, &senderCert); err != nil {
		return nil, 0, 0, header, ua.BadDecodingError
	}
	if err := ua.ReadByteString(r, &receiverThumbprint); err != nil {
		return nil, 0, 0, header, ua.BadDecodingError
	}
	header = AsymmetricHeader{PolicyURI: policyURI, SenderCertificate: senderCert, ReceiverThumbprint: receiverThumbprint}

	plainHeaderSize := len(buf) - r.Len()

	if c.signs() {
		if c.LocalPrivateKey == nil || c.RemotePublicKey == nil {
			return nil, 0, 0, header, ua.BadSecurityChecksFailed
		}
		cipherBlockSize := c.LocalPrivateKey.Size()
		jj := plainHeaderSize
		for ii := plainHeaderSize; ii < int(messageLength); ii += cipherBlockSize {
			end := ii + cipherBlockSize
			if end > len(buf) {
				return nil, 0, 0, header, ua.BadDecodingError
			}
			plainText, err := c.SecurityPolicy.RSADecrypt(c.LocalPrivateKey, buf[ii:end])
			if err != nil {
				return nil, 0, 0, header, ua.BadSecurityChecksFailed
			}
			jj += copy(buf[jj:], plainText)
		}
		messageLength = uint32(jj)

		sigEnd := int(messageLength)
		sigStart := sigEnd - c.RemotePublicKey.Size()
		if sigStart < plainHeaderSize {
			return nil, 0, 0, header, ua.BadDecodingError
		}
		if err := c.SecurityPolicy.RSAVerify(c.RemotePublicKey, buf[:sigStart], buf[sigStart:sigEnd]); err != nil {
			return nil, 0, 0, header, ua.BadSecurityChecksFailed
		}
	}

	body, sequenceNumber, requestID, err = extractSequencedBody(buf, plainHeaderSize, int(messageLength), c.signs(), c.encrypts(), c.remotePublicKeySizeOrZero())
	return body, sequenceNumber, requestID, header, err
}

func (c *ChannelCrypto) remotePublicKeySizeOrZero() int {
	if c.RemotePublicKey == nil {
		return 0
	}
	return c.RemotePublicKey.Size()
}

// extractSequencedBody reads the sequence header immediately following
// plainHeaderSize and returns the message body, stripping any padding and
// trailing signature per the security mode.
func extractSequencedBody(buf []byte, plainHeaderSize, messageLength int, signs, encrypts bool, signatureSize int) ([]byte, uint32, uint32, error) {
	if plainHeaderSize+ua.SequenceHeaderSize > messageLength {
		return nil, 0, 0, ua.BadDecodingError
	}
	sequenceNumber := binary.LittleEndian.Uint32(buf[plainHeaderSize:])
	requestID := binary.LittleEndian.Uint32(buf[plainHeaderSize+4:])

	bodyStart := plainHeaderSize + ua.SequenceHeaderSize
	var bodySize int
	if encrypts {
		var paddingHeaderSize, paddingSize int
		if signatureSize > 256 {
			paddingHeaderSize = 2
			start := messageLength - signatureSize - paddingHeaderSize
			if start < bodyStart || start+2 > len(buf) {
				return nil, 0, 0, ua.BadDecodingError
			}
			paddingSize = int(binary.LittleEndian.Uint16(buf[start : start+2]))
		} else {
			paddingHeaderSize = 1
			start := messageLength - signatureSize - paddingHeaderSize
			if start < bodyStart || start >= len(buf) {
				return nil, 0, 0, ua.BadDecodingError
			}
			paddingSize = int(buf[start])
		}
		bodySize = messageLength - bodyStart - paddingSize - paddingHeaderSize - signatureSize
	} else if signs {
		bodySize = messageLength - bodyStart - signatureSize
	} else {
		bodySize = messageLength - bodyStart
	}
	if bodySize < 0 || bodyStart+bodySize > len(buf) {
		return nil, 0, 0, ua.BadDecodingError
	}
	return append([]byte(nil), buf[bodyStart:bodyStart+bodySize]...), sequenceNumber, requestID, nil
}

// DecodeSymmetric verifies and, if the security mode calls for it, decrypts
// one MSG or CLO chunk using tok's remote keys. chunkType distinguishes a
// final chunk from an intermediate or abort chunk so the caller's chunk
// assembler can be driven directly from it.
func (c *ChannelCrypto) DecodeSymmetric(chunk []byte, tok *SecurityToken) (body []byte, sequenceNumber, requestID uint32, chunkType byte, err error) {
	if len(chunk) < ua.TCPHeaderSize+4 {
		return nil, 0, 0, 0, ua.BadDecodingError
	}
	chunkType = chunk[3]
	messageLength := int(binary.LittleEndian.Uint32(chunk[4:8]))
	if messageLength != len(chunk) {
		return nil, 0, 0, 0, ua.BadDecodingError
	}

	buf := append([]byte(nil), chunk...)
	plainHeaderSize := 16 // messageType(4) + length(4) + channelID(4) + tokenID(4)

	signatureSize := 0
	if c.signs() {
		signatureSize = c.SecurityPolicy.SymSignatureSize()
	}

	if c.encrypts() && tok.Remote != nil {
		block := tok.Remote.BlockCipher()
		span := buf[plainHeaderSize:messageLength]
		if block == nil || len(span)%block.BlockSize() != 0 {
			return nil, 0, 0, 0, ua.BadDecodingError
		}
		cipher.NewCBCDecrypter(block, tok.Remote.IV).CryptBlocks(span, span)
	}

	if c.signs() && tok.Remote != nil {
		sigStart := messageLength - signatureSize
		if sigStart < plainHeaderSize {
			return nil, 0, 0, 0, ua.BadDecodingError
		}
		mac := tok.Remote.HMAC()
		mac.Write(buf[:sigStart])
		if !hmac.Equal(mac.Sum(nil), buf[sigStart:messageLength]) {
			return nil, 0, 0, 0, ua.BadSecurityChecksFailed
		}
	}

	body, sequenceNumber, requestID, err = extractSequencedBody(buf, plainHeaderSize, messageLength, c.signs(), c.encrypts(), signatureSize)
	return body, sequenceNumber, requestID, chunkType, err
}
