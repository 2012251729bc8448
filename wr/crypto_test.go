package wr

import (
	"crypto/aes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPayloadPlainRoundTrip(t *testing.T) {
	p := Payload{}
	encoded, err := p.Encode([]byte("hello, world"))
	require.NoError(t, err)

	decoded, err := p.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, []byte("hello, world"), decoded)
}

func TestPayloadCompressedRoundTrip(t *testing.T) {
	p := Payload{Compress: true}
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i % 7)
	}
	encoded, err := p.Encode(data)
	require.NoError(t, err)
	require.Less(t, len(encoded), len(data))

	decoded, err := p.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestPayloadSkipsCompressionWhenNotSmaller(t *testing.T) {
	p := Payload{Compress: true}
	// A one-byte input, which snappy cannot shrink.
	data := []byte{0x00}
	encoded, err := p.Encode(data)
	require.NoError(t, err)
	require.Equal(t, byte(payloadPlain), encoded[0])

	decoded, err := p.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestPayloadEncryptedRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
	}
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	p := Payload{Block: block}
	encoded, err := p.Encode([]byte("secret row bytes"))
	require.NoError(t, err)

	decoded, err := p.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, []byte("secret row bytes"), decoded)
}

func TestPayloadEncryptedAndCompressedRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(2 * i)
	}
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	p := Payload{Compress: true, Block: block}
	data := make([]byte, 2048)
	for i := range data {
		data[i] = byte(i % 3)
	}
	encoded, err := p.Encode(data)
	require.NoError(t, err)

	decoded, err := p.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestPayloadDecryptRejectsShortPayload(t *testing.T) {
	key := make([]byte, 16)
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	p := Payload{Block: block}

	_, err = p.Decode([]byte{1, 2, 3})
	require.Error(t, err)
	var cryptoErr *ErrCrypto
	require.ErrorAs(t, err, &cryptoErr)
}

func TestPayloadDecodeRejectsUnknownTag(t *testing.T) {
	p := Payload{}
	_, err := p.Decode([]byte{0xff, 1, 2, 3})
	require.Error(t, err)
	var corrupt *ErrCorruption
	require.ErrorAs(t, err, &corrupt)
}
