package wr

import (
	"crypto/cipher"
	"crypto/rand"

	"github.com/golang/snappy"
)

// Payload is the codec-decoration point for outrow bytes: optional
// compression, then optional encryption, applied symmetrically on write
// and reversed on read. Reference bytes are never routed through this —
// only ST/array blob payloads are, since a row reference must stay
// directly comparable and scannable without a decode step.
type Payload struct {
	Compress bool
	Block    cipher.Block // nil disables encryption
}

const (
	payloadPlain      = 0
	payloadCompressed = 1
)

// Encode transforms application bytes into their on-disk VL form: an
// optional Snappy pass, tagged by a leading byte so Decode knows whether
// to reverse it, followed by an optional block-cipher pass in CTR mode.
func (p *Payload) Encode(data []byte) ([]byte, error) {
	tag := byte(payloadPlain)
	out := data
	if p.Compress {
		c := snappy.Encode(nil, data)
		if len(c) < len(data) {
			tag = payloadCompressed
			out = c
		}
	}
	buf := make([]byte, 1+len(out))
	buf[0] = tag
	copy(buf[1:], out)
	if p.Block == nil {
		return buf, nil
	}
	return p.encrypt(buf)
}

// Decode reverses Encode.
func (p *Payload) Decode(stored []byte) ([]byte, error) {
	buf := stored
	if p.Block != nil {
		var err error
		buf, err = p.decrypt(stored)
		if err != nil {
			return nil, err
		}
	}
	if len(buf) == 0 {
		return nil, &ErrCorruption{Msg: "empty payload tag"}
	}
	tag, body := buf[0], buf[1:]
	switch tag {
	case payloadPlain:
		return append([]byte(nil), body...), nil
	case payloadCompressed:
		out, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, &ErrCorruption{Msg: "invalid snappy payload"}
		}
		return out, nil
	default:
		return nil, &ErrCorruption{Msg: "unknown payload tag"}
	}
}

func (p *Payload) encrypt(plain []byte) ([]byte, error) {
	iv := make([]byte, p.Block.BlockSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, &ErrCrypto{Msg: "generating IV", Err: err}
	}
	out := make([]byte, len(iv)+len(plain))
	copy(out, iv)
	s := cipher.NewCTR(p.Block, iv)
	s.XORKeyStream(out[len(iv):], plain)
	return out, nil
}

func (p *Payload) decrypt(stored []byte) ([]byte, error) {
	bs := p.Block.BlockSize()
	if len(stored) < bs {
		return nil, &ErrCrypto{Msg: "payload shorter than one IV"}
	}
	iv, body := stored[:bs], stored[bs:]
	out := make([]byte, len(body))
	s := cipher.NewCTR(p.Block, iv)
	s.XORKeyStream(out, body)
	return out, nil
}
