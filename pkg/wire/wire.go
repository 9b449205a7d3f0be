// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

// Package wire decodes raw broker payloads into text frames. Field devices
// either publish plaintext NMEA (prefixed $GNGGA) or AES-128-CBC encrypted,
// base64 wrapped JSON. Anything that does not decode to valid UTF-8 text
// (RTCM correction streams share some topics) is rejected.
package wire

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrBinaryFrame marks payloads that cannot be decoded to text.
var ErrBinaryFrame = errors.New("binary frame")

// ErrBadPadding marks ciphertext with invalid PKCS#7 padding.
var ErrBadPadding = errors.New("invalid padding")

const plaintextPrefix = "$GNGGA"

// Codec decrypts inbound payloads. A zero-key codec passes text through
// unchanged, for installations running a plaintext transport.
type Codec struct {
	block cipher.Block
	iv    []byte
}

// NewCodec builds a codec from the installation key and IV. Both must be
// 16 bytes, or empty to disable decryption.
func NewCodec(key, iv string) (*Codec, error) {
	if key == "" {
		return &Codec{}, nil
	}
	if len(key) != aes.BlockSize {
		return nil, fmt.Errorf("aes key must be %d bytes, got %d", aes.BlockSize, len(key))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("aes iv must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, err
	}
	return &Codec{block: block, iv: []byte(iv)}, nil
}

// Enabled reports whether the codec carries a key.
func (c *Codec) Enabled() bool {
	return c.block != nil
}

// Decode turns a raw broker payload into a text frame. NMEA frames pass
// through; other payloads are decrypted when a key is configured. Returns
// ErrBinaryFrame for anything that is not text at the end of the day.
func (c *Codec) Decode(raw []byte) (string, error) {
	if utf8.Valid(raw) && strings.HasPrefix(string(raw), plaintextPrefix) {
		return string(raw), nil
	}
	if !c.Enabled() {
		if !utf8.Valid(raw) {
			return "", ErrBinaryFrame
		}
		return string(raw), nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return "", ErrBinaryFrame
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", ErrBinaryFrame
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(plain, ciphertext)

	plain, err = pkcs7Unpad(plain)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plain) {
		return "", ErrBinaryFrame
	}
	return string(plain), nil
}

func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, ErrBadPadding
	}
	if !bytes.Equal(b[len(b)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, ErrBadPadding
	}
	return b[:len(b)-n], nil
}
