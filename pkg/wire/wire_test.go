// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package wire

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey = "0123456789abcdef"
	testIV  = "fedcba9876543210"
)

func encryptForTest(t *testing.T, plaintext string) []byte {
	t.Helper()
	block, err := aes.NewCipher([]byte(testKey))
	require.NoError(t, err)

	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append([]byte(plaintext), make([]byte, pad)...)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(pad)
	}

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, []byte(testIV)).CryptBlocks(out, padded)
	return []byte(base64.StdEncoding.EncodeToString(out))
}

func TestDecodeEncryptedJSON(t *testing.T) {
	codec, err := NewCodec(testKey, testIV)
	require.NoError(t, err)

	payload := `{"water_level_m": 1.25, "battery": 87}`
	got, err := codec.Decode(encryptForTest(t, payload))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDecodePlaintextNMEABypassesDecryption(t *testing.T) {
	codec, err := NewCodec(testKey, testIV)
	require.NoError(t, err)

	sentence := "$GNGGA,123519.00,2101.68000,N,10551.24000,E,4,12,0.58,12.3,M,0.0,M,,"
	got, err := codec.Decode([]byte(sentence))
	require.NoError(t, err)
	assert.Equal(t, sentence, got)
}

func TestDecodeBinaryFrameRejected(t *testing.T) {
	codec, err := NewCodec(testKey, testIV)
	require.NoError(t, err)

	// RTCM3 preamble followed by junk: not base64, not UTF-8.
	_, err = codec.Decode([]byte{0xd3, 0x00, 0x13, 0x3e, 0xff, 0xfe})
	assert.ErrorIs(t, err, ErrBinaryFrame)
}

func TestDecodePassthroughWithoutKey(t *testing.T) {
	codec, err := NewCodec("", "")
	require.NoError(t, err)
	assert.False(t, codec.Enabled())

	payload := `{"rainfall_mm": 5.0}`
	got, err := codec.Decode([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = codec.Decode([]byte{0xd3, 0x00, 0xff})
	assert.ErrorIs(t, err, ErrBinaryFrame)
}

func TestDecodeBadPadding(t *testing.T) {
	codec, err := NewCodec(testKey, testIV)
	require.NoError(t, err)

	block, err := aes.NewCipher([]byte(testKey))
	require.NoError(t, err)
	raw := make([]byte, aes.BlockSize)
	out := make([]byte, aes.BlockSize)
	cipher.NewCBCEncrypter(block, []byte(testIV)).CryptBlocks(out, raw)

	_, err = codec.Decode([]byte(base64.StdEncoding.EncodeToString(out)))
	assert.ErrorIs(t, err, ErrBadPadding)
}

func TestNewCodecValidatesKeyLength(t *testing.T) {
	_, err := NewCodec("short", testIV)
	assert.Error(t, err)
	_, err = NewCodec(testKey, "short")
	assert.Error(t, err)
}

func TestParseGGA(t *testing.T) {
	gga, err := ParseGGA("$GNGGA,123519.00,2101.68000,N,10551.24000,E,4,12,0.58,12.3,M,0.0,M,,")
	require.NoError(t, err)

	assert.InDelta(t, 21.0280, gga.Lat, 1e-9)
	assert.InDelta(t, 105.8540, gga.Lon, 1e-9)
	assert.Equal(t, 4, gga.FixQuality)
	assert.Equal(t, 12, gga.NumSats)
	assert.InDelta(t, 0.58, gga.HDOP, 1e-9)
	assert.InDelta(t, 12.3, gga.Height, 1e-9)
}

func TestParseGGASouthWestNegative(t *testing.T) {
	gga, err := ParseGGA("$GNGGA,000000.00,3356.40000,S,07030.60000,W,1,08,1.2,520.0,M,0.0,M,,")
	require.NoError(t, err)
	assert.InDelta(t, -33.94, gga.Lat, 1e-9)
	assert.InDelta(t, -70.51, gga.Lon, 1e-9)
}

func TestParseGGABlankHDOPDefaults(t *testing.T) {
	gga, err := ParseGGA("$GNGGA,123519.00,2101.68000,N,10551.24000,E,4,12,,12.3,M,0.0,M,,")
	require.NoError(t, err)
	assert.InDelta(t, 99.9, gga.HDOP, 1e-9)
}

func TestParseGGARejectsMalformed(t *testing.T) {
	cases := []string{
		"$GNGGA,only,a,few,fields",
		"$GNGGA,123519.00,,N,10551.24000,E,4,12,0.58,12.3",
		"$GNGGA,123519.00,2101.68000,N,10551.24000,E,bad,12,0.58,12.3",
		"$GNVTG,054.7,T,034.4,M,005.5,N,010.2,K,A",
	}
	for _, sentence := range cases {
		_, err := ParseGGA(sentence)
		assert.Error(t, err, sentence)
	}
}
