package rclone

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// obscureKey is rclone's fixed password obfuscation key. Obscured
// values hide credentials from shoulder surfing, nothing more; anyone
// with the config file can reveal them, which is exactly what we need
// to hand the password to the SSH dialer.
var obscureKey = []byte{
	0x9c, 0x93, 0x5b, 0x48, 0x73, 0x0a, 0x55, 0x4d,
	0x6b, 0xfd, 0x7c, 0x63, 0xc8, 0x86, 0xa9, 0x2b,
	0xd3, 0x90, 0x19, 0x8e, 0xb8, 0x12, 0x8a, 0xfb,
	0xf4, 0xde, 0x16, 0x2b, 0x8b, 0x95, 0xf6, 0x38,
}

// Reveal decodes an obscured password from rclone.conf back to
// plaintext. The value is base64 (URL alphabet, no padding) over a
// 16-byte IV followed by the AES-CTR ciphertext.
func Reveal(obscured string) (string, error) {
	ciphertext, err := base64.RawURLEncoding.DecodeString(obscured)
	if err != nil {
		return "", fmt.Errorf("decode obscured password: %w", err)
	}
	if len(ciphertext) < aes.BlockSize {
		return "", errors.New("obscured password too short")
	}

	block, err := aes.NewCipher(obscureKey)
	if err != nil {
		return "", err
	}
	iv := ciphertext[:aes.BlockSize]
	buf := make([]byte, len(ciphertext)-aes.BlockSize)
	cipher.NewCTR(block, iv).XORKeyStream(buf, ciphertext[aes.BlockSize:])
	return string(buf), nil
}

// Obscure encodes a plaintext password the way rclone stores it.
func Obscure(plaintext string) (string, error) {
	block, err := aes.NewCipher(obscureKey)
	if err != nil {
		return "", err
	}
	buf := make([]byte, aes.BlockSize+len(plaintext))
	iv := buf[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	cipher.NewCTR(block, iv).XORKeyStream(buf[aes.BlockSize:], []byte(plaintext))
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
