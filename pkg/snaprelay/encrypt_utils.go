package snaprelay

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"moff.io/snap-bridge/pkg/errors"
)

// KeySize is the length of the shared AES-256 session key.
const KeySize = 256 / 8

var ErrBadHMAC = errors.New("inconsistent relay payload hmac")

// Envelope is the encrypted form of one JSON-RPC message on the relay.
type Envelope struct {
	Data string `json:"data"`
	Hmac string `json:"hmac"`
	IV   string `json:"iv"`
}

// Seal encrypts plaintext with AES-256-CBC and authenticates ciphertext||iv with HMAC-SHA256.
func Seal(plaintext, key []byte) (*Envelope, error) {
	iv, err := GenerateRandomBytes(aes.BlockSize)
	if err != nil {
		return nil, errors.Wrap(err, "generate iv")
	}
	data, err := Aes256Encrypt(plaintext, key, iv)
	if err != nil {
		return nil, err
	}
	mac := HmacSha256(append(append([]byte{}, data...), iv...), key)
	return &Envelope{
		Data: hex.EncodeToString(data),
		IV:   hex.EncodeToString(iv),
		Hmac: hex.EncodeToString(mac),
	}, nil
}

// Open verifies and decrypts an envelope produced by Seal.
func Open(env *Envelope, key []byte) ([]byte, error) {
	iv, err := hex.DecodeString(env.IV)
	if err != nil {
		return nil, errors.Wrap(err, "decode iv hex")
	}
	data, err := hex.DecodeString(env.Data)
	if err != nil {
		return nil, errors.Wrap(err, "decode cipher hex")
	}
	mac, err := hex.DecodeString(env.Hmac)
	if err != nil {
		return nil, errors.Wrap(err, "decode hmac hex")
	}
	expected := HmacSha256(append(append([]byte{}, data...), iv...), key)
	if !hmac.Equal(mac, expected) {
		return nil, ErrBadHMAC
	}
	return Aes256Decrypt(data, key, iv)
}

func Aes256Encrypt(content, encryptionKey, iv []byte) ([]byte, error) {
	padded := pkcs7Padding(content, aes.BlockSize)
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, errors.Wrap(err, "create new cipher block")
	}
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

func Aes256Decrypt(cipherText, encryptionKey, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, errors.Wrap(err, "create new cipher block")
	}
	if len(cipherText) == 0 || len(cipherText)%aes.BlockSize != 0 {
		return nil, errors.New("cipher text is not a multiple of the block size")
	}
	plain := make([]byte, len(cipherText))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, cipherText)
	return pkcs7Unpadding(plain)
}

func pkcs7Padding(content []byte, blockSize int) []byte {
	padding := blockSize - len(content)%blockSize
	return append(append([]byte{}, content...), bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpadding(content []byte) ([]byte, error) {
	n := len(content)
	if n == 0 {
		return nil, errors.New("empty plaintext")
	}
	padding := int(content[n-1])
	if padding == 0 || padding > aes.BlockSize || padding > n {
		return nil, errors.New("invalid padding")
	}
	return content[:n-padding], nil
}

func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func HmacSha256(data, secret []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(data)
	return h.Sum(nil)
}
