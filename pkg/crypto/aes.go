// Package crypto 加解密配置文件中的密码和私钥口令
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Prefix 加密字段的前缀，读取配置时据此区分明文和密文
const Prefix = "ENC:"

// ErrDecrypt 密钥不对、密文被改动或被挪到了其他字段
var ErrDecrypt = errors.New("decryption failed")

// Vault 用本地密钥文件做 AES-GCM 加解密，密钥在第一次使用时才读取或生成
type Vault struct {
	keyPath string

	once sync.Once
	aead cipher.AEAD
	err  error
}

func NewVault(keyPath string) *Vault {
	return &Vault{keyPath: keyPath}
}

func (v *Vault) init() error {
	v.once.Do(func() {
		key, err := LoadOrGenerateKey(v.keyPath)
		if err != nil {
			v.err = err
			return
		}
		v.aead, v.err = newAEAD(key)
	})
	return v.err
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key size: expected %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal 加密字段值，输出 ENC:<Base64(Nonce + Ciphertext)>
// label 作为附加数据，同一段密文只能用相同的 label 解开
func (v *Vault) Seal(label, plaintext string) (string, error) {
	if err := v.init(); err != nil {
		return "", err
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), []byte(label))
	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open 解密 Seal 的输出
func (v *Vault) Open(label, encoded string) (string, error) {
	if !IsEncrypted(encoded) {
		return "", fmt.Errorf("invalid format: missing '%s' prefix", Prefix)
	}
	if err := v.init(); err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encoded, Prefix))
	if err != nil {
		return "", err
	}
	n := v.aead.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	plaintext, err := v.aead.Open(nil, data[:n], data[n:], []byte(label))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plaintext), nil
}

func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, Prefix)
}
