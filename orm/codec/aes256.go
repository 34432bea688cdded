package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/base64"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/roveil/scrudge-orm/orm/internal/errs"
)

const aes256Prefix = "aes256:"

var errBadCiphertext = errors.New("bad ciphertext or wrong key")

// aes256Codec 写入前加密，读出来的时候解密
// 密文格式 aes256:base64(iv + AES-256-CBC(PKCS#7))，密钥是 sha256(key)
type aes256Codec struct {
	block cipher.Block
}

func newAES256Codec(key string) aes256Codec {
	sum := sha256.Sum256([]byte(key))
	// 32 字节的密钥不会出错
	block, _ := aes.NewCipher(sum[:])
	return aes256Codec{block: block}
}

func (aes256Codec) Type() LogicalType { return AES256 }

// Encode 已经加密过的值原样写入
func (c aes256Codec) Encode(v any) (driver.Value, error) {
	v = deref(v)
	if v == nil {
		return nil, nil
	}
	s, err := textCodec{}.toString(v)
	if err != nil {
		return nil, errs.NewErrCodec(string(AES256), v, "unsupported type")
	}
	if strings.HasPrefix(s, aes256Prefix) {
		return s, nil
	}
	res, err := c.encrypt([]byte(s))
	if err != nil {
		return nil, &errs.CodecError{Type: string(AES256), Value: v, Err: err}
	}
	return res, nil
}

// Decode 没有前缀的值当作明文
func (c aes256Codec) Decode(src any) (any, error) {
	if src == nil {
		return nil, nil
	}
	s, err := textCodec{}.toString(src)
	if err != nil {
		return nil, errs.NewErrCodec(string(AES256), src, "unsupported type")
	}
	if !strings.HasPrefix(s, aes256Prefix) {
		return s, nil
	}
	plain, err := c.decrypt(s[len(aes256Prefix):])
	if err != nil {
		return nil, &errs.CodecError{Type: string(AES256), Value: src, Err: err}
	}
	return plain, nil
}

func (c aes256Codec) encrypt(plain []byte) (string, error) {
	bs := c.block.BlockSize()
	pad := bs - len(plain)%bs
	data := make([]byte, bs+len(plain)+pad)
	iv := data[:bs]
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	copy(data[bs:], plain)
	copy(data[bs+len(plain):], bytes.Repeat([]byte{byte(pad)}, pad))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(data[bs:], data[bs:])
	return aes256Prefix + base64.StdEncoding.EncodeToString(data), nil
}

func (c aes256Codec) decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	bs := c.block.BlockSize()
	if len(data) < 2*bs || len(data)%bs != 0 {
		return "", errBadCiphertext
	}
	plain := make([]byte, len(data)-bs)
	cipher.NewCBCDecrypter(c.block, data[:bs]).CryptBlocks(plain, data[bs:])

	pad := int(plain[len(plain)-1])
	if pad == 0 || pad > bs || !bytes.Equal(plain[len(plain)-pad:], bytes.Repeat([]byte{byte(pad)}, pad)) {
		return "", errBadCiphertext
	}
	plain = plain[:len(plain)-pad]
	if !utf8.Valid(plain) {
		return "", errBadCiphertext
	}
	return string(plain), nil
}
