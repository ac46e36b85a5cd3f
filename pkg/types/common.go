// pkg/types/common.go
package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// HashSize 是内容哈希的字节长度 (SHA3-256)
const HashSize = 32

// 存储帧头 (Blob Framing)
// 明文与密文使用不同的头，保证两者的存储哈希永远不会巧合相撞
const (
	BlobHeader       = "blob"
	SealedBlobHeader = "blob#"
)

var ErrMalformedHash = errors.New("malformed hash")

// Hash 代表对象的唯一标识符 (32 字节摘要)
// 这是一个“值对象”，应当是不可变的；比较即字节比较。
type Hash [HashSize]byte

// Compute 计算任意字节序列的内容哈希
func Compute(data []byte) Hash {
	return Hash(sha3.Sum256(data))
}

// BlobHash 计算明文内容对外可见的哈希: H("blob" ++ data)
// 无论 Vault 是否加密，外部引用都只依赖这个值
func BlobHash(data []byte) Hash {
	framed := make([]byte, 0, len(BlobHeader)+len(data))
	framed = append(framed, BlobHeader...)
	framed = append(framed, data...)
	return Compute(framed)
}

// ParseHash 从 64 位 Hex 字符串解析 Hash
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != HashSize*2 {
		return h, fmt.Errorf("%w: want %d hex chars, got %d", ErrMalformedHash, HashSize*2, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	return h, nil
}

// MustParseHash 仅用于常量和测试
func MustParseHash(s string) Hash {
	h, err := ParseHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

func (h Hash) String() string { return hex.EncodeToString(h[:]) }
func (h Hash) Hex() string    { return h.String() }
func (h Hash) Bytes() []byte  { return h[:] }

// Short 返回用于展示的短哈希 (7 个字符)
func (h Hash) Short() string { return h.String()[:7] }

// 验证 Hash 合法性
func (h Hash) IsZero() bool { return h == Hash{} }

// HasPrefix 判断 Hash 的 Hex 形式是否以给定前缀开头
func (h Hash) HasPrefix(p HashPrefix) bool {
	return strings.HasPrefix(h.String(), strings.ToLower(string(p)))
}

// MarshalText 让 JSON/YAML 中以 Hex 字符串的形式出现
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

type HashPrefix string

func (p HashPrefix) String() string { return string(p) }

// MinPrefixLen 短哈希最少需要的字符数
const MinPrefixLen = 4

// Validate 检查前缀长度与字符集
func (p HashPrefix) Validate() error {
	if len(p) < MinPrefixLen {
		return fmt.Errorf("%w: prefix %q too short (min %d)", ErrMalformedHash, string(p), MinPrefixLen)
	}
	if len(p) > HashSize*2 {
		return fmt.Errorf("%w: prefix longer than a full hash", ErrMalformedHash)
	}
	for _, c := range strings.ToLower(string(p)) {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return fmt.Errorf("%w: invalid character %q", ErrMalformedHash, c)
		}
	}
	return nil
}
