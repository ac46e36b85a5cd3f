package keys

import (
	"fmt"
	"strings"
)

// Variant 表示 AES 的密钥长度
type Variant int

const (
	AES128 Variant = 16
	AES192 Variant = 24
	AES256 Variant = 32
)

// KeySize 返回主密钥的字节数
func (v Variant) KeySize() int { return int(v) }

func (v Variant) String() string {
	switch v {
	case AES128:
		return "AES-128"
	case AES192:
		return "AES-192"
	case AES256:
		return "AES-256"
	default:
		return fmt.Sprintf("AES-invalid(%d)", int(v))
	}
}

func (v Variant) valid() bool {
	return v == AES128 || v == AES192 || v == AES256
}

// VariantForSize 由密钥字节数反推 Variant (解码 key.json 时使用)
func VariantForSize(n int) (Variant, error) {
	v := Variant(n)
	if !v.valid() {
		return 0, fmt.Errorf("%w: unsupported key size %d", ErrCorruptKeyRecord, n)
	}
	return v, nil
}

// ParseVariant 接受 "aes128" / "AES-128" / "128" 这几种写法
func ParseVariant(s string) (Variant, error) {
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(s))
	norm = strings.TrimPrefix(norm, "aes")
	switch norm {
	case "128":
		return AES128, nil
	case "192":
		return AES192, nil
	case "256":
		return AES256, nil
	}
	return 0, fmt.Errorf("unknown AES variant %q", s)
}
