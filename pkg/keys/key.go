package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"villa/pkg/secret"
)

const (
	// SaltLen 与 PBKDF2 所用 SHA-256 的输出长度一致
	SaltLen = 32
	// NonceLen CTR 模式的 IV 长度 (AES 块大小)
	NonceLen = aes.BlockSize
	// Iterations PBKDF2 迭代次数
	Iterations = 4096
)

var (
	ErrKeyLocked        = errors.New("key is locked")
	ErrCorruptKeyRecord = errors.New("corrupt key record")
)

// Key 是由口令派生的 AES 密钥容器
//
// 两种状态：
//   - Locked:   只有 salt / validate / nonce / wrapped，可以持久化
//   - Unlocked: 额外持有 primary (解密后的主密钥)，只存在于内存
//
// 状态只能通过 Unlock 进入 Unlocked，通过 Wipe 回到 Locked。
type Key struct {
	name    string
	variant Variant

	salt     []byte
	validate []byte // PBKDF2 输出的前半段，仅用于校验口令
	nonce    []byte // 仅用于保护 wrapped，与数据加密无关
	wrapped  []byte // 被 wrap key 加密后的主密钥

	primary *secret.Buffer // nil 表示 Locked
}

// Generate 生成一把新的密钥。返回时已处于 Unlocked 状态，方便立即使用。
func Generate(name string, variant Variant, password string) (*Key, error) {
	if !variant.valid() {
		return nil, fmt.Errorf("invalid variant %d", int(variant))
	}

	salt, err := randomBytes(SaltLen)
	if err != nil {
		return nil, err
	}
	wrapKey, validate := deriveKeys([]byte(password), salt, variant)
	defer secret.Zero(wrapKey)

	nonce, err := randomBytes(NonceLen)
	if err != nil {
		return nil, err
	}
	primary, err := randomBytes(variant.KeySize())
	if err != nil {
		return nil, err
	}

	wrapped, err := ctrXOR(wrapKey, nonce, primary)
	if err != nil {
		return nil, err
	}

	buf, err := secret.NewFromBytes(primary)
	if err != nil {
		return nil, err
	}

	k := &Key{
		name:     name,
		variant:  variant,
		salt:     salt,
		validate: validate,
		nonce:    nonce,
		wrapped:  wrapped,
		primary:  buf,
	}
	if err := k.validateInternalSizes(); err != nil {
		// 本地生成的密钥不可能违反尺寸约束
		k.Wipe()
		return nil, err
	}
	return k, nil
}

// deriveKeys 用 PBKDF2 派生两把密钥
// 返回: (wrapKey 用于加解密主密钥, validate 用于校验口令)
func deriveKeys(password, salt []byte, variant Variant) (wrapKey, validate []byte) {
	size := variant.KeySize()
	derived := pbkdf2.Key(password, salt, Iterations, size*2, sha256.New)
	validate = derived[:size]
	wrapKey = derived[size:]
	return wrapKey, validate
}

// Unlock 用口令解开主密钥
// 口令错误是正常结果，返回 (false, nil)，不是错误
func (k *Key) Unlock(password string) (bool, error) {
	wrapKey, validate := deriveKeys([]byte(password), k.salt, k.variant)
	defer secret.Zero(wrapKey)

	if subtle.ConstantTimeCompare(validate, k.validate) != 1 {
		return false, nil
	}

	primary, err := ctrXOR(wrapKey, k.nonce, k.wrapped)
	if err != nil {
		return false, err
	}
	buf, err := secret.NewFromBytes(primary)
	if err != nil {
		return false, err
	}

	k.Wipe()
	k.primary = buf
	return true, nil
}

// Encrypt 使用主密钥做 AES-CTR 加密
// 每次调用都生成新的随机 nonce：同一把密钥下 CTR nonce 绝不能重复
func (k *Key) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	key, err := k.primaryBytes()
	if err != nil {
		return nil, nil, err
	}
	nonce, err = randomBytes(NonceLen)
	if err != nil {
		return nil, nil, err
	}
	ciphertext, err = ctrXOR(key, nonce, plaintext)
	if err != nil {
		return nil, nil, err
	}
	return ciphertext, nonce, nil
}

// Decrypt 是 Encrypt 的逆操作
func (k *Key) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	key, err := k.primaryBytes()
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceLen {
		return nil, fmt.Errorf("nonce is %d bytes, want %d", len(nonce), NonceLen)
	}
	return ctrXOR(key, nonce, ciphertext)
}

// Wipe 先用随机数覆盖主密钥，再清零释放
func (k *Key) Wipe() {
	if k.primary == nil {
		return
	}
	_ = k.primary.Scramble()
	_ = k.primary.Close()
	k.primary = nil
}

func (k *Key) primaryBytes() ([]byte, error) {
	if k.primary == nil {
		return nil, ErrKeyLocked
	}
	b, err := k.primary.Bytes()
	if err != nil {
		return nil, ErrKeyLocked
	}
	return b, nil
}

func (k *Key) Locked() bool      { return k.primary == nil }
func (k *Key) Name() string      { return k.name }
func (k *Key) Variant() Variant  { return k.variant }
func (k *Key) UnwrappedLen() int { return k.primaryLen() }

func (k *Key) primaryLen() int {
	if k.primary == nil {
		return 0
	}
	return k.primary.Len()
}

// ShortHash 返回 wrapped key 的前 7 个 Hex 字符，用于列表展示
func (k *Key) ShortHash() string {
	return hex.EncodeToString(k.wrapped)[:7]
}

func (k *Key) validateInternalSizes() error {
	size := k.variant.KeySize()
	switch {
	case !k.variant.valid():
		return fmt.Errorf("%w: invalid variant %d", ErrCorruptKeyRecord, size)
	case len(k.wrapped) != size:
		return fmt.Errorf("%w: key is %d bytes, want %d", ErrCorruptKeyRecord, len(k.wrapped), size)
	case len(k.validate) != size:
		return fmt.Errorf("%w: validate is %d bytes, want %d", ErrCorruptKeyRecord, len(k.validate), size)
	case len(k.salt) != SaltLen:
		return fmt.Errorf("%w: salt is %d bytes, want %d", ErrCorruptKeyRecord, len(k.salt), SaltLen)
	case len(k.nonce) != NonceLen:
		return fmt.Errorf("%w: nonce is %d bytes, want %d", ErrCorruptKeyRecord, len(k.nonce), NonceLen)
	case k.primary != nil && k.primaryLen() != len(k.wrapped):
		return fmt.Errorf("%w: unwrapped key length mismatch", ErrCorruptKeyRecord)
	}
	return nil
}

// record 是 key.json 的磁盘格式。口令和解密后的主密钥永远不会出现在这里。
type record struct {
	Name     string `json:"name"`
	Salt     string `json:"salt"`
	Nonce    string `json:"nonce"`
	Validate string `json:"validate"`
	Key      string `json:"key"`
}

func (k *Key) MarshalJSON() ([]byte, error) {
	if err := k.validateInternalSizes(); err != nil {
		return nil, err
	}
	return json.Marshal(record{
		Name:     k.name,
		Salt:     hex.EncodeToString(k.salt),
		Nonce:    hex.EncodeToString(k.nonce),
		Validate: hex.EncodeToString(k.validate),
		Key:      hex.EncodeToString(k.wrapped),
	})
}

func (k *Key) UnmarshalJSON(data []byte) error {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptKeyRecord, err)
	}

	decoded := make([][]byte, 4)
	for i, field := range []string{rec.Salt, rec.Nonce, rec.Validate, rec.Key} {
		b, err := hex.DecodeString(field)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptKeyRecord, err)
		}
		decoded[i] = b
	}

	variant, err := VariantForSize(len(decoded[3]))
	if err != nil {
		return err
	}

	parsed := Key{
		name:     rec.Name,
		variant:  variant,
		salt:     decoded[0],
		nonce:    decoded[1],
		validate: decoded[2],
		wrapped:  decoded[3],
	}
	if err := parsed.validateInternalSizes(); err != nil {
		return err
	}

	k.Wipe()
	*k = parsed
	return nil
}

// DecodeRecord 解析 key.json 的内容，返回 Locked 状态的 Key
func DecodeRecord(data []byte) (*Key, error) {
	k := &Key{}
	if err := k.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return k, nil
}

func ctrXOR(key, iv, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init aes: %w", err)
	}
	out := make([]byte, len(in))
	cipher.NewCTR(block, iv).XORKeyStream(out, in)
	return out, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}
