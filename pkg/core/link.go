package core

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"villa/pkg/types"
)

// Link 是指向另一个已存储对象的内容哈希引用
// 在 CBOR 层面被序列化为 Tag 42(0x00 + HashBytes)，与 IPLD 的 CID 链接保持一致
type Link struct {
	Hash types.Hash
}

const (
	linkTagNumber = 42
)

func NewLink(hash types.Hash) Link {
	return Link{Hash: hash}
}

// MarshalCBOR 规范：Tag 42, Content = [0x00, byte1, byte2...]
func (l Link) MarshalCBOR() ([]byte, error) {
	cidBytes := make([]byte, 0, 1+types.HashSize)
	cidBytes = append(cidBytes, 0x00)
	cidBytes = append(cidBytes, l.Hash[:]...)

	return em.Marshal(cbor.Tag{
		Number:  linkTagNumber,
		Content: cidBytes,
	})
}

func (l *Link) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := dm.Unmarshal(data, &tag); err != nil {
		return err
	}

	// 1. 校验 Tag Number
	if tag.Number != linkTagNumber {
		return fmt.Errorf("expected tag 42 for Link, got %d", tag.Number)
	}

	// 2. 获取内容字节
	content, ok := tag.Content.([]byte)
	if !ok {
		return fmt.Errorf("link content must be byte string")
	}

	// 3. 严格校验 Multibase 前缀与长度
	if len(content) < 1 {
		return fmt.Errorf("invalid link: empty content")
	}
	if content[0] != 0x00 {
		return fmt.Errorf("invalid link: missing 0x00 multibase prefix")
	}
	if len(content)-1 != types.HashSize {
		return fmt.Errorf("invalid link: hash is %d bytes, want %d", len(content)-1, types.HashSize)
	}

	copy(l.Hash[:], content[1:])
	return nil
}
