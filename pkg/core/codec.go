package core

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"villa/pkg/types"
)

// 确定性 CBOR 编码选项
// 同一个对象必须永远序列化成同样的字节，否则内容哈希不稳定
var encOptions = cbor.EncOptions{
	// 1. 强制 Map Key 排序 (Canonical)
	Sort: cbor.SortCanonical,

	// 2. 浮点数必须使用64位表示
	ShortestFloat: cbor.ShortestFloatNone,

	// 3. 时间格式化为 Unix 整数，不生成 Tag 0/1
	Time:    cbor.TimeUnix,
	TimeTag: cbor.EncTagNone,

	// 4. 禁止不定长编码 (Indefinite Length)
	IndefLength: cbor.IndefLengthForbidden,

	// 5. 大整数使用最短编码
	BigIntConvert: cbor.BigIntConvertShortest,
}

// 全局复用的编码模式
var em, _ = encOptions.EncMode()

var decOptions = cbor.DecOptions{
	// --- 安全性配置 (防 DoS 攻击) ---
	// 记录来自磁盘，可能被篡改：限制容器大小和嵌套深度
	MaxArrayElements: 10000,
	MaxMapPairs:      10000,
	MaxNestedLevels:  100,

	// --- 规范性配置 ---
	IndefLength: cbor.IndefLengthForbidden,
	DupMapKey:   cbor.DupMapKeyEnforcedAPF,
	BignumTag:   cbor.BignumTagForbidden,
	TimeTag:     cbor.DecTagIgnored,
}

var dm, _ = decOptions.DecMode()

// CalculateHash 序列化对象并计算其内容哈希
// 内容哈希与 Vault.Store 返回的一致：BlobHash(序列化字节)
func CalculateHash(v any) (types.Hash, []byte, error) {
	data, err := em.Marshal(v)
	if err != nil {
		return types.Hash{}, nil, fmt.Errorf("failed to marshal object: %w", err)
	}
	return types.BlobHash(data), data, nil
}

// DecodeObject 通用的解码函数
func DecodeObject(data []byte, v any) error {
	return dm.Unmarshal(data, v)
}

// PeekType 只读取记录的类型标识 ("t" 字段)
func PeekType(data []byte) (ObjectType, error) {
	var probe struct {
		TypeVal ObjectType `cbor:"t"`
	}
	if err := dm.Unmarshal(data, &probe); err != nil {
		return "", err
	}
	if probe.TypeVal == "" {
		return "", fmt.Errorf("record has no type field")
	}
	return probe.TypeVal, nil
}
