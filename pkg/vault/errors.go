package vault

import (
	"errors"
	"fmt"
)

var (
	ErrVaultNotFound          = errors.New("vault directory not found")
	ErrVaultExists            = errors.New("vault already exists")
	ErrVaultDescriptorMissing = errors.New("vault descriptor missing")
	ErrKeyFileMissing         = errors.New("key file missing")
	ErrHashIndexMissing       = errors.New("hash index file missing")
	ErrVaultNotReady          = errors.New("vault not ready")
	ErrEncryptionNotEnabled   = errors.New("encryption not enabled for this vault")
	ErrUnknownContentHash     = errors.New("unknown content hash")
	ErrAmbiguousHash          = errors.New("ambiguous hash prefix")

	// ErrIntegrityViolation 表示重新计算的哈希与期望不符：数据被篡改或磁盘损坏
	// 对这次读取是致命的，不重试也不自动修复
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrHashIndexNotLoaded 同时满足 errors.Is(err, ErrVaultNotReady)
	ErrHashIndexNotLoaded = fmt.Errorf("%w: hash index not loaded", ErrVaultNotReady)
)
