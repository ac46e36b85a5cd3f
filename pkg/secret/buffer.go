// Package secret 为密钥材料提供一个独占的内存缓冲区
//
// 优先使用 mmap 在 Go 堆外分配内存，mlock 防止被换出到 swap，
// 并标记 MADV_DONTDUMP 排除在 core dump 之外。
// 平台不允许锁定内存时 (例如 RLIMIT_MEMLOCK 过低的容器)，退化为普通堆内存，
// Close 时依然会清零。
package secret

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

var ErrClosed = errors.New("secret: buffer closed")

// Buffer 持有敏感数据。创建后不可复制，用完必须 Close。
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	mapped bool // true 表示 data 来自 mmap，需要 munlock/munmap
	closed bool
}

// New 分配一个 size 字节的缓冲区
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	if data, err := mapLocked(size); err == nil {
		return &Buffer{data: data, mapped: true}, nil
	}

	// 退化：普通堆内存
	return &Buffer{data: make([]byte, size)}, nil
}

// NewFromBytes 拷贝 source 到受保护区域，并把调用者的原始切片清零
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}

	b, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(b.data, source)
	Zero(source)
	return b, nil
}

func mapLocked(size int) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap failed: %w", err)
	}
	if err := unix.Mlock(data); err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: mlock failed: %w", err)
	}
	// MADV_DONTDUMP 在部分内核上不支持，失败不影响 swap 保护
	_ = unix.Madvise(data, unix.MADV_DONTDUMP)
	return data, nil
}

// Bytes 返回底层数据。返回的切片直接指向缓冲区，不要在 Close 之后持有它。
func (b *Buffer) Bytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	return b.data, nil
}

// Len 返回数据长度；关闭后为 0
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Scramble 用密码学随机数覆盖内容
func (b *Buffer) Scramble() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	_, err := rand.Read(b.data)
	return err
}

// Close 清零并释放内存。幂等。
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	Zero(b.data)

	var firstErr error
	if b.mapped {
		if err := unix.Munlock(b.data); err != nil {
			firstErr = fmt.Errorf("secret: munlock failed: %w", err)
		}
		if err := unix.Munmap(b.data); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("secret: munmap failed: %w", err)
		}
	}
	b.data = nil
	return firstErr
}

// Zero 把切片原地清零
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
