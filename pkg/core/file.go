package core

import (
	"crypto/rand"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"villa/pkg/types"
)

var (
	ErrBranchExists = errors.New("branch already exists")
	ErrNoBranch     = errors.New("no such branch")
	ErrTagExists    = errors.New("tag already exists")
)

// FileType 是文件的 MIME 类型
type FileType string

const (
	FilePlain    FileType = "text/plain"
	FilePDF      FileType = "application/pdf"
	FileMarkdown FileType = "text/markdown"
)

var extensions = map[string]FileType{
	".txt": FilePlain,
	".pdf": FilePDF,
	".md":  FileMarkdown,
}

// FileTypeFor 按扩展名推断类型，未知扩展名按纯文本处理
func FileTypeFor(name string) FileType {
	if t, ok := extensions[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	return FilePlain
}

// DefaultBranch 是导入文件时创建的分支
const DefaultBranch = "master"

const fileSaltLen = 32

// File 是一个被版本化的文件
// FileID 由随机盐和文件名派生，同名文件不会冲突；它在文件的整个生命周期中不变。
// 记录本身是可变的 (分支移动、新增标签)，每次修改都会产生新的内容哈希。
type File struct {
	hash     types.Hash `cbor:"-"`
	rawBytes []byte     `cbor:"-"`

	TypeVal   ObjectType `cbor:"t"`
	FileID    types.Hash `cbor:"id"`
	Name      string     `cbor:"n"`
	DateAdded int64      `cbor:"d"`
	FileType  FileType   `cbor:"ft"`
	Branches  []*Branch  `cbor:"br"`
	Tags      []*Tag     `cbor:"tg"`
}

func NewFile(name string) (*File, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	salt := make([]byte, fileSaltLen, fileSaltLen+len(name))
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate file salt: %w", err)
	}

	f := &File{
		TypeVal:   TypeFile,
		FileID:    types.Compute(append(salt, name...)),
		Name:      name,
		DateAdded: time.Now().Unix(),
		FileType:  FileTypeFor(name),
		Branches:  []*Branch{},
		Tags:      []*Tag{},
	}
	if err := f.seal(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) seal() error {
	h, b, err := CalculateHash(f)
	if err != nil {
		return err
	}
	f.hash = h
	f.rawBytes = b
	return nil
}

// AddBranch 新建一个指向 head 的分支
func (f *File) AddBranch(name string, head types.Hash) (*Branch, error) {
	if _, ok := f.Branch(name); ok {
		return nil, fmt.Errorf("%w: %s", ErrBranchExists, name)
	}
	b, err := NewBranch(name, f.FileID, head)
	if err != nil {
		return nil, err
	}
	f.Branches = append(f.Branches, b)
	return b, f.seal()
}

func (f *File) Branch(name string) (*Branch, bool) {
	for _, b := range f.Branches {
		if b.Name == name {
			return b, true
		}
	}
	return nil, false
}

// SetHead 移动分支指针
func (f *File) SetHead(branch string, commit types.Hash) error {
	b, ok := f.Branch(branch)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoBranch, branch)
	}
	b.Head = NewLink(commit)
	if err := b.seal(); err != nil {
		return err
	}
	return f.seal()
}

// AddTag 给某个提交打标签，标签名在文件内唯一
func (f *File) AddTag(name string, commit types.Hash) (*Tag, error) {
	if _, ok := f.Tag(name); ok {
		return nil, fmt.Errorf("%w: %s", ErrTagExists, name)
	}
	t, err := NewTag(name, commit)
	if err != nil {
		return nil, err
	}
	f.Tags = append(f.Tags, t)
	return t, f.seal()
}

func (f *File) Tag(name string) (*Tag, bool) {
	for _, t := range f.Tags {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

func (f *File) Type() ObjectType      { return TypeFile }
func (f *File) ID() types.Hash        { return f.FileID }
func (f *File) ContentID() types.Hash { return f.hash }
func (f *File) Bytes() []byte         { return f.rawBytes }
