package core

import (
	"errors"

	"villa/pkg/types"
)

var ErrEmptyName = errors.New("name must not be empty")

// Branch 是某个文件上的一条修订线
// BranchID = hash(name ++ fileID)，与 head 无关
type Branch struct {
	hash     types.Hash `cbor:"-"`
	rawBytes []byte     `cbor:"-"`

	TypeVal  ObjectType `cbor:"t"`
	BranchID types.Hash `cbor:"id"`
	Name     string     `cbor:"n"`
	FileID   types.Hash `cbor:"f"`
	Head     Link       `cbor:"h"`
}

func NewBranch(name string, fileID, head types.Hash) (*Branch, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	id := make([]byte, 0, len(name)+types.HashSize)
	id = append(id, name...)
	id = append(id, fileID[:]...)

	b := &Branch{
		TypeVal:  TypeBranch,
		BranchID: types.Compute(id),
		Name:     name,
		FileID:   fileID,
		Head:     NewLink(head),
	}
	if err := b.seal(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Branch) seal() error {
	h, raw, err := CalculateHash(b)
	if err != nil {
		return err
	}
	b.hash = h
	b.rawBytes = raw
	return nil
}

func (b *Branch) Type() ObjectType      { return TypeBranch }
func (b *Branch) ID() types.Hash        { return b.BranchID }
func (b *Branch) ContentID() types.Hash { return b.hash }
func (b *Branch) Bytes() []byte         { return b.rawBytes }

// Tag 是指向某个提交的命名引用
// TagID = hash(name ++ commitID)
type Tag struct {
	hash     types.Hash `cbor:"-"`
	rawBytes []byte     `cbor:"-"`

	TypeVal ObjectType `cbor:"t"`
	TagID   types.Hash `cbor:"id"`
	Name    string     `cbor:"n"`
	Commit  Link       `cbor:"c"`
}

func NewTag(name string, commit types.Hash) (*Tag, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	id := make([]byte, 0, len(name)+types.HashSize)
	id = append(id, name...)
	id = append(id, commit[:]...)

	t := &Tag{
		TypeVal: TypeTag,
		TagID:   types.Compute(id),
		Name:    name,
		Commit:  NewLink(commit),
	}
	if err := t.seal(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tag) seal() error {
	h, raw, err := CalculateHash(t)
	if err != nil {
		return err
	}
	t.hash = h
	t.rawBytes = raw
	return nil
}

func (t *Tag) Type() ObjectType      { return TypeTag }
func (t *Tag) ID() types.Hash        { return t.TagID }
func (t *Tag) ContentID() types.Hash { return t.hash }
func (t *Tag) Bytes() []byte         { return t.rawBytes }
