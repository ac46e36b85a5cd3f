package core

import (
	"errors"

	"villa/pkg/types"
)

var ErrEmptyCommit = errors.New("commit has no entries")

// CommitEntry 记录一个文件在本次提交中的修订
type CommitEntry struct {
	FileID types.Hash `cbor:"f"`
	// Parent 是该文件的上一次提交；nil 表示这是该文件在分支上的第一个修订
	Parent *Link `cbor:"p,omitempty"`
	Blob   Link  `cbor:"b"`
}

func NewEntry(fileID types.Hash, parent *types.Hash, blob types.Hash) CommitEntry {
	e := CommitEntry{FileID: fileID, Blob: NewLink(blob)}
	if parent != nil {
		l := NewLink(*parent)
		e.Parent = &l
	}
	return e
}

// ParentID 返回父提交，根修订返回 false
func (e CommitEntry) ParentID() (types.Hash, bool) {
	if e.Parent == nil {
		return types.Hash{}, false
	}
	return e.Parent.Hash, true
}

// Commit 是一个变更集：一次提交可以同时包含多个文件的修订
// id 只由 message 和 entries 决定，创建后不可变
type Commit struct {
	hash     types.Hash `cbor:"-"`
	rawBytes []byte     `cbor:"-"`

	TypeVal ObjectType    `cbor:"t"`
	Message string        `cbor:"m"`
	Entries []CommitEntry `cbor:"e"`
}

func NewCommit(message string, entries []CommitEntry) (*Commit, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyCommit
	}
	c := &Commit{
		TypeVal: TypeCommit,
		Message: message,
		Entries: entries,
	}
	if err := c.seal(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Commit) seal() error {
	h, b, err := CalculateHash(c)
	if err != nil {
		return err
	}
	c.hash = h
	c.rawBytes = b
	return nil
}

// Entry 返回某个文件在本次提交中的修订
func (c *Commit) Entry(fileID types.Hash) (CommitEntry, bool) {
	for _, e := range c.Entries {
		if e.FileID == fileID {
			return e, true
		}
	}
	return CommitEntry{}, false
}

func (c *Commit) Type() ObjectType      { return TypeCommit }
func (c *Commit) ID() types.Hash        { return c.hash }
func (c *Commit) ContentID() types.Hash { return c.hash }
func (c *Commit) Bytes() []byte         { return c.rawBytes }
