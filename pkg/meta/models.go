package meta

import (
	"time"

	"gorm.io/datatypes"
)

// Ref 存储分支指针的投影，Name 形如 "<vault>/<fileID>/<branch>"
// 权威数据在 Vault 的 File 记录里，这里只为查询和并发检测服务
type Ref struct {
	Name string `gorm:"primaryKey;type:varchar(255)"`

	// CommitHash 指向当前的 Commit ID
	CommitHash string `gorm:"type:char(64);not null"`

	// Version 用于乐观锁并发控制 (CAS)
	// 每次更新时 +1，防止并发覆盖
	Version int64 `gorm:"default:1"`

	UpdatedAt time.Time
}

// FileModel 是 core.File 的投影 (villa list)
type FileModel struct {
	Vault  string `gorm:"primaryKey;type:varchar(255)"`
	FileID string `gorm:"primaryKey;type:char(64)"`

	Name      string `gorm:"index;type:varchar(255)"`
	FileType  string `gorm:"type:varchar(64)"`
	DateAdded int64  `gorm:"index"`

	// Record 是最新一份 File 记录的内容哈希
	Record string `gorm:"type:char(64);not null"`

	// Branches: {"master": "<commit hash>"}
	Branches datatypes.JSON

	UpdatedAt time.Time
}

func (FileModel) TableName() string {
	return "files"
}

// CommitModel 是 core.Commit 的投影 (villa log)
// 为了避免跟 core.Commit 混淆，我们叫它 CommitModel
type CommitModel struct {
	Hash    string `gorm:"primaryKey;type:char(64)"`
	Vault   string `gorm:"index;type:varchar(255)"`
	Message string `gorm:"type:text"`

	// Entries: 原样保存 [{"file": ..., "parent": ..., "blob": ...}]
	Entries datatypes.JSON

	CreatedAt time.Time
}

func (CommitModel) TableName() string {
	return "commits"
}

// CommitEntryModel 把提交按文件展开，方便按文件查询历史
type CommitEntryModel struct {
	CommitHash string `gorm:"primaryKey;type:char(64)"`
	FileID     string `gorm:"primaryKey;type:char(64);index"`
	ParentHash string `gorm:"type:char(64)"` // 空串表示根修订
	BlobHash   string `gorm:"type:char(64);not null"`
}

func (CommitEntryModel) TableName() string {
	return "commit_entries"
}

// TagModel 是 core.Tag 的投影
type TagModel struct {
	TagID      string `gorm:"primaryKey;type:char(64)"`
	Vault      string `gorm:"index;type:varchar(255)"`
	FileID     string `gorm:"index;type:char(64)"`
	Name       string `gorm:"type:varchar(255)"`
	CommitHash string `gorm:"type:char(64);not null"`

	CreatedAt time.Time
}

func (TagModel) TableName() string {
	return "tags"
}

// Models 返回需要迁移的全部表
func Models() []any {
	return []any{&Ref{}, &FileModel{}, &CommitModel{}, &CommitEntryModel{}, &TagModel{}}
}
