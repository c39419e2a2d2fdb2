// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"fmt"
	"time"
)

// 文档的索引状态。
const (
	DocumentStatusIndexing = 0
	DocumentStatusIndexed  = 1
	DocumentStatusFailed   = 2
)

// Document 定义了 documents 表的 ORM 模型，记录每个上传 PDF 的元数据和索引状态。
// 状态为 failed 的记录由清理任务负责回收。
type Document struct {
	ID         string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	FileName   string    `gorm:"type:varchar(255);not null" json:"fileName"`
	ObjectKey  string    `gorm:"type:varchar(512);not null" json:"objectKey"`
	ChunkCount int       `gorm:"not null;default:0" json:"chunkCount"`
	Status     int       `gorm:"type:tinyint;not null;default:0" json:"status"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// DocumentObjectKey 返回原始 PDF 在对象存储中的键。
func DocumentObjectKey(documentID, fileName string) string {
	return fmt.Sprintf("pdf_store/%s_%s", documentID, fileName)
}

// DocumentRef 是上传成功后返回给调用方的文档引用。
type DocumentRef struct {
	ID         string
	FileName   string
	ObjectKey  string
	ChunkCount int
}
