package storage

import "time"

// StoredObject is the metadata row for one persisted object. The pointer
// is the only public handle; the original filename is never recorded here.
type StoredObject struct {
	Pointer     string    `gorm:"column:pointer;primaryKey" json:"pointer"`
	ContentHash string    `gorm:"column:content_hash" json:"content_hash"`
	Context     string    `gorm:"column:context" json:"context"`
	MediaType   string    `gorm:"column:media_type" json:"media_type"`
	Size        int64     `gorm:"column:size" json:"size"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
}

func (StoredObject) TableName() string { return "stored_objects" }
