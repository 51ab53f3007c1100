package models

// UserBlock is a local mirror of the profile service's block graph,
// synced the same way tournament user snapshots are. A row in either
// direction prevents new challenges between the two users.
type UserBlock struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	BlockerID string `gorm:"index:idx_block_pair,unique;not null" json:"blocker_id"`
	BlockedID string `gorm:"index:idx_block_pair,unique;not null" json:"blocked_id"`

	Timestamps
}
