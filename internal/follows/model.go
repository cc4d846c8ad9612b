// Package follows owns the extension store's follow (like) records and the
// cached engagement counters derived from them. Content lives upstream; the
// fact that a person liked it lives here.
package follows

import "time"

// Follow records that a person likes a node. The node is addressed by its
// upstream entity type id plus record id, so any node type can be followed.
type Follow struct {
	ID            string    `gorm:"column:id;primaryKey;size:36;not null"`
	PersonID      int       `gorm:"column:person_id;not null;uniqueIndex:idx_follows_person_node,priority:1"`
	PersonAliasID int       `gorm:"column:person_alias_id;not null"`
	NodeTypeID    int       `gorm:"column:node_type_id;not null;uniqueIndex:idx_follows_person_node,priority:2;index:idx_follows_node,priority:1"`
	NodeID        int       `gorm:"column:node_id;not null;uniqueIndex:idx_follows_person_node,priority:3;index:idx_follows_node,priority:2"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Follow) TableName() string {
	return "follows"
}
