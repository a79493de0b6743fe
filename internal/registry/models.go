package registry

import (
	"time"

	"github.com/doridoridoriand/keepitup/internal/state"
)

// User is a person who can subscribe to nodes.
type User struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	Email          string    `gorm:"column:email;type:varchar(255);uniqueIndex;not null" json:"email"`
	EmailConfirmed bool      `gorm:"column:email_confirmed;not null;default:false" json:"email_confirmed"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
}

func (User) TableName() string { return "users" }

// Node is the persisted record of a supervised node.
type Node struct {
	ID            uint       `gorm:"primarykey" json:"id"`
	NodeID        string     `gorm:"column:node_id;type:varchar(64);uniqueIndex;not null" json:"node_id"`
	Name          string     `gorm:"column:name;type:varchar(255)" json:"name"`
	Address       string     `gorm:"column:address;type:varchar(255);not null" json:"address"`
	State         string     `gorm:"column:state;type:varchar(16);not null;default:NEW" json:"state"`
	IsWaiting     bool       `gorm:"column:is_waiting;not null" json:"is_waiting"`
	LastSeenAt    *time.Time `gorm:"column:last_seen_at" json:"last_seen_at,omitempty"`
	LastUpdatedAt *time.Time `gorm:"column:last_updated_at" json:"last_updated_at,omitempty"`
	CreatedAt     time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (Node) TableName() string { return "nodes" }

// Subscription links a user to a node.
type Subscription struct {
	ID     uint   `gorm:"primarykey" json:"id"`
	UserID uint   `gorm:"column:user_id;uniqueIndex:uk_subscription;not null" json:"user_id"`
	NodeID string `gorm:"column:node_id;type:varchar(64);uniqueIndex:uk_subscription;not null" json:"node_id"`
	Notify bool   `gorm:"column:notify;not null;default:true" json:"notify"`
}

func (Subscription) TableName() string { return "subscriptions" }

// Models lists every table owned by the registry, for migrations.
func Models() []interface{} {
	return []interface{}{&User{}, &Node{}, &Subscription{}}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func (n Node) info(owners []string) state.NodeInfo {
	st, err := state.ParseState(n.State)
	if err != nil {
		st = state.StateNew
	}
	return state.NodeInfo{
		ID:            n.NodeID,
		Name:          n.Name,
		Address:       n.Address,
		Owners:        owners,
		State:         st,
		IsWaiting:     n.IsWaiting,
		LastSeenAt:    timeValue(n.LastSeenAt),
		LastUpdatedAt: timeValue(n.LastUpdatedAt),
	}
}
