package registry

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/doridoridoriand/keepitup/internal/notify"
	"github.com/doridoridoriand/keepitup/internal/state"
)

// GormRegistry keeps nodes, users and subscriptions in a relational
// database.
type GormRegistry struct {
	db *gorm.DB
}

// NewGormRegistry migrates the registry tables and returns a registry on db.
func NewGormRegistry(db *gorm.DB) (*GormRegistry, error) {
	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("migrate registry: %w", err)
	}
	return &GormRegistry{db: db}, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (r *GormRegistry) List(ctx context.Context, owner string) ([]state.NodeInfo, error) {
	db := r.db.WithContext(ctx)
	query := db.Model(&Node{}).Order("id")
	if owner != "" {
		owned := db.Model(&Subscription{}).
			Select("subscriptions.node_id").
			Joins("JOIN users ON users.id = subscriptions.user_id").
			Where("users.email = ?", owner)
		query = query.Where("node_id IN (?)", owned)
	}

	var nodes []Node
	if err := query.Find(&nodes).Error; err != nil {
		return nil, unavailable(err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.NodeID)
	}
	owners, err := r.owners(ctx, ids)
	if err != nil {
		return nil, unavailable(err)
	}

	infos := make([]state.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		infos = append(infos, n.info(owners[n.NodeID]))
	}
	return infos, nil
}

func (r *GormRegistry) owners(ctx context.Context, ids []string) (map[string][]string, error) {
	var rows []struct {
		NodeID string
		Email  string
	}
	err := r.db.WithContext(ctx).Table("subscriptions").
		Select("subscriptions.node_id AS node_id, users.email AS email").
		Joins("JOIN users ON users.id = subscriptions.user_id").
		Where("subscriptions.node_id IN ?", ids).
		Order("users.email").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	owners := make(map[string][]string, len(ids))
	for _, row := range rows {
		owners[row.NodeID] = append(owners[row.NodeID], row.Email)
	}
	return owners, nil
}

func (r *GormRegistry) Save(ctx context.Context, statuses []state.NodeStatus) error {
	if len(statuses) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, st := range statuses {
			err := tx.Model(&Node{}).Where("node_id = ?", st.ID).Updates(map[string]interface{}{
				"state":           st.State.String(),
				"is_waiting":      st.IsWaiting,
				"last_seen_at":    timePtr(st.LastSeenAt),
				"last_updated_at": timePtr(st.LastUpdatedAt),
			}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (r *GormRegistry) UpdateIdentity(ctx context.Context, id, name, address string) error {
	result := r.db.WithContext(ctx).Model(&Node{}).Where("node_id = ?", id).Updates(map[string]interface{}{
		"name":    name,
		"address": address,
	})
	if result.Error != nil {
		return unavailable(result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *GormRegistry) Subscribers(ctx context.Context, nodeID string) ([]notify.Subscriber, error) {
	var subs []notify.Subscriber
	err := r.db.WithContext(ctx).Table("subscriptions").
		Select("users.id AS id, users.email AS email").
		Joins("JOIN users ON users.id = subscriptions.user_id").
		Where("subscriptions.node_id = ? AND subscriptions.notify = ? AND users.email_confirmed = ?", nodeID, true, true).
		Order("users.email").
		Scan(&subs).Error
	if err != nil {
		return nil, unavailable(err)
	}
	return subs, nil
}

// AddNode registers a new node.
func (r *GormRegistry) AddNode(ctx context.Context, info state.NodeInfo) error {
	node := Node{
		NodeID:    info.ID,
		Name:      info.Name,
		Address:   info.Address,
		State:     info.State.String(),
		IsWaiting: info.IsWaiting || info.State == state.StateNew,
	}
	if err := r.db.WithContext(ctx).Create(&node).Error; err != nil {
		return fmt.Errorf("add node %s: %w", info.ID, err)
	}
	return nil
}

// AddUser registers a user by email.
func (r *GormRegistry) AddUser(ctx context.Context, email string, confirmed bool) (*User, error) {
	user := &User{Email: email, EmailConfirmed: confirmed}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("add user %s: %w", email, err)
	}
	return user, nil
}

// Subscribe links the user with email to a node. Subscribing again only
// updates the notify flag.
func (r *GormRegistry) Subscribe(ctx context.Context, email, nodeID string, notifyMe bool) error {
	db := r.db.WithContext(ctx)

	var user User
	if err := db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("user %s: %w", email, ErrNotFound)
		}
		return unavailable(err)
	}
	var count int64
	if err := db.Model(&Node{}).Where("node_id = ?", nodeID).Count(&count).Error; err != nil {
		return unavailable(err)
	}
	if count == 0 {
		return fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
	}

	var sub Subscription
	if err := db.Where(Subscription{UserID: user.ID, NodeID: nodeID}).
		Attrs(Subscription{Notify: notifyMe}).
		FirstOrCreate(&sub).Error; err != nil {
		return unavailable(err)
	}
	if sub.Notify != notifyMe {
		if err := db.Model(&sub).Update("notify", notifyMe).Error; err != nil {
			return unavailable(err)
		}
	}
	return nil
}
