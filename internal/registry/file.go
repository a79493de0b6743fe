package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/doridoridoriand/keepitup/internal/notify"
	"github.com/doridoridoriand/keepitup/internal/state"
)

// FileDocument is the on-disk layout of a FileRegistry.
type FileDocument struct {
	UpdatedAt time.Time  `yaml:"updated_at"`
	Nodes     []FileNode `yaml:"nodes"`
	Users     []FileUser `yaml:"users,omitempty"`
}

// FileNode is one node entry.
type FileNode struct {
	ID            string             `yaml:"id"`
	Name          string             `yaml:"name"`
	Address       string             `yaml:"address"`
	State         string             `yaml:"state,omitempty"`
	IsWaiting     bool               `yaml:"is_waiting"`
	LastSeenAt    time.Time          `yaml:"last_seen_at,omitempty"`
	LastUpdatedAt time.Time          `yaml:"last_updated_at,omitempty"`
	Subscriptions []FileSubscription `yaml:"subscriptions,omitempty"`
}

// FileSubscription links a user email to the enclosing node.
type FileSubscription struct {
	Email  string `yaml:"email"`
	Notify bool   `yaml:"notify"`
}

// FileUser is a subscriber identity.
type FileUser struct {
	ID        uint   `yaml:"id"`
	Email     string `yaml:"email"`
	Confirmed bool   `yaml:"confirmed"`
}

// FileRegistry keeps the registry in a YAML file. Every call reads the file
// again so hand edits are picked up on the next refresh.
type FileRegistry struct {
	mu   sync.Mutex
	path string
}

// NewFileRegistry returns a registry backed by path. A missing file is an
// empty registry.
func NewFileRegistry(path string) *FileRegistry {
	return &FileRegistry{path: path}
}

func (r *FileRegistry) load() (*FileDocument, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &FileDocument{}, nil
		}
		return nil, unavailable(err)
	}

	var doc FileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, unavailable(fmt.Errorf("parse %s: %w", r.path, err))
	}
	return &doc, nil
}

func (r *FileRegistry) save(doc *FileDocument) error {
	doc.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return unavailable(err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return unavailable(err)
	}
	return nil
}

func (n FileNode) info() state.NodeInfo {
	st, err := state.ParseState(n.State)
	if err != nil {
		st = state.StateNew
	}
	owners := make([]string, 0, len(n.Subscriptions))
	for _, s := range n.Subscriptions {
		owners = append(owners, s.Email)
	}
	sort.Strings(owners)
	return state.NodeInfo{
		ID:            n.ID,
		Name:          n.Name,
		Address:       n.Address,
		Owners:        owners,
		State:         st,
		IsWaiting:     n.IsWaiting,
		LastSeenAt:    n.LastSeenAt,
		LastUpdatedAt: n.LastUpdatedAt,
	}
}

func (r *FileRegistry) List(ctx context.Context, owner string) ([]state.NodeInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return nil, err
	}
	var infos []state.NodeInfo
	for _, n := range doc.Nodes {
		info := n.info()
		if owner != "" && !contains(info.Owners, owner) {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (r *FileRegistry) Save(ctx context.Context, statuses []state.NodeStatus) error {
	if len(statuses) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}
	byID := make(map[string]state.NodeStatus, len(statuses))
	for _, st := range statuses {
		byID[st.ID] = st
	}
	for i := range doc.Nodes {
		st, ok := byID[doc.Nodes[i].ID]
		if !ok {
			continue
		}
		doc.Nodes[i].State = st.State.String()
		doc.Nodes[i].IsWaiting = st.IsWaiting
		doc.Nodes[i].LastSeenAt = st.LastSeenAt
		doc.Nodes[i].LastUpdatedAt = st.LastUpdatedAt
	}
	return r.save(doc)
}

func (r *FileRegistry) UpdateIdentity(ctx context.Context, id, name, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}
	for i := range doc.Nodes {
		if doc.Nodes[i].ID == id {
			doc.Nodes[i].Name = name
			doc.Nodes[i].Address = address
			return r.save(doc)
		}
	}
	return fmt.Errorf("node %s: %w", id, ErrNotFound)
}

func (r *FileRegistry) Subscribers(ctx context.Context, nodeID string) ([]notify.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return nil, err
	}
	users := make(map[string]FileUser, len(doc.Users))
	for _, u := range doc.Users {
		users[u.Email] = u
	}

	var subs []notify.Subscriber
	for _, n := range doc.Nodes {
		if n.ID != nodeID {
			continue
		}
		for _, s := range n.Subscriptions {
			u, ok := users[s.Email]
			if !ok || !u.Confirmed || !s.Notify {
				continue
			}
			subs = append(subs, notify.Subscriber{ID: u.ID, Email: u.Email})
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Email < subs[j].Email })
	return subs, nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
