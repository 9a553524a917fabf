// Package store persists the agent's five tables: agents, hash_trees,
// faults, statuses, action_logs.
package store

import (
	"github.com/cuemby/tenantsync/pkg/hashtree"
	"github.com/cuemby/tenantsync/pkg/types"
)

// Store is the persistence boundary. BoltStore is the concrete
// implementation; tests may substitute an in-memory fake.
type Store interface {
	// PutTree persists one root's tree for one variant.
	PutTree(root string, variant string, tree *hashtree.Tree) error
	// GetTree reads one root's tree for one variant, or an empty tree.
	GetTree(root string, variant string) (*hashtree.Tree, error)
	// Roots lists every root with any persisted tree.
	Roots() ([]string, error)

	PutStatus(types.SyncStatus) error
	GetStatus(resourceType, resourceID string) (*types.SyncStatus, error)

	PutFault(types.Fault) error
	DeleteFault(externalIdentifier string) error

	// AppendAction appends one action-log entry for root, truncating to a
	// RESET marker if the bounded size is exceeded.
	AppendAction(root string, entry types.ActionLogEntry) error
	ActionLog(root string) ([]types.ActionLogEntry, error)

	PutAgent(types.AgentInfo) error
	Agents() ([]types.AgentInfo, error)

	Close() error
}
