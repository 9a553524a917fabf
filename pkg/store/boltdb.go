package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/tenantsync/pkg/hashtree"
	"github.com/cuemby/tenantsync/pkg/types"
)

var (
	bucketTrees   = []byte("hash_trees")
	bucketFaults  = []byte("faults")
	bucketStatus  = []byte("statuses")
	bucketActions = []byte("action_logs")
	bucketAgents  = []byte("agents")
)

// actionLogBound is the maximum number of entries kept per root before a
// RESET marker replaces the log.
const actionLogBound = 1000

// BoltStore is a bbolt-backed Store, one bucket per table, each row
// JSON-marshaled.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a BoltStore at path, creating all
// required buckets.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTrees, bucketFaults, bucketStatus, bucketActions, bucketAgents} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func treeKey(root, variant string) []byte { return []byte(root + "|" + variant) }

func (s *BoltStore) PutTree(root string, variant string, tree *hashtree.Tree) error {
	data, err := hashtree.Serialize(tree)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTrees).Put(treeKey(root, variant), data)
	})
}

func (s *BoltStore) GetTree(root string, variant string) (*hashtree.Tree, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTrees).Get(treeKey(root, variant))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return hashtree.New(), nil
	}
	return hashtree.Deserialize(data)
}

func (s *BoltStore) Roots() ([]string, error) {
	seen := map[string]bool{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTrees).ForEach(func(k, v []byte) error {
			key := string(k)
			for i := 0; i < len(key); i++ {
				if key[i] == '|' {
					seen[key[:i]] = true
					break
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	roots := make([]string, 0, len(seen))
	for r := range seen {
		roots = append(roots, r)
	}
	return roots, nil
}

func statusKey(resourceType, resourceID string) []byte {
	return []byte(resourceType + "|" + resourceID)
}

func (s *BoltStore) PutStatus(st types.SyncStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStatus).Put(statusKey(st.ResourceType, st.ResourceID), data)
	})
}

func (s *BoltStore) GetStatus(resourceType, resourceID string) (*types.SyncStatus, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketStatus).Get(statusKey(resourceType, resourceID))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || data == nil {
		return nil, err
	}
	var st types.SyncStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *BoltStore) PutFault(f types.Fault) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFaults).Put([]byte(f.ExternalIdentifier), data)
	})
}

func (s *BoltStore) DeleteFault(externalIdentifier string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFaults).Delete([]byte(externalIdentifier))
	})
}

func (s *BoltStore) AppendAction(root string, entry types.ActionLogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketActions)
		key := []byte(root)
		var log []types.ActionLogEntry
		if v := b.Get(key); v != nil {
			_ = json.Unmarshal(v, &log)
		}
		log = append(log, entry)
		if len(log) > actionLogBound {
			log = []types.ActionLogEntry{{Op: types.ActionLogReset, Timestamp: entry.Timestamp}}
		}
		data, err := json.Marshal(log)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) ActionLog(root string) ([]types.ActionLogEntry, error) {
	var log []types.ActionLogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketActions).Get([]byte(root))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &log)
	})
	return log, err
}

func (s *BoltStore) PutAgent(a types.AgentInfo) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).Put([]byte(a.ID), data)
	})
}

func (s *BoltStore) Agents() ([]types.AgentInfo, error) {
	var agents []types.AgentInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).ForEach(func(k, v []byte) error {
			var a types.AgentInfo
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			agents = append(agents, a)
			return nil
		})
	})
	return agents, err
}
