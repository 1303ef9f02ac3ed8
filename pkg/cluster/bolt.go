package cluster

import (
	"context"
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketAttributes = []byte("attributes")
	bucketVotes      = []byte("votes")
	bucketState      = []byte("state")

	keyLeader     = []byte("leader")
	keyTransition = []byte("transition")
)

// BoltCluster is a bbolt-backed cluster view for standalone and development
// operation, where no resource manager exists. Attributes and vote scores
// survive restarts the way the real attribute store's forever lifetime does.
type BoltCluster struct {
	db *bolt.DB
}

// NewBoltCluster opens (or creates) the attribute database.
func NewBoltCluster(path string) (*BoltCluster, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open cluster database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketAttributes, bucketVotes, bucketState} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltCluster{db: db}, nil
}

// GetAttribute reads the named attribute; unset reads as 0.
func (c *BoltCluster) GetAttribute(_ context.Context, name string) (uint64, error) {
	var value uint64
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAttributes).Get([]byte(name))
		if data == nil {
			return nil
		}
		if len(data) != 8 {
			return fmt.Errorf("malformed attribute %s", name)
		}
		value = binary.BigEndian.Uint64(data)
		return nil
	})
	return value, err
}

// SetAttribute writes the named attribute.
func (c *BoltCluster) SetAttribute(_ context.Context, name string, value uint64) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		var data [8]byte
		binary.BigEndian.PutUint64(data[:], value)
		return tx.Bucket(bucketAttributes).Put([]byte(name), data[:])
	})
}

// SetVoteScore records this node's promotion weight for the resource.
func (c *BoltCluster) SetVoteScore(_ context.Context, resource string, score int) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		var data [8]byte
		binary.BigEndian.PutUint64(data[:], uint64(int64(score)))
		return tx.Bucket(bucketVotes).Put([]byte(resource), data[:])
	})
}

// VoteScore reads the recorded promotion weight; unset reads as 0.
func (c *BoltCluster) VoteScore(resource string) (int, error) {
	var score int
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketVotes).Get([]byte(resource))
		if data == nil {
			return nil
		}
		if len(data) != 8 {
			return fmt.Errorf("malformed vote score for %s", resource)
		}
		score = int(int64(binary.BigEndian.Uint64(data)))
		return nil
	})
	return score, err
}

// Leader returns the recorded leader node, empty when none.
func (c *BoltCluster) Leader(_ context.Context, _ string) (string, error) {
	var leader string
	err := c.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketState).Get(keyLeader); data != nil {
			leader = string(data)
		}
		return nil
	})
	return leader, err
}

// SetLeader records the leader node. Standalone-mode helper.
func (c *BoltCluster) SetLeader(node string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).Put(keyLeader, []byte(node))
	})
}

// TransitionPending reports the recorded transition flag.
func (c *BoltCluster) TransitionPending(_ context.Context) (bool, error) {
	var pending bool
	err := c.db.View(func(tx *bolt.Tx) error {
		pending = string(tx.Bucket(bucketState).Get(keyTransition)) == "pending"
		return nil
	})
	return pending, err
}

// SetTransitionPending sets the transition flag. Standalone-mode helper.
func (c *BoltCluster) SetTransitionPending(pending bool) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if !pending {
			return tx.Bucket(bucketState).Delete(keyTransition)
		}
		return tx.Bucket(bucketState).Put(keyTransition, []byte("pending"))
	})
}

// ClearErrors is a no-op for the standalone backend.
func (c *BoltCluster) ClearErrors(_ context.Context, _ string) error {
	return nil
}

// Close closes the database.
func (c *BoltCluster) Close() error {
	return c.db.Close()
}
