package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/cradlehq/cradle/pkg/types"
)

var (
	// Bucket names
	bucketInstances  = []byte("instances")
	bucketSettings   = []byte("settings")
	bucketChallenges = []byte("challenges")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "cradle.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketInstances,
			bucketSettings,
			bucketChallenges,
		}

		for _, bucket := range buckets {
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

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Instance operations

// InsertInstance writes the instance after checking uniqueness in the same
// write transaction. BoltDB serializes writers, so concurrent creators race
// here and the loser observes the winner's row.
func (s *BoltStore) InsertInstance(inst *types.Instance, mode types.AssignmentMode) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)

		if existing := b.Get([]byte(inst.ContainerID)); existing != nil {
			return &DuplicateOwnerError{ContainerID: inst.ContainerID, ChallengeID: inst.ChallengeID}
		}

		ownerKey := inst.Owner.Key()
		err := b.ForEach(func(k, v []byte) error {
			var row types.Instance
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.Owner.Key() != ownerKey {
				return nil
			}
			if row.ChallengeID == inst.ChallengeID || mode.SingleInstancePerOwner() {
				return &DuplicateOwnerError{ContainerID: row.ContainerID, ChallengeID: row.ChallengeID}
			}
			return nil
		})
		if err != nil {
			return err
		}

		data, err := json.Marshal(inst)
		if err != nil {
			return err
		}
		return b.Put([]byte(inst.ContainerID), data)
	})
}

func (s *BoltStore) GetInstance(containerID string) (*types.Instance, error) {
	var inst types.Instance
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		data := b.Get([]byte(containerID))
		if data == nil {
			return fmt.Errorf("instance not found: %s: %w", containerID, ErrNotFound)
		}
		return json.Unmarshal(data, &inst)
	})
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *BoltStore) FindInstance(challengeID string, owner types.Owner) (*types.Instance, error) {
	var found *types.Instance
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		return b.ForEach(func(k, v []byte) error {
			var row types.Instance
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.ChallengeID == challengeID && row.Owner.Key() == owner.Key() {
				found = &row
			}
			return nil
		})
	})
	return found, err
}

func (s *BoltStore) FindByOwner(owner types.Owner) (*types.Instance, error) {
	var found *types.Instance
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		return b.ForEach(func(k, v []byte) error {
			var row types.Instance
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.Owner.Key() == owner.Key() {
				found = &row
			}
			return nil
		})
	})
	return found, err
}

// UpdateExpiry sets the expiry to expiresAt unless the stored value is
// already later. Renewal never moves an expiry backwards.
func (s *BoltStore) UpdateExpiry(containerID string, expiresAt int64) (int64, error) {
	effective := expiresAt
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		data := b.Get([]byte(containerID))
		if data == nil {
			return fmt.Errorf("instance not found: %s: %w", containerID, ErrNotFound)
		}
		var row types.Instance
		if err := json.Unmarshal(data, &row); err != nil {
			return err
		}
		if row.ExpiresAt > expiresAt {
			effective = row.ExpiresAt
			return nil
		}
		row.ExpiresAt = expiresAt
		updated, err := json.Marshal(&row)
		if err != nil {
			return err
		}
		return b.Put([]byte(containerID), updated)
	})
	if err != nil {
		return 0, err
	}
	return effective, nil
}

func (s *BoltStore) DeleteInstance(containerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		return b.Delete([]byte(containerID))
	})
}

// ListInstances returns all instances, newest first
func (s *BoltStore) ListInstances() ([]*types.Instance, error) {
	var instances []*types.Instance
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		return b.ForEach(func(k, v []byte) error {
			var row types.Instance
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			instances = append(instances, &row)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].CreatedAt > instances[j].CreatedAt
	})
	return instances, nil
}

// Settings operations

func (s *BoltStore) PutSettings(values map[string]string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		for key, value := range values {
			if err := b.Put([]byte(key), []byte(value)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetSettings() (map[string]string, error) {
	settings := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		return b.ForEach(func(k, v []byte) error {
			settings[string(k)] = string(v)
			return nil
		})
	})
	return settings, err
}

// Challenge operations

func (s *BoltStore) PutChallenge(ch *types.Challenge) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChallenges)
		data, err := json.Marshal(ch)
		if err != nil {
			return err
		}
		return b.Put([]byte(ch.ID), data)
	})
}

func (s *BoltStore) GetChallenge(id string) (*types.Challenge, error) {
	var ch types.Challenge
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChallenges)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("challenge not found: %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &ch)
	})
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *BoltStore) ListChallenges() ([]*types.Challenge, error) {
	var challenges []*types.Challenge
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChallenges)
		return b.ForEach(func(k, v []byte) error {
			var ch types.Challenge
			if err := json.Unmarshal(v, &ch); err != nil {
				return err
			}
			challenges = append(challenges, &ch)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(challenges, func(i, j int) bool {
		return challenges[i].ID < challenges[j].ID
	})
	return challenges, nil
}

func (s *BoltStore) DeleteChallenge(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChallenges)
		return b.Delete([]byte(id))
	})
}
