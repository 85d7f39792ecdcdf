// Package bolt implements the document store on an embedded BoltDB file.
// Records are stored as JSON, one bucket per collection.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/datastore"
)

var (
	projectsBucket       = []byte("projects")
	versionControlBucket = []byte("version_control")
)

// BoltStore is a DocumentStore backed by a single BoltDB file.
type BoltStore struct {
	db     *bolt.DB
	config datastore.Config
	mu     sync.RWMutex
	closed bool
}

func init() {
	datastore.Register(datastore.TypeBolt, func(config datastore.Config) (datastore.DocumentStore, error) {
		return New(config)
	})
}

// New creates a BoltDB datastore. Initialize opens the file.
func New(config datastore.Config) (*BoltStore, error) {
	if config.Connection == "" {
		return nil, fmt.Errorf("connection string is required for BoltDB")
	}
	return &BoltStore{config: config}, nil
}

// Initialize opens the database and creates the buckets.
func (s *BoltStore) Initialize(config datastore.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return datastore.ErrClosed
	}

	timeout := config.ConnectionTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	db, err := bolt.Open(config.Connection, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return fmt.Errorf("failed to open BoltDB: %v: %w", err, datastore.ErrConnectionFailed)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{projectsBucket, versionControlBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize buckets: %w", err)
	}

	s.db = db
	s.config = config
	return nil
}

// Close closes the BoltDB file.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the store is accessible
func (s *BoltStore) HealthCheck(ctx context.Context) error {
	return s.view(ctx, func(tx *bolt.Tx) error { return nil })
}

// Type returns the datastore type
func (s *BoltStore) Type() string {
	return datastore.TypeBolt
}

func (s *BoltStore) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	return db.View(fn)
}

func (s *BoltStore) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	return db.Update(fn)
}

func (s *BoltStore) handle(ctx context.Context) (*bolt.DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, datastore.ErrClosed
	}
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return s.db, nil
}

// FindProject loads a project record.
func (s *BoltStore) FindProject(ctx context.Context, id string) (*datastore.Project, error) {
	var project datastore.Project
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return get(tx.Bucket(projectsBucket), id, &project)
	})
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", id, err)
	}
	project.ID = id
	return &project, nil
}

// SaveProject creates or replaces a project record.
func (s *BoltStore) SaveProject(ctx context.Context, project *datastore.Project) error {
	if project == nil || project.ID == "" {
		return fmt.Errorf("project id is required: %w", datastore.ErrInvalidData)
	}
	p := project.Clone()
	p.UpdatedAt = time.Now()
	return s.update(ctx, func(tx *bolt.Tx) error {
		return put(tx.Bucket(projectsBucket), p.ID, p)
	})
}

// UpdateProject applies a partial update inside one transaction.
func (s *BoltStore) UpdateProject(ctx context.Context, id string, update datastore.ProjectUpdate) error {
	err := s.update(ctx, func(tx *bolt.Tx) error {
		bucket := tx.Bucket(projectsBucket)
		var project datastore.Project
		if err := get(bucket, id, &project); err != nil {
			return err
		}
		update.Apply(&project)
		project.UpdatedAt = time.Now()
		return put(bucket, id, &project)
	})
	if err != nil {
		return fmt.Errorf("project %s: %w", id, err)
	}
	return nil
}

// FindVersionControl loads the project's branch metadata.
func (s *BoltStore) FindVersionControl(ctx context.Context, projectID string) (*datastore.VersionControl, error) {
	var vc datastore.VersionControl
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return get(tx.Bucket(versionControlBucket), projectID, &vc)
	})
	if err != nil {
		return nil, fmt.Errorf("version control for %s: %w", projectID, err)
	}
	return &vc, nil
}

// SaveBranchSnapshot upserts one branch snapshot.
func (s *BoltStore) SaveBranchSnapshot(ctx context.Context, projectID string, snapshot datastore.BranchSnapshot) error {
	if snapshot.Name == "" {
		return fmt.Errorf("branch name is required: %w", datastore.ErrInvalidData)
	}
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now()
	}
	return s.modifyVersionControl(ctx, projectID, true, func(vc *datastore.VersionControl) {
		vc.UpsertSnapshot(snapshot)
	})
}

// DeleteBranchSnapshot removes one branch snapshot.
func (s *BoltStore) DeleteBranchSnapshot(ctx context.Context, projectID, branch string) error {
	return s.modifyVersionControl(ctx, projectID, false, func(vc *datastore.VersionControl) {
		vc.RemoveSnapshot(branch)
	})
}

// SetActiveBranch records the project's current branch.
func (s *BoltStore) SetActiveBranch(ctx context.Context, projectID, branch string) error {
	return s.modifyVersionControl(ctx, projectID, true, func(vc *datastore.VersionControl) {
		vc.ActiveBranch = branch
	})
}

// modifyVersionControl runs a read-modify-write in one Bolt transaction.
// When create is false a missing record is left missing.
func (s *BoltStore) modifyVersionControl(ctx context.Context, projectID string, create bool, fn func(vc *datastore.VersionControl)) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		bucket := tx.Bucket(versionControlBucket)
		vc := datastore.VersionControl{ProjectID: projectID}
		err := get(bucket, projectID, &vc)
		switch {
		case err == datastore.ErrNotFound && !create:
			return nil
		case err != nil && err != datastore.ErrNotFound:
			return err
		}
		fn(&vc)
		return put(bucket, projectID, &vc)
	})
}

func get(bucket *bolt.Bucket, key string, v any) error {
	if bucket == nil {
		return datastore.ErrNotFound
	}
	data := bucket.Get([]byte(key))
	if data == nil {
		return datastore.ErrNotFound
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %v: %w", key, err, datastore.ErrInvalidData)
	}
	return nil
}

func put(bucket *bolt.Bucket, key string, v any) error {
	if bucket == nil {
		return fmt.Errorf("bucket not found")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return bucket.Put([]byte(key), data)
}
