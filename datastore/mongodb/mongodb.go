// Package mongodb implements the document store on MongoDB, using the
// "projects" and "versioncontrols" collections.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/datastore"
)

const (
	projectsCollection       = "projects"
	versionControlCollection = "versioncontrols"
	defaultDatabase          = "editor"
)

// Register MongoDB adapter with the datastore factory
func init() {
	datastore.Register(datastore.TypeMongoDB, func(config datastore.Config) (datastore.DocumentStore, error) {
		return New(config)
	})
}

// MongoStore implements DocumentStore using MongoDB
type MongoStore struct {
	client         *mongo.Client
	database       *mongo.Database
	projects       *mongo.Collection
	versionControl *mongo.Collection
	config         datastore.Config
	mu             sync.RWMutex
	closed         bool
}

// versionControlDoc is the stored shape of datastore.VersionControl. The
// project reference keeps whatever id type the projects collection uses.
type versionControlDoc struct {
	ProjectID    any                        `bson:"projectId"`
	ActiveBranch string                     `bson:"activeBranch,omitempty"`
	Branches     []datastore.BranchSnapshot `bson:"branches"`
}

// New creates a new MongoDB-backed datastore
func New(config datastore.Config) (*MongoStore, error) {
	if config.Connection == "" {
		config.Connection = "mongodb://localhost:27017"
	}
	if config.Database == "" {
		config.Database = defaultDatabase
	}
	return &MongoStore{config: config}, nil
}

// Initialize connects, pings and creates indexes.
func (s *MongoStore) Initialize(config datastore.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return datastore.ErrClosed
	}
	if config.Database == "" {
		config.Database = s.config.Database
	}
	if config.Connection == "" {
		config.Connection = s.config.Connection
	}

	clientOptions := options.Client().ApplyURI(config.Connection)
	if config.ConnectionTimeout > 0 {
		clientOptions.SetConnectTimeout(config.ConnectionTimeout)
		clientOptions.SetServerSelectionTimeout(config.ConnectionTimeout)
	}

	client, err := mongo.Connect(context.Background(), clientOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %v: %w", err, datastore.ErrConnectionFailed)
	}

	timeout := config.ConnectionTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return fmt.Errorf("failed to ping MongoDB: %v: %w", err, datastore.ErrConnectionFailed)
	}

	s.client = client
	s.config = config
	s.database = client.Database(config.Database)
	s.projects = s.database.Collection(projectsCollection)
	s.versionControl = s.database.Collection(versionControlCollection)

	_, err = s.versionControl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.M{"projectId": 1},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		client.Disconnect(context.Background())
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// Close closes the MongoDB connection
func (s *MongoStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.client.Disconnect(ctx)
	}
	return nil
}

// HealthCheck verifies MongoDB is accessible
func (s *MongoStore) HealthCheck(ctx context.Context) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return s.client.Ping(ctx, nil)
}

// Type returns the datastore type
func (s *MongoStore) Type() string {
	return datastore.TypeMongoDB
}

// begin checks the store is usable and applies the operation timeout.
func (s *MongoStore) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, nil, datastore.ErrClosed
	}
	if s.client == nil {
		return nil, nil, fmt.Errorf("MongoDB client not initialized")
	}
	if s.config.OperationTimeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
		return ctx, cancel, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	return ctx, cancel, nil
}

// documentID maps an external id to the stored _id: 24-character hex ids
// are ObjectIDs, anything else is kept as a string.
func documentID(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func translate(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return datastore.ErrNotFound
	}
	return err
}

// FindProject loads a project document.
func (s *MongoStore) FindProject(ctx context.Context, id string) (*datastore.Project, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var project datastore.Project
	err = s.projects.FindOne(ctx, bson.M{"_id": documentID(id)}).Decode(&project)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", id, translate(err))
	}
	project.ID = id
	return &project, nil
}

// SaveProject creates or replaces a project document.
func (s *MongoStore) SaveProject(ctx context.Context, project *datastore.Project) error {
	if project == nil || project.ID == "" {
		return fmt.Errorf("project id is required: %w", datastore.ErrInvalidData)
	}
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	p := project.Clone()
	p.UpdatedAt = time.Now()
	_, err = s.projects.ReplaceOne(ctx, bson.M{"_id": documentID(p.ID)}, p, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save project %s: %w", p.ID, err)
	}
	return nil
}

// UpdateProject sets only the fields present in update.
func (s *MongoStore) UpdateProject(ctx context.Context, id string, update datastore.ProjectUpdate) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	set := bson.M{"updatedAt": time.Now()}
	if update.RepoPath != nil {
		set["repoPath"] = *update.RepoPath
	}
	if update.Structure != nil {
		set["structure"] = update.Structure
	}

	result, err := s.projects.UpdateOne(ctx, bson.M{"_id": documentID(id)}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update project %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("project %s: %w", id, datastore.ErrNotFound)
	}
	return nil
}

// FindVersionControl loads the project's branch metadata.
func (s *MongoStore) FindVersionControl(ctx context.Context, projectID string) (*datastore.VersionControl, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var doc versionControlDoc
	err = s.versionControl.FindOne(ctx, bson.M{"projectId": documentID(projectID)}).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("version control for %s: %w", projectID, translate(err))
	}
	return &datastore.VersionControl{
		ProjectID:    projectID,
		ActiveBranch: doc.ActiveBranch,
		Branches:     doc.Branches,
	}, nil
}

// SaveBranchSnapshot replaces the named entry of the branches array, or
// appends it when absent.
func (s *MongoStore) SaveBranchSnapshot(ctx context.Context, projectID string, snapshot datastore.BranchSnapshot) error {
	if snapshot.Name == "" {
		return fmt.Errorf("branch name is required: %w", datastore.ErrInvalidData)
	}
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now()
	}
	ref := documentID(projectID)

	// Two attempts: a concurrent writer may create the record or the
	// entry between the positional update and the upserting push.
	for attempt := 0; attempt < 2; attempt++ {
		result, err := s.versionControl.UpdateOne(ctx,
			bson.M{"projectId": ref, "branches.name": snapshot.Name},
			bson.M{"$set": bson.M{"branches.$": snapshot}})
		if err != nil {
			return fmt.Errorf("failed to save snapshot %s/%s: %w", projectID, snapshot.Name, err)
		}
		if result.MatchedCount > 0 {
			return nil
		}

		_, err = s.versionControl.UpdateOne(ctx,
			bson.M{"projectId": ref, "branches.name": bson.M{"$ne": snapshot.Name}},
			bson.M{"$push": bson.M{"branches": snapshot}},
			options.Update().SetUpsert(true))
		if err == nil {
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("failed to save snapshot %s/%s: %w", projectID, snapshot.Name, err)
		}
	}
	return fmt.Errorf("failed to save snapshot %s/%s: concurrent update", projectID, snapshot.Name)
}

// DeleteBranchSnapshot pulls the named entry from the branches array.
func (s *MongoStore) DeleteBranchSnapshot(ctx context.Context, projectID, branch string) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = s.versionControl.UpdateOne(ctx,
		bson.M{"projectId": documentID(projectID)},
		bson.M{"$pull": bson.M{"branches": bson.M{"name": branch}}})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s/%s: %w", projectID, branch, err)
	}
	return nil
}

// SetActiveBranch records the project's current branch.
func (s *MongoStore) SetActiveBranch(ctx context.Context, projectID, branch string) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = s.versionControl.UpdateOne(ctx,
		bson.M{"projectId": documentID(projectID)},
		bson.M{
			"$set":         bson.M{"activeBranch": branch},
			"$setOnInsert": bson.M{"branches": bson.A{}},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to set active branch for %s: %w", projectID, err)
	}
	return nil
}
