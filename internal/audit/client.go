// Package audit mirrors checkpoint, slashing, and view-change events to
// Firestore as an append-only, hash-chained audit trail for compliance
// and forensics. Like internal/storage/sqlmirror, it sits off the
// consensus write path: disabling it changes nothing about block
// production or finality, only what history is queryable afterward.
package audit

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Client wraps the Firestore client with a disabled no-op mode, so a
// node with no GCP project configured runs with audit mirroring
// silently turned off rather than failing to start.
type Client struct {
	app       *firebase.App
	firestore *gcpfirestore.Client
	projectID string
	logger    *log.Logger
	enabled   bool
	mu        sync.RWMutex
}

// ClientConfig configures the Firestore-backed audit client.
type ClientConfig struct {
	// ProjectID is the Firebase/GCP project ID.
	ProjectID string

	// CredentialsFile is the path to a service account JSON file. If
	// empty, the SDK falls back to GOOGLE_APPLICATION_CREDENTIALS or
	// application-default credentials.
	CredentialsFile string

	// Enabled gates whether Firestore operations actually happen; when
	// false every Service method is a no-op.
	Enabled bool

	Logger *log.Logger
}

// ConfigFromEnv builds a ClientConfig from AUDIT_FIRESTORE_* environment
// variables, matching the node's env-var configuration convention.
func ConfigFromEnv() *ClientConfig {
	return &ClientConfig{
		ProjectID:       os.Getenv("AUDIT_FIRESTORE_PROJECT_ID"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Enabled:         os.Getenv("AUDIT_FIRESTORE_ENABLED") == "true",
		Logger:          log.New(os.Stdout, "[audit] ", log.LstdFlags),
	}
}

// NewClient connects to Firestore, or returns a no-op client if
// cfg.Enabled is false.
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		cfg = ConfigFromEnv()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[audit] ", log.LstdFlags)
	}

	client := &Client{projectID: cfg.ProjectID, logger: cfg.Logger, enabled: cfg.Enabled}
	if !cfg.Enabled {
		cfg.Logger.Println("audit trail disabled, running in no-op mode")
		return client, nil
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("audit: AUDIT_FIRESTORE_PROJECT_ID is required when enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("audit: initialize firebase app: %w", err)
	}
	fs, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: create firestore client: %w", err)
	}

	client.app = app
	client.firestore = fs
	cfg.Logger.Printf("audit trail connected to project %s", cfg.ProjectID)
	return client, nil
}

// IsEnabled reports whether this client performs real Firestore writes.
func (c *Client) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// Close releases the underlying Firestore connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.firestore != nil {
		return c.firestore.Close()
	}
	return nil
}

// put writes entry at docPath, a no-op when the client is disabled.
func (c *Client) put(ctx context.Context, docPath string, entry map[string]interface{}) error {
	if !c.IsEnabled() {
		return nil
	}
	if c.firestore == nil {
		return fmt.Errorf("audit: firestore client not initialized")
	}
	_, err := c.firestore.Doc(docPath).Set(ctx, entry)
	return err
}

// latestEntryHash returns the entryHash of the most recently written
// document in collectionPath, or "" if the collection is empty.
func (c *Client) latestEntryHash(ctx context.Context, collectionPath string) (string, error) {
	if !c.IsEnabled() || c.firestore == nil {
		return "", nil
	}
	iter := c.firestore.Collection(collectionPath).
		OrderBy("sequence", gcpfirestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("audit: query latest entry in %s: %w", collectionPath, err)
	}
	hash, _ := doc.Data()["entryHash"].(string)
	return hash, nil
}
