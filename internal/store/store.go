// Package store implements the SessionStore port of spec.md §6: durable
// storage for conversation tree snapshots and the per-chat message-id log
// consulted by the /clear command.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MessageRecord is one entry in a chat's message-id log, kept for /clear.
type MessageRecord struct {
	ID        string    `json:"id"`
	Direction string    `json:"direction"` // "in" | "out"
	Kind      string    `json:"kind"`      // "content" | "command" | "status"
	Timestamp time.Time `json:"timestamp"`
}

// document is the on-disk shape, mirroring spec.md §6's
// `{roots, node_index, msg_log}` layout.
type document struct {
	Roots     map[string]json.RawMessage `json:"roots"`
	NodeIndex map[string]string          `json:"node_index"`
	MsgLog    map[string][]MessageRecord `json:"msg_log"` // key: platform+":"+chatID
}

func newDocument() *document {
	return &document{
		Roots:     map[string]json.RawMessage{},
		NodeIndex: map[string]string{},
		MsgLog:    map[string][]MessageRecord{},
	}
}

// Store is the SessionStore port. A tree snapshot is opaque to the store: it
// is whatever JSON the Handler hands it (the serialized *tree.Tree).
type Store interface {
	SaveTree(ctx context.Context, rootID string, snapshot json.RawMessage) error
	RemoveTree(ctx context.Context, rootID string) error
	LoadAllTrees(ctx context.Context) (map[string]json.RawMessage, error)

	RegisterNode(ctx context.Context, nodeID, rootID string) error
	RemoveNodeMappings(ctx context.Context, nodeIDs []string) error

	RecordMessageID(ctx context.Context, platform, chatID, msgID, direction, kind string) error
	MessageIDsForChat(ctx context.Context, platform, chatID string) ([]string, error)

	ClearAll(ctx context.Context) error
}

// FileStore is a file-backed JSON KV implementation. Writes use the
// temp-file-then-rename pattern of internal/tokenstore.FileStore, generalized
// from a single secret string to the full {roots, node_index, msg_log}
// document.
type FileStore struct {
	mu       sync.Mutex
	filePath string
	doc      *document
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens (or initializes) the JSON document at filePath.
func NewFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("store: file path cannot be empty")
	}
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	fs := &FileStore{filePath: filePath}
	data, err := os.ReadFile(filePath)
	switch {
	case os.IsNotExist(err):
		fs.doc = newDocument()
	case err != nil:
		return nil, err
	default:
		doc := newDocument()
		if len(data) > 0 {
			if err := json.Unmarshal(data, doc); err != nil {
				return nil, fmt.Errorf("store: corrupt state file %s: %w", filePath, err)
			}
		}
		if doc.Roots == nil {
			doc.Roots = map[string]json.RawMessage{}
		}
		if doc.NodeIndex == nil {
			doc.NodeIndex = map[string]string{}
		}
		if doc.MsgLog == nil {
			doc.MsgLog = map[string][]MessageRecord{}
		}
		fs.doc = doc
	}
	return fs, nil
}

func chatKey(platform, chatID string) string { return platform + ":" + chatID }

func (f *FileStore) SaveTree(ctx context.Context, rootID string, snapshot json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	f.doc.Roots[rootID] = snapshot
	return f.persistLocked(ctx)
}

func (f *FileStore) RemoveTree(ctx context.Context, rootID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.doc.Roots, rootID)
	for nodeID, root := range f.doc.NodeIndex {
		if root == rootID {
			delete(f.doc.NodeIndex, nodeID)
		}
	}
	return f.persistLocked(ctx)
}

func (f *FileStore) LoadAllTrees(ctx context.Context) (map[string]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]json.RawMessage, len(f.doc.Roots))
	for k, v := range f.doc.Roots {
		out[k] = v
	}
	return out, ctx.Err()
}

func (f *FileStore) RegisterNode(ctx context.Context, nodeID, rootID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc.NodeIndex[nodeID] = rootID
	return f.persistLocked(ctx)
}

func (f *FileStore) RemoveNodeMappings(ctx context.Context, nodeIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range nodeIDs {
		delete(f.doc.NodeIndex, id)
	}
	return f.persistLocked(ctx)
}

func (f *FileStore) RecordMessageID(ctx context.Context, platform, chatID, msgID, direction, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := chatKey(platform, chatID)
	f.doc.MsgLog[key] = append(f.doc.MsgLog[key], MessageRecord{
		ID:        msgID,
		Direction: direction,
		Kind:      kind,
		Timestamp: time.Now(),
	})
	return f.persistLocked(ctx)
}

func (f *FileStore) MessageIDsForChat(ctx context.Context, platform, chatID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	records := f.doc.MsgLog[chatKey(platform, chatID)]
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out, ctx.Err()
}

func (f *FileStore) ClearAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc = newDocument()
	return f.persistLocked(ctx)
}

// persistLocked writes f.doc via temp file + rename, mirroring
// internal/tokenstore.FileStore.Write's crash-safety pattern. Caller must
// hold f.mu.
func (f *FileStore) persistLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(f.doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.filePath)
	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(data); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tempName, f.filePath); err != nil {
		return err
	}
	return os.Chmod(f.filePath, 0600)
}
