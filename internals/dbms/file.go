package dbms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/sirupsen/logrus"
	"io/fs"
	"os"
	"relay/helpers"
	"relay/internals/models"
	"sync"
	"time"
)

// File keeps the message log in a single JSON document. Every mutation is a
// read-modify-write of that document under the write lock, and the new
// document replaces the old one by rename.
type File struct {
	path    string
	rwMutex sync.RWMutex
	now     clock
	logger  logrus.FieldLogger
}

var _ Dbms = (*File)(nil)

func InitFile(path string, logger logrus.FieldLogger) (*File, error) {
	store := &File{
		path:   path,
		now:    time.Now,
		logger: logger.WithField("store", "file"),
	}
	// fail fast on an unreadable or corrupt file
	doc, err := store.read()
	if err != nil {
		return nil, err
	}
	store.logger.WithFields(logrus.Fields{
		"path":     path,
		"messages": len(doc.Messages),
	}).Info("message store opened")
	return store, nil
}

func (f *File) Append(ctx context.Context, draft models.Draft) (models.Message, error) {
	if !draft.Level.Valid() {
		return models.Message{}, fmt.Errorf("%w: level %d out of range", models.ErrInvalidArgument, draft.Level)
	}
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	nonce, err := helpers.GenerateNonce()
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: nonce: %v", models.ErrPersistence, err)
	}

	f.rwMutex.Lock()
	defer f.rwMutex.Unlock()

	doc, err := f.read()
	if err != nil {
		return models.Message{}, err
	}
	msg := models.Message{
		Id:        doc.Counter + 1,
		Level:     draft.Level,
		Title:     draft.Title,
		Content:   draft.Content,
		Timestamp: nextTimestamp(f.now(), doc.Messages),
		Nonce:     nonce,
	}
	doc.Counter = msg.Id
	doc.Messages = append(doc.Messages, msg)
	if err := f.write(doc); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (f *File) ListSince(ctx context.Context, cursor *int64) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.rwMutex.RLock()
	defer f.rwMutex.RUnlock()

	doc, err := f.read()
	if err != nil {
		return nil, err
	}
	return filterSince(doc.Messages, cursor), nil
}

func (f *File) Delete(ctx context.Context, ref models.MessageRef) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.rwMutex.Lock()
	defer f.rwMutex.Unlock()

	doc, err := f.read()
	if err != nil {
		return 0, err
	}

	var removed int
	if ref.IsWipe() {
		removed = len(doc.Messages)
		doc.Messages = nil
	} else {
		doc.Messages, removed = removeMatching(doc.Messages, ref)
		if removed == 0 {
			return 0, fmt.Errorf("%w: %s", models.ErrNotFound, ref)
		}
	}
	if err := f.write(doc); err != nil {
		return 0, err
	}
	return removed, nil
}

func (f *File) Ping(ctx context.Context) error {
	f.rwMutex.RLock()
	defer f.rwMutex.RUnlock()
	_, err := f.read()
	return err
}

func (f *File) Close() error {
	return nil
}

// read loads the document. A missing or empty file is an empty store; a flat
// JSON array of messages is accepted and gets ids assigned in order.
func (f *File) read() (*document, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrPersistence, f.path, err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &document{}, nil
	}

	if data[0] == '[' {
		var legacy []models.Message
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", models.ErrPersistence, f.path, err)
		}
		return upgradeLegacy(legacy), nil
	}

	doc := &document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", models.ErrPersistence, f.path, err)
	}
	return doc, nil
}

func (f *File) write(doc *document) error {
	if doc.Messages == nil {
		doc.Messages = []models.Message{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", models.ErrPersistence, err)
	}
	if err := helpers.WriteFileAtomic(f.path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", models.ErrPersistence, f.path, err)
	}
	return nil
}

func upgradeLegacy(messages []models.Message) *document {
	doc := &document{Messages: messages}
	for i := range doc.Messages {
		if doc.Messages[i].Id <= doc.Counter {
			doc.Messages[i].Id = doc.Counter + 1
		}
		doc.Counter = doc.Messages[i].Id
	}
	return doc
}
