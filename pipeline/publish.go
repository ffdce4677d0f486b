package pipeline

import (
	"context"

	"github.com/adreel/adreel/storage"
)

// Publisher uploads a finished artifact and presigns its download URL.
// Both steps happen before the job is allowed to turn finished.
type Publisher struct {
	store  storage.Store
	prefix string
}

// NewPublisher creates a Publisher writing under the given key prefix.
func NewPublisher(store storage.Store, prefix string) *Publisher {
	return &Publisher{store: store, prefix: prefix}
}

// Publish uploads localPath for the principal and returns a presigned
// download URL. Errors carry the "storage" failure kind.
func (p *Publisher) Publish(ctx context.Context, localPath, principal, ext, contentType string) (string, error) {
	key := storage.ObjectKey(p.prefix, principal, ext)
	if err := p.store.Upload(ctx, localPath, key, contentType); err != nil {
		return "", stageErr("storage", err)
	}
	url, err := p.store.PresignGet(ctx, key)
	if err != nil {
		return "", stageErr("storage", err)
	}
	return url, nil
}
