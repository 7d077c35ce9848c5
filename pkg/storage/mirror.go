package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Mirror keeps a copy of content under the identifier the primary store
// assigned.
type Mirror interface {
	Put(ctx context.Context, contentID, name string, data []byte) error
	Fetch(ctx context.Context, contentID string) ([]byte, error)
}

// Put lets a MemoryStore serve as a mirror.
func (s *MemoryStore) Put(ctx context.Context, contentID, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[contentID] = append([]byte(nil), data...)
	s.mu.Unlock()
	return nil
}

// MirroredStore uploads to a primary store and copies the content to each
// mirror. Mirror failures are logged, not returned. Fetch falls back to the
// mirrors when the primary cannot serve.
type MirroredStore struct {
	primary ContentStore
	mirrors []Mirror
	logger  *zap.Logger
}

func NewMirroredStore(primary ContentStore, mirrors []Mirror, logger *zap.Logger) *MirroredStore {
	return &MirroredStore{primary: primary, mirrors: mirrors, logger: logger}
}

func (m *MirroredStore) Upload(ctx context.Context, name string, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	id, err := m.primary.Upload(ctx, name, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	for _, mirror := range m.mirrors {
		if err := mirror.Put(ctx, id, name, data); err != nil {
			m.logger.Warn("Failed to mirror document",
				zap.String("name", name),
				zap.String("cid", id),
				zap.Error(err))
		}
	}
	return id, nil
}

func (m *MirroredStore) Fetch(ctx context.Context, contentID string) ([]byte, error) {
	data, err := m.primary.Fetch(ctx, contentID)
	if err == nil {
		return data, nil
	}
	errs := err
	for _, mirror := range m.mirrors {
		data, err := mirror.Fetch(ctx, contentID)
		if err == nil {
			return data, nil
		}
		errs = multierr.Append(errs, err)
	}
	return nil, errs
}
