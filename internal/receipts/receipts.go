// Package receipts defines the boundary to the external receipt blob store.
// The core owns the database row and the opaque handle; the blob store owns
// the bytes.
package receipts

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// Store is the outbound blob-store contract.
type Store interface {
	Put(ctx context.Context, owner string, expenseID int64, r io.Reader, mime string) (handle string, err error)
	Get(ctx context.Context, handle string) (io.ReadCloser, error)
	Delete(ctx context.Context, handle string) error
}

// NoopStore satisfies Store without persisting anything. Used in development
// and in deployments where receipt storage lives entirely outside the core.
type NoopStore struct {
	Logger *slog.Logger
}

func (s *NoopStore) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *NoopStore) Put(ctx context.Context, owner string, expenseID int64, r io.Reader, mime string) (string, error) {
	n, _ := io.Copy(io.Discard, r)
	s.logger().Info("receipt_discarded", "owner", owner, "expense_id", expenseID, "bytes", n, "mime", mime)
	return "", nil
}

func (s *NoopStore) Get(ctx context.Context, handle string) (io.ReadCloser, error) {
	return nil, errors.New("receipt storage is not configured")
}

func (s *NoopStore) Delete(ctx context.Context, handle string) error {
	s.logger().Info("receipt_delete_noop", "handle", handle)
	return nil
}
