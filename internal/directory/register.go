package directory

import (
	"context"
	"fmt"

	"github.com/fathima-sithara/chat-sync/internal/apperr"
	"github.com/fathima-sithara/chat-sync/internal/domain"
	"github.com/fathima-sithara/chat-sync/internal/logger"
	"github.com/fathima-sithara/chat-sync/internal/metrics"
	"github.com/fathima-sithara/chat-sync/internal/store"
	"go.uber.org/zap"
)

// Registrar keeps the session's own directory entry current.
type Registrar struct {
	store store.DirectoryStore
	log   *zap.SugaredLogger
}

func NewRegistrar(ds store.DirectoryStore, log *zap.SugaredLogger) *Registrar {
	return &Registrar{store: ds, log: logger.OrNop(log)}
}

// RegisterSelf merges p into the directory with status online. Errors are logged and returned
// wrapped in ErrRegistration; they are not meant to stop the session.
func (r *Registrar) RegisterSelf(ctx context.Context, p domain.Principal) error {
	return r.write(ctx, p, domain.StatusOnline)
}

// MarkOffline records the end of a session.
func (r *Registrar) MarkOffline(ctx context.Context, p domain.Principal) error {
	return r.write(ctx, p, domain.StatusOffline)
}

func (r *Registrar) write(ctx context.Context, p domain.Principal, status string) error {
	if p.ID == "" {
		return fmt.Errorf("%w: %w: empty principal id", apperr.ErrRegistration, apperr.ErrInvalidArgument)
	}
	err := r.store.Upsert(ctx, domain.Profile{
		ID:          p.ID,
		Email:       p.Email,
		DisplayName: p.Label(),
		PhotoURL:    p.PhotoURL,
		Status:      status,
	})
	if err != nil {
		metrics.Errors.WithLabelValues("registration").Inc()
		r.log.Errorw("save user data", "id", p.ID, "status", status, "error", err)
		return fmt.Errorf("%w: %w", apperr.ErrRegistration, err)
	}
	r.log.Debugw("directory entry saved", "id", p.ID, "status", status)
	return nil
}
