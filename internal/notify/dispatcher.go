package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// Channel delivers a message through one transport.
type Channel interface {
	Deliver(ctx context.Context, msg domain.NotificationMessage) (domain.DeliveryResult, error)
}

// IdempotencyStore remembers which keys were delivered.
type IdempotencyStore interface {
	// Reserve claims key. When the key is already claimed it returns reserved=false and the
	// delivery id recorded for it, empty while the first delivery is still in flight.
	Reserve(ctx context.Context, key string) (existingID string, reserved bool, err error)
	Complete(ctx context.Context, key, deliveryID string) error
	Release(ctx context.Context, key string) error
}

// PreferenceReader loads per-user notification switches; nil means defaults (everything on).
type PreferenceReader interface {
	GetPreference(ctx context.Context, userID string) (*domain.NotificationPreference, error)
}

// DispatcherDependencies bundles the dispatcher collaborators.
type DispatcherDependencies struct {
	Channels    map[domain.NotificationChannel]Channel
	Idempotency IdempotencyStore
	Preferences PreferenceReader
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// Dispatcher delivers each idempotency key at most once across channels.
type Dispatcher struct {
	channels    map[domain.NotificationChannel]Channel
	idempotency IdempotencyStore
	preferences PreferenceReader
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// NewDispatcher constructs the dispatcher.
func NewDispatcher(deps DispatcherDependencies) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		channels:    deps.Channels,
		idempotency: deps.Idempotency,
		preferences: deps.Preferences,
		metrics:     deps.Metrics,
		logger:      logger,
	}
}

// Send delivers msg unless its idempotency key was already delivered or the recipient
// opted out of in-app updates. Channel errors release the key and are returned.
func (d *Dispatcher) Send(ctx context.Context, msg domain.NotificationMessage) (domain.DeliveryResult, error) {
	channel, ok := d.channels[msg.Channel]
	if !ok {
		return domain.DeliveryResult{}, apperrors.NewValidationError("unsupported notification channel", map[string]any{"channel": msg.Channel})
	}
	if strings.TrimSpace(msg.To) == "" {
		return domain.DeliveryResult{}, apperrors.NewValidationError("notification recipient required", nil)
	}

	if msg.Channel == domain.ChannelInApp {
		suppressed, err := d.inAppSuppressed(ctx, msg.To)
		if err != nil {
			d.metrics.RecordNotification(string(msg.Channel), "failed")
			return domain.DeliveryResult{}, err
		}
		if suppressed {
			d.logger.Debug("notification suppressed by preference",
				zap.String("user_id", msg.To),
				zap.String("idempotency_key", msg.IdempotencyKey))
			d.metrics.RecordNotification(string(msg.Channel), "suppressed")
			return domain.DeliveryResult{Status: domain.DeliverySuppressed}, nil
		}
	}

	key := msg.IdempotencyKey
	if key != "" && d.idempotency != nil {
		existingID, reserved, err := d.idempotency.Reserve(ctx, key)
		if err != nil {
			d.metrics.RecordNotification(string(msg.Channel), "failed")
			return domain.DeliveryResult{}, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if !reserved {
			status := domain.DeliverySent
			if existingID == "" {
				status = domain.DeliveryQueued
			}
			d.metrics.RecordNotification(string(msg.Channel), "deduped")
			return domain.DeliveryResult{ID: existingID, Status: status, Deduped: true}, nil
		}
	}

	result, err := channel.Deliver(ctx, msg)
	if err != nil {
		d.metrics.RecordNotification(string(msg.Channel), "failed")
		if key != "" && d.idempotency != nil {
			if releaseErr := d.idempotency.Release(ctx, key); releaseErr != nil {
				d.logger.Error("release idempotency key", zap.String("idempotency_key", key), zap.Error(releaseErr))
			}
		}
		return domain.DeliveryResult{}, fmt.Errorf("deliver %s notification: %w", msg.Channel, err)
	}

	if key != "" && d.idempotency != nil {
		if err := d.idempotency.Complete(ctx, key, result.ID); err != nil {
			d.logger.Warn("record idempotency key", zap.String("idempotency_key", key), zap.Error(err))
		}
	}
	d.metrics.RecordNotification(string(msg.Channel), string(result.Status))
	return result, nil
}

func (d *Dispatcher) inAppSuppressed(ctx context.Context, userID string) (bool, error) {
	if d.preferences == nil {
		return false, nil
	}
	pref, err := d.preferences.GetPreference(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load notification preference: %w", err)
	}
	return pref != nil && !pref.InAppTicketUpdates, nil
}

// Store persists in-app notifications and serves preferences.
type Store interface {
	NotificationStore
	PreferenceReader
}

// NewDefaultDispatcher wires the in-app and email channels with Redis idempotency.
func NewDefaultDispatcher(cfg config.NotificationConfig, rdb redis.Cmdable, store Store, metrics *observability.Metrics, logger *zap.Logger) *Dispatcher {
	return NewDispatcher(DispatcherDependencies{
		Channels: map[domain.NotificationChannel]Channel{
			domain.ChannelInApp: NewInAppChannel(store),
			domain.ChannelEmail: NewEmailChannel(cfg, nil, logger),
		},
		Idempotency: NewRedisIdempotencyStore(rdb, cfg.IdempotencyTTL(), cfg.IdempotencyLease()),
		Preferences: store,
		Metrics:     metrics,
		Logger:      logger,
	})
}
