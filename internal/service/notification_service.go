package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rofex/intervention-api/internal/models"
	"github.com/rofex/intervention-api/pkg/delivery"
	appErrors "github.com/rofex/intervention-api/pkg/errors"
	"github.com/rofex/intervention-api/pkg/jobs"
)

type notificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListForUser(ctx context.Context, userID string, unreadOnly bool, page, pageSize int) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, id, userID string) (bool, error)
}

type deliveryMetrics interface {
	IncNotificationDelivered(kind, outcome string)
}

// NotificationService persists lifecycle notifications and delivers them
// through the external channel on a background worker pool. Delivery is
// best-effort with bounded retries; a request that cannot be delivered is
// dropped and counted, never surfaced to the triggering operation.
type NotificationService struct {
	repo    notificationStore
	channel delivery.Channel
	metrics deliveryMetrics
	logger  *zap.Logger
	queue   *jobs.Queue
}

// NewNotificationService constructs a NotificationService with its delivery
// queue. Call Start before dispatching and Stop on shutdown.
func NewNotificationService(repo notificationStore, channel delivery.Channel, metrics deliveryMetrics, logger *zap.Logger, cfg jobs.QueueConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{
		repo:    repo,
		channel: channel,
		metrics: metrics,
		logger:  logger,
	}
	cfg.Logger = logger
	cfg.OnDrop = s.onDrop
	s.queue = jobs.NewQueue("notification-delivery", s.deliver, cfg)
	return s
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the delivery workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Dispatch persists the notification and hands delivery to the worker pool.
// It never returns an error: a failed notification must not fail the
// lifecycle transition that produced it.
func (s *NotificationService) Dispatch(ctx context.Context, recipientID, interventionID string, payload models.NotificationPayload) {
	title, body := payload.Render()
	notification := &models.Notification{
		UserID:         recipientID,
		Kind:           payload.Kind(),
		InterventionID: interventionID,
		Title:          title,
		Message:        body,
	}

	if err := s.repo.Create(ctx, notification); err != nil {
		s.logger.Error("failed to persist notification",
			zap.String("recipient_id", recipientID),
			zap.String("intervention_id", interventionID),
			zap.String("kind", string(payload.Kind())),
			zap.Error(err),
		)
		s.observe(payload.Kind(), "persist_failed")
		return
	}

	job := jobs.Job{
		ID:   uuid.NewString(),
		Type: string(payload.Kind()),
		Payload: delivery.Message{
			Recipient: recipientID,
			Subject:   title,
			Body:      body,
		},
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue notification delivery",
			zap.String("notification_id", notification.ID),
			zap.Error(err),
		)
		s.observe(payload.Kind(), "enqueue_failed")
	}
}

// List returns the recipient's notifications.
func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool, page, pageSize int) ([]models.Notification, *models.Pagination, error) {
	notifications, total, err := s.repo.ListForUser(ctx, userID, unreadOnly, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return notifications, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// MarkRead marks a notification read for its recipient.
func (s *NotificationService) MarkRead(ctx context.Context, id, userID string) error {
	updated, err := s.repo.MarkRead(ctx, id, userID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	if !updated {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	return nil
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(delivery.Message)
	if !ok {
		s.logger.Error("unexpected delivery payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	if err := s.channel.Send(ctx, msg); err != nil {
		return err
	}
	s.observe(models.NotificationKind(job.Type), "delivered")
	return nil
}

func (s *NotificationService) onDrop(job jobs.Job, err error) {
	s.observe(models.NotificationKind(job.Type), "dropped")
	s.logger.Error("notification delivery dropped after retries",
		zap.String("job_id", job.ID),
		zap.String("kind", job.Type),
		zap.Error(err),
	)
}

func (s *NotificationService) observe(kind models.NotificationKind, outcome string) {
	if s.metrics != nil {
		s.metrics.IncNotificationDelivered(string(kind), outcome)
	}
}
