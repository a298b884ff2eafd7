package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

const maxCsatCommentLength = 2000

// Notifier delivers a notification at most once per idempotency key.
type Notifier interface {
	Send(ctx context.Context, msg domain.NotificationMessage) (domain.DeliveryResult, error)
}

// CsatService issues one satisfaction survey per ticket and records the answer.
type CsatService struct {
	csat     repository.CsatRepository
	users    repository.UserRepository
	audit    repository.AuditRepository
	notifier Notifier
	cfg      config.CSATConfig
	logger   *zap.Logger
	now      func() time.Time
}

// CsatDependencies bundles collaborators for the CSAT service.
type CsatDependencies struct {
	CsatRepo  repository.CsatRepository
	UserRepo  repository.UserRepository
	AuditRepo repository.AuditRepository
	Notifier  Notifier
	Config    config.CSATConfig
	Logger    *zap.Logger
}

// CsatResponseInput is the survey answer.
type CsatResponseInput struct {
	Rating  int
	Comment *string
}

type csatClaims struct {
	TicketID string `json:"ticketId"`
	jwt.RegisteredClaims
}

// NewCsatService constructs the service.
func NewCsatService(deps CsatDependencies) *CsatService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CsatService{
		csat:     deps.CsatRepo,
		users:    deps.UserRepo,
		audit:    deps.AuditRepo,
		notifier: deps.Notifier,
		cfg:      deps.Config,
		logger:   logger,
		now:      time.Now,
	}
}

// Trigger issues the survey when ticket has just entered RESOLVED or CLOSED and no survey
// exists for it yet. Re-entering a terminal status never creates a second survey.
func (s *CsatService) Trigger(ctx context.Context, previous, ticket *domain.Ticket) error {
	if !ticket.Status.Terminal() || (previous != nil && previous.Status == ticket.Status) {
		return nil
	}
	existing, err := s.csat.GetByTicketID(ctx, ticket.ID)
	if err != nil {
		return fmt.Errorf("load csat request: %w", err)
	}
	if existing != nil {
		return nil
	}

	now := s.now().UTC()
	token, expiresAt, err := s.issueToken(ticket, now)
	if err != nil {
		return fmt.Errorf("sign csat token: %w", err)
	}
	req := &domain.CsatRequest{TicketID: ticket.ID, Token: token, ExpiresAt: expiresAt}
	created, err := s.csat.CreateIfAbsent(ctx, req)
	if err != nil {
		return fmt.Errorf("create csat request: %w", err)
	}
	if !created {
		return nil
	}

	event := &domain.AuditEvent{
		TicketID:  ticket.ID,
		ActorID:   domain.SystemActorID,
		Action:    domain.AuditCsatRequested,
		Data:      map[string]any{"csatRequestId": req.ID, "expiresAt": expiresAt.Format(time.RFC3339)},
		CreatedAt: now,
	}
	if err := s.audit.Append(ctx, event); err != nil {
		s.logger.Warn("csat audit write failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
	}

	requester, err := s.users.GetByID(ctx, ticket.OrganizationID, ticket.RequesterID)
	if err != nil {
		return fmt.Errorf("load requester: %w", err)
	}
	if strings.TrimSpace(requester.Email) == "" {
		s.logger.Warn("csat survey not sent, requester has no email", zap.String("ticket_id", ticket.ID))
		return nil
	}
	surveyURL := s.cfg.BaseURL + "/csat/" + token
	_, err = s.notifier.Send(ctx, domain.NotificationMessage{
		Channel: domain.ChannelEmail,
		To:      requester.Email,
		Subject: "How did we do?",
		Body:    fmt.Sprintf("Your ticket %q was %s. Tell us how it went: %s", ticket.Title, strings.ToLower(string(ticket.Status)), surveyURL),
		Data: map[string]any{
			"ticketId":  ticket.ID,
			"surveyUrl": surveyURL,
			"expiresAt": expiresAt.Format(time.RFC3339),
		},
		IdempotencyKey: "csat:" + ticket.ID,
		Metadata:       map[string]any{"organizationId": ticket.OrganizationID, "userId": requester.ID},
	})
	if err != nil {
		return fmt.Errorf("send csat survey: %w", err)
	}
	return nil
}

// SubmitResponse records the survey answer carried by token. A survey is answered once.
func (s *CsatService) SubmitResponse(ctx context.Context, token string, input CsatResponseInput) (*domain.CsatRequest, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.NewValidationError("survey link expired", nil)
		}
		return nil, apperrors.NewNotFound("survey", nil)
	}
	if input.Rating < 1 || input.Rating > 5 {
		return nil, apperrors.NewValidationError("rating must be between 1 and 5", map[string]any{"rating": input.Rating})
	}
	comment := trimmedOrNil(input.Comment)
	if comment != nil && len(*comment) > maxCsatCommentLength {
		return nil, apperrors.NewValidationError("comment too long", map[string]any{"max": maxCsatCommentLength})
	}

	req, err := s.csat.GetByTicketID(ctx, claims.TicketID)
	if err != nil {
		return nil, err
	}
	if req == nil || req.Token != token {
		return nil, apperrors.NewNotFound("survey", nil)
	}
	if req.RespondedAt != nil {
		return nil, apperrors.NewConflict("survey already answered", nil)
	}

	now := s.now().UTC()
	recorded, err := s.csat.RecordResponse(ctx, claims.TicketID, input.Rating, comment, now)
	if err != nil {
		return nil, err
	}
	if !recorded {
		return nil, apperrors.NewConflict("survey already answered", nil)
	}
	rating := input.Rating
	req.Rating = &rating
	req.Comment = comment
	req.RespondedAt = &now

	event := &domain.AuditEvent{
		TicketID:  claims.TicketID,
		ActorID:   claims.Subject,
		Action:    domain.AuditCsatResponded,
		Data:      map[string]any{"rating": rating},
		CreatedAt: now,
	}
	if err := s.audit.Append(ctx, event); err != nil {
		s.logger.Warn("csat audit write failed", zap.String("ticket_id", claims.TicketID), zap.Error(err))
	}
	return req, nil
}

func (s *CsatService) issueToken(ticket *domain.Ticket, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.cfg.Validity()).Truncate(time.Second)
	claims := &csatClaims{
		TicketID: ticket.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   ticket.RequesterID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *CsatService) parseToken(token string) (*csatClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &csatClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.cfg.Secret), nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*csatClaims)
	if !ok || !parsed.Valid || claims.TicketID == "" {
		return nil, errors.New("invalid csat token")
	}
	return claims, nil
}
