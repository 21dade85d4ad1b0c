// Package service implements the campaign ledger operations on top of the
// repository layer.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"crowdledger/internal/models"
	"crowdledger/internal/observability"
	"crowdledger/internal/repository"
	"crowdledger/internal/validation"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
)

// Event types published after accepted mutations.
const (
	EventCampaignCreated = "campaign_created"
	EventCampaignUpdated = "campaign_updated"
)

// EventPublisher receives campaign events for live delivery.
type EventPublisher interface {
	Publish(ctx context.Context, event models.CampaignEvent)
}

type CampaignService struct {
	repo         repository.CampaignRepository
	categories   []string
	now          func() time.Time
	timeout      time.Duration
	events       EventPublisher
	readAttempts uint
}

// CampaignServiceOptions tunes a CampaignService. Zero values pick defaults.
type CampaignServiceOptions struct {
	// Categories is the allow-list for new campaigns. Empty accepts any.
	Categories []string
	Now        func() time.Time
	// Timeout bounds each operation. Zero disables the bound.
	Timeout      time.Duration
	Events       EventPublisher
	ReadAttempts uint
}

type CreateCampaignInput struct {
	Title       string
	Description string
	Category    string
	Goal        float64
	ImageURL    string
}

type ListCampaignsInput struct {
	UserID string
	Limit  int
	Offset int
}

type LikeInput struct {
	CampaignID string
	UserID     string
}

type CommentInput struct {
	CampaignID  string
	UserID      string
	DisplayName string
	Text        string
}

type DonateInput struct {
	CampaignID string
	UserID     string
	Amount     float64
}

// MaxPageSize caps a supplied list limit.
const MaxPageSize = 100

func NewCampaignService(repo repository.CampaignRepository, opts CampaignServiceOptions) *CampaignService {
	s := &CampaignService{
		repo:         repo,
		categories:   opts.Categories,
		now:          opts.Now,
		timeout:      opts.Timeout,
		events:       opts.Events,
		readAttempts: opts.ReadAttempts,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.readAttempts == 0 {
		s.readAttempts = 3
	}
	return s
}

func (s *CampaignService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// retryRead runs a read, retrying transient storage failures with
// exponential backoff.
func retryRead[T any](ctx context.Context, attempts uint, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !isRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(attempts))
}

func (s *CampaignService) publish(ctx context.Context, eventType string, c *models.Campaign) {
	if s.events == nil || c == nil {
		return
	}
	payload := *c
	payload.IsLikedByCurrentUser = false
	s.events.Publish(ctx, models.CampaignEvent{Type: eventType, Campaign: &payload})
}

func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*models.Campaign, error) {
	span, ctx := observability.NewSpan(ctx, "CampaignService.CreateCampaign")
	defer span.End()

	campaign, err := s.buildCampaign(in)
	if err != nil {
		observability.RecordMutation("create", "rejected")
		return nil, err
	}

	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.repo.Create(opCtx, campaign); err != nil {
		err = mapError(err, "")
		span.SetError(err)
		observability.RecordMutation("create", "error")
		return nil, err
	}
	campaign.EnsureCollections()
	span.AddAttributes(attribute.String("campaign.id", campaign.ID))
	observability.RecordMutation("create", "accepted")
	observability.GlobalLogger.InfoContext(ctx, "campaign created",
		slog.String("campaign_id", campaign.ID),
		slog.String("category", campaign.Category),
		slog.String("goal", campaign.Goal.String()),
	)

	s.publish(ctx, EventCampaignCreated, campaign)
	return campaign, nil
}

func (s *CampaignService) buildCampaign(in CreateCampaignInput) (*models.Campaign, error) {
	title, err := validation.ValidateTitle(in.Title)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	description, err := validation.ValidateDescription(in.Description)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	category, err := validation.ValidateCategory(in.Category, s.categories)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	imageURL, err := validation.ValidateImageURL(in.ImageURL)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	goal, err := models.AmountFromFloat(in.Goal)
	if err != nil {
		return nil, models.NewValidationError("goal: " + err.Error())
	}

	return &models.Campaign{
		Title:       title,
		Description: description,
		Category:    category,
		Goal:        goal,
		ImageURL:    imageURL,
		CreatedAt:   s.now().UTC(),
	}, nil
}

// ListCampaigns returns the feed newest first, annotated for in.UserID.
func (s *CampaignService) ListCampaigns(ctx context.Context, in ListCampaignsInput) ([]*models.Campaign, error) {
	span, ctx := observability.NewSpan(ctx, "CampaignService.ListCampaigns",
		attribute.Int("limit", in.Limit),
		attribute.Int("offset", in.Offset),
	)
	defer span.End()

	if in.Limit < 0 || in.Offset < 0 {
		return nil, models.NewValidationError("limit and offset must not be negative")
	}
	if in.Limit > MaxPageSize {
		in.Limit = MaxPageSize
	}
	if in.Limit == 0 && in.Offset > 0 {
		return nil, models.NewValidationError("offset requires limit")
	}

	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	campaigns, err := retryRead(opCtx, s.readAttempts, func() ([]*models.Campaign, error) {
		list, err := s.repo.List(opCtx, in.Limit, in.Offset)
		return list, mapError(err, "")
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	for _, c := range campaigns {
		c.EnsureCollections()
		c.AnnotateFor(in.UserID)
	}
	return campaigns, nil
}

// GetCampaign returns one campaign annotated for userID.
func (s *CampaignService) GetCampaign(ctx context.Context, id, userID string) (*models.Campaign, error) {
	span, ctx := observability.NewSpan(ctx, "CampaignService.GetCampaign", attribute.String("campaign.id", id))
	defer span.End()

	if id == "" {
		return nil, models.NewValidationError("campaign id is required")
	}

	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	campaign, err := retryRead(opCtx, s.readAttempts, func() (*models.Campaign, error) {
		c, err := s.repo.GetByID(opCtx, id)
		return c, mapError(err, id)
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	campaign.EnsureCollections()
	campaign.AnnotateFor(userID)
	return campaign, nil
}

// ToggleLike flips the caller's like on a campaign.
func (s *CampaignService) ToggleLike(ctx context.Context, in LikeInput) (*models.Campaign, error) {
	span, ctx := observability.NewSpan(ctx, "CampaignService.ToggleLike", attribute.String("campaign.id", in.CampaignID))
	defer span.End()

	userID, err := validation.ValidateUserID(in.UserID)
	if err != nil {
		observability.RecordMutation("toggle_like", "rejected")
		return nil, models.NewValidationError(err.Error())
	}

	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	campaign, liked, err := s.repo.ToggleLike(opCtx, in.CampaignID, userID)
	if err != nil {
		err = mapError(err, in.CampaignID)
		span.SetError(err)
		observability.RecordMutation("toggle_like", "error")
		return nil, err
	}
	span.AddAttributes(attribute.Bool("liked", liked))
	observability.RecordMutation("toggle_like", "accepted")

	s.publish(ctx, EventCampaignUpdated, campaign)
	campaign.AnnotateFor(userID)
	return campaign, nil
}

// SetLike makes the caller's like state equal liked. Repeating it has no
// further effect.
func (s *CampaignService) SetLike(ctx context.Context, in LikeInput, liked bool) (*models.Campaign, error) {
	span, ctx := observability.NewSpan(ctx, "CampaignService.SetLike",
		attribute.String("campaign.id", in.CampaignID),
		attribute.Bool("liked", liked),
	)
	defer span.End()

	userID, err := validation.ValidateUserID(in.UserID)
	if err != nil {
		observability.RecordMutation("set_like", "rejected")
		return nil, models.NewValidationError(err.Error())
	}

	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	campaign, err := s.repo.SetLike(opCtx, in.CampaignID, userID, liked)
	if err != nil {
		err = mapError(err, in.CampaignID)
		span.SetError(err)
		observability.RecordMutation("set_like", "error")
		return nil, err
	}
	observability.RecordMutation("set_like", "accepted")

	s.publish(ctx, EventCampaignUpdated, campaign)
	campaign.AnnotateFor(userID)
	return campaign, nil
}

// commentAuthor picks the public author label for a comment.
func commentAuthor(displayName, userID string) string {
	if name := validation.NormalizeDisplayName(displayName); name != "" {
		return name
	}
	if userID != "" {
		return userID
	}
	return "Anonymous"
}

func (s *CampaignService) AddComment(ctx context.Context, in CommentInput) (*models.Campaign, error) {
	span, ctx := observability.NewSpan(ctx, "CampaignService.AddComment", attribute.String("campaign.id", in.CampaignID))
	defer span.End()

	text, err := validation.ValidateCommentText(in.Text)
	if err != nil {
		observability.RecordMutation("comment", "rejected")
		return nil, models.NewValidationError(err.Error())
	}

	userID := strings.TrimSpace(in.UserID)
	if len(userID) > validation.MaxUserIDLength {
		observability.RecordMutation("comment", "rejected")
		return nil, models.NewValidationError("userId is too long")
	}

	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	campaign, err := s.repo.AddComment(opCtx, in.CampaignID, &models.CampaignComment{
		UserID:    userID,
		Author:    commentAuthor(in.DisplayName, userID),
		Text:      text,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		err = mapError(err, in.CampaignID)
		span.SetError(err)
		observability.RecordMutation("comment", "error")
		return nil, err
	}
	observability.RecordMutation("comment", "accepted")

	s.publish(ctx, EventCampaignUpdated, campaign)
	campaign.AnnotateFor(userID)
	return campaign, nil
}

// Donate records a donation if it keeps the total within the goal. When the
// goal would be exceeded the current campaign is returned with accepted set
// to false and nothing is stored.
func (s *CampaignService) Donate(ctx context.Context, in DonateInput) (*models.Campaign, bool, error) {
	span, ctx := observability.NewSpan(ctx, "CampaignService.Donate", attribute.String("campaign.id", in.CampaignID))
	defer span.End()

	amount, err := models.AmountFromFloat(in.Amount)
	if err != nil {
		observability.RecordMutation("donate", "rejected")
		return nil, false, models.NewValidationError("amount: " + err.Error())
	}
	span.AddAttributes(attribute.Int64("amount.cents", int64(amount)))

	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	campaign, accepted, err := s.repo.Donate(opCtx, in.CampaignID, amount)
	if err != nil {
		err = mapError(err, in.CampaignID)
		span.SetError(err)
		observability.RecordMutation("donate", "error")
		return nil, false, err
	}
	campaign.AnnotateFor(in.UserID)

	if !accepted {
		observability.RecordMutation("donate", "cap_reached")
		observability.GlobalLogger.InfoContext(ctx, "donation declined",
			slog.String("campaign_id", in.CampaignID),
			slog.String("amount", amount.String()),
			slog.String("remaining", campaign.Remaining().String()),
		)
		return campaign, false, nil
	}

	observability.RecordMutation("donate", "accepted")
	observability.DonatedAmount.Add(amount.Float())
	s.publish(ctx, EventCampaignUpdated, campaign)
	return campaign, true, nil
}
