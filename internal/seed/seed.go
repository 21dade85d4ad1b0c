// Package seed populates a ledger with demo campaigns for development and
// testing. All writes go through the campaign service, so seeded data obeys
// the same validation and donation cap as live traffic.
package seed

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"crowdledger/internal/models"
	"crowdledger/internal/repository"
	"crowdledger/internal/service"

	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumCampaigns int
	NumUsers     int
	// MaxLikes, MaxComments and MaxDonations bound the activity per campaign.
	MaxLikes     int
	MaxComments  int
	MaxDonations int
	Categories   []string
	// RandSeed makes runs reproducible when non-zero.
	RandSeed int64
}

// DefaultOptions returns the settings used by cmd/seed without flags.
func DefaultOptions() Options {
	return Options{
		NumCampaigns: 20,
		NumUsers:     30,
		MaxLikes:     15,
		MaxComments:  6,
		MaxDonations: 8,
		Categories:   []string{"education", "environment", "business", "health"},
	}
}

// Result summarises what a seeding run wrote.
type Result struct {
	Campaigns         []*models.Campaign
	Likes             int
	Comments          int
	DonationsAccepted int
	DonationsDeclined int
}

// Seeder writes generated campaigns and activity through the service layer.
type Seeder struct {
	db      *gorm.DB
	svc     *service.CampaignService
	factory *Factory
	opts    Options
}

// NewSeeder creates a seeder bound to db.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	if opts.RandSeed == 0 {
		opts.RandSeed = time.Now().UnixNano()
	}
	if len(opts.Categories) == 0 {
		opts.Categories = DefaultOptions().Categories
	}
	repo := repository.NewCampaignRepository(db)
	return &Seeder{
		db: db,
		svc: service.NewCampaignService(repo, service.CampaignServiceOptions{
			Categories: opts.Categories,
		}),
		factory: NewFactory(opts.RandSeed, opts.Categories),
		opts:    opts,
	}
}

// ClearAll removes every campaign along with its likes and comments.
func (s *Seeder) ClearAll() error {
	log.Println("🧹 Clearing campaign data...")
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{
			&models.CampaignComment{},
			&models.CampaignLike{},
			&models.Campaign{},
		} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return fmt.Errorf("clear %T: %w", model, err)
			}
		}
		return nil
	})
}

// Seed creates campaigns and then simulates likes, comments and donations on
// each of them.
func (s *Seeder) Seed(ctx context.Context) (*Result, error) {
	log.Printf("🌱 Seeding %d campaigns for %d users...", s.opts.NumCampaigns, s.opts.NumUsers)

	users := s.factory.Users(s.opts.NumUsers)
	res := &Result{}
	rng := rand.New(rand.NewSource(s.opts.RandSeed))

	for i := 0; i < s.opts.NumCampaigns; i++ {
		c, err := s.svc.CreateCampaign(ctx, s.factory.Campaign())
		if err != nil {
			return nil, fmt.Errorf("create campaign %d: %w", i, err)
		}

		if err := s.seedActivity(ctx, rng, c, users, res); err != nil {
			return nil, err
		}

		latest, err := s.svc.GetCampaign(ctx, c.ID, "")
		if err != nil {
			return nil, fmt.Errorf("reload campaign %s: %w", c.ID, err)
		}
		res.Campaigns = append(res.Campaigns, latest)
	}

	log.Printf("✓ %d campaigns, %d likes, %d comments, %d donations (%d declined at cap)",
		len(res.Campaigns), res.Likes, res.Comments, res.DonationsAccepted, res.DonationsDeclined)
	return res, nil
}

func (s *Seeder) seedActivity(ctx context.Context, rng *rand.Rand, c *models.Campaign, users []User, res *Result) error {
	if len(users) == 0 {
		return nil
	}

	for _, idx := range rng.Perm(len(users))[:rng.Intn(min(s.opts.MaxLikes, len(users))+1)] {
		if _, err := s.svc.SetLike(ctx, service.LikeInput{CampaignID: c.ID, UserID: users[idx].ID}, true); err != nil {
			return fmt.Errorf("like campaign %s: %w", c.ID, err)
		}
		res.Likes++
	}

	for n := rng.Intn(s.opts.MaxComments + 1); n > 0; n-- {
		u := users[rng.Intn(len(users))]
		if _, err := s.svc.AddComment(ctx, s.factory.Comment(c.ID, u)); err != nil {
			return fmt.Errorf("comment on campaign %s: %w", c.ID, err)
		}
		res.Comments++
	}

	for n := rng.Intn(s.opts.MaxDonations + 1); n > 0; n-- {
		u := users[rng.Intn(len(users))]
		_, accepted, err := s.svc.Donate(ctx, s.factory.Donation(c, u))
		if err != nil {
			return fmt.Errorf("donate to campaign %s: %w", c.ID, err)
		}
		if accepted {
			res.DonationsAccepted++
		} else {
			res.DonationsDeclined++
		}
	}
	return nil
}
