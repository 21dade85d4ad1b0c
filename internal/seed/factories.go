package seed

import (
	"fmt"
	"math"
	"strings"

	"crowdledger/internal/models"
	"crowdledger/internal/service"

	"github.com/brianvoe/gofakeit/v6"
)

// User is a generated supporter identity.
type User struct {
	ID   string
	Name string
}

// Factory builds request inputs filled with gofakeit content.
type Factory struct {
	faker      *gofakeit.Faker
	categories []string
}

// NewFactory creates a Factory whose output is fixed by seed.
func NewFactory(seed int64, categories []string) *Factory {
	return &Factory{faker: gofakeit.New(seed), categories: categories}
}

// Users returns n supporters with distinct ids.
func (f *Factory) Users(n int) []User {
	users := make([]User, 0, n)
	for i := 0; i < n; i++ {
		first, last := f.faker.FirstName(), f.faker.LastName()
		users = append(users, User{
			ID:   fmt.Sprintf("%s.%s.%d@example.com", strings.ToLower(first), strings.ToLower(last), i),
			Name: first + " " + last,
		})
	}
	return users
}

// Campaign builds a create request. Goals are whole amounts between 500 and
// 50000.
func (f *Factory) Campaign() service.CreateCampaignInput {
	title := strings.TrimSuffix(f.faker.Sentence(f.faker.Number(3, 7)), ".")
	in := service.CreateCampaignInput{
		Title:       title,
		Description: f.faker.Paragraph(1, 3, 12, " "),
		Category:    f.categories[f.faker.Number(0, len(f.categories)-1)],
		Goal:        float64(f.faker.Number(5, 500) * 100),
	}
	if f.faker.Bool() {
		in.ImageURL = fmt.Sprintf("https://picsum.photos/seed/%s/800/600", f.faker.UUID())
	}
	return in
}

// Comment builds a comment by u on campaignID.
func (f *Factory) Comment(campaignID string, u User) service.CommentInput {
	return service.CommentInput{
		CampaignID:  campaignID,
		UserID:      u.ID,
		DisplayName: u.Name,
		Text:        f.faker.Sentence(f.faker.Number(4, 16)),
	}
}

// Donation builds a donation of up to 40% of the goal. It occasionally
// overshoots what is left so some seeded donations hit the cap.
func (f *Factory) Donation(c *models.Campaign, u User) service.DonateInput {
	ceiling := math.Max(c.Goal.Float()*0.4, 1)
	amount := math.Round(f.faker.Float64Range(1, ceiling)*100) / 100
	return service.DonateInput{
		CampaignID: c.ID,
		UserID:     u.ID,
		Amount:     amount,
	}
}
