// Package models contains data structures for the campaign ledger's domain models.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Campaign is a fundable project record with aggregate like, comment and
// donation state.
type Campaign struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title       string    `gorm:"size:120;not null" json:"title"`
	Description string    `gorm:"type:text;not null" json:"description"`
	Category    string    `gorm:"size:40;not null;index" json:"category"`
	Goal        Amount    `gorm:"not null" json:"goal"`
	ImageURL    string    `gorm:"size:2048;not null;default:''" json:"imageUrl"`
	Likes       int64     `gorm:"not null;default:0" json:"likes"`
	Donations   Amount    `gorm:"not null;default:0" json:"donations"`
	CreatedAt   time.Time `gorm:"not null;index" json:"createdAt"`
	UpdatedAt   time.Time `json:"-"`

	LikeRecords    []CampaignLike    `gorm:"foreignKey:CampaignID" json:"-"`
	CommentRecords []CampaignComment `gorm:"foreignKey:CampaignID" json:"-"`

	// LikedBy and Comments are hydrated from the association rows.
	LikedBy  []string  `gorm:"-" json:"likedBy"`
	Comments []Comment `gorm:"-" json:"comments"`
	// IsLikedByCurrentUser is a per-request projection, never stored.
	IsLikedByCurrentUser bool `gorm:"-" json:"isLikedByCurrentUser"`
}

// BeforeCreate assigns a fresh identifier when none was provided.
func (c *Campaign) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Hydrate rebuilds the LikedBy set and Comments sequence from the loaded
// association rows. Both are always non-nil afterwards.
func (c *Campaign) Hydrate() {
	c.LikedBy = make([]string, 0, len(c.LikeRecords))
	for _, l := range c.LikeRecords {
		c.LikedBy = append(c.LikedBy, l.UserID)
	}
	c.Comments = make([]Comment, 0, len(c.CommentRecords))
	for _, cr := range c.CommentRecords {
		c.Comments = append(c.Comments, cr.View())
	}
}

// EnsureCollections replaces nil collections with empty ones so the record
// always encodes with a fixed shape.
func (c *Campaign) EnsureCollections() {
	if c.LikedBy == nil {
		c.LikedBy = []string{}
	}
	if c.Comments == nil {
		c.Comments = []Comment{}
	}
}

// AnnotateFor sets IsLikedByCurrentUser for userID.
func (c *Campaign) AnnotateFor(userID string) {
	c.IsLikedByCurrentUser = false
	if userID == "" {
		return
	}
	for _, u := range c.LikedBy {
		if u == userID {
			c.IsLikedByCurrentUser = true
			return
		}
	}
}

// Remaining is how much can still be donated before the goal is reached.
func (c *Campaign) Remaining() Amount {
	if c.Donations >= c.Goal {
		return 0
	}
	return c.Goal - c.Donations
}

// CampaignLike is one membership of a campaign's likedBy set.
type CampaignLike struct {
	CampaignID string    `gorm:"primaryKey;type:varchar(36)"`
	UserID     string    `gorm:"primaryKey;size:320"`
	CreatedAt  time.Time `gorm:"not null"`
}

// CampaignComment is one entry of a campaign's append-only comment log.
type CampaignComment struct {
	ID         uint      `gorm:"primaryKey"`
	CampaignID string    `gorm:"type:varchar(36);not null;index"`
	UserID     string    `gorm:"size:320;not null;default:''"`
	Author     string    `gorm:"size:320;not null"`
	Text       string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

// View converts the stored row into its public shape.
func (cc CampaignComment) View() Comment {
	return Comment{
		User:      cc.Author,
		Text:      cc.Text,
		UserID:    cc.UserID,
		CreatedAt: cc.CreatedAt,
	}
}

// Comment is the public shape of a campaign comment.
type Comment struct {
	User      string    `json:"user"`
	Text      string    `json:"text"`
	UserID    string    `json:"userId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CampaignEvent is published to live feed subscribers after a mutation.
type CampaignEvent struct {
	Type     string    `json:"type"`
	Campaign *Campaign `json:"payload"`
}
