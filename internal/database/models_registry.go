package database

import "crowdledger/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.Campaign{},
		&models.CampaignLike{},
		&models.CampaignComment{},
	}
}
