package services

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/diocesedigital/portal-api/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Campaign{},
		&models.Donation{},
		&models.StripeSettings{},
		&models.NewsArticle{},
		&models.Event{},
		&models.Clergy{},
		&models.Parish{},
		&models.GalleryAlbum{},
	)
	require.NoError(t, err)
	return db
}

func seedCampaign(t *testing.T, db *gorm.DB, slug string, minAmount string, active bool) models.Campaign {
	t.Helper()
	campaign := models.Campaign{
		Slug:      slug,
		Title:     "Campanha do Dízimo",
		MinAmount: decimal.RequireFromString(minAmount),
		Active:    active,
	}
	require.NoError(t, db.Create(&campaign).Error)
	return campaign
}

func seedDonation(t *testing.T, db *gorm.DB, campaign models.Campaign, amount, status string) models.Donation {
	t.Helper()
	donation := models.Donation{
		ID:         fmt.Sprintf("don-%s-%s", t.Name(), status),
		CampaignID: campaign.ID,
		DonorName:  "Maria Souza",
		DonorEmail: "maria@example.com",
		DonorPhone: "(11) 98765-4321",
		Amount:     decimal.RequireFromString(amount),
		Status:     status,
	}
	require.NoError(t, db.Omit("Campaign").Create(&donation).Error)
	return donation
}
