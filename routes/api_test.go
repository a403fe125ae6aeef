package routes

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/diocesedigital/portal-api/models"
	"github.com/diocesedigital/portal-api/services"
	"github.com/diocesedigital/portal-api/utils"
)

const testWebhookSecret = "whsec_test"

func setupRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Campaign{},
		&models.Donation{},
		&models.StripeSettings{},
		&models.AdminUser{},
		&models.NewsArticle{},
		&models.Event{},
		&models.Clergy{},
		&models.Parish{},
		&models.GalleryAlbum{},
	))
	utils.DB = db

	donations := services.NewDonationService(db)
	stripeSvc := services.NewStripeService("brl")
	receipts := services.NewReceiptService(db, "")
	search := services.NewSearchService(db)

	router := gin.New()
	router.Use(CORSMiddleware())
	api := NewAPIRoutes(donations, stripeSvc, receipts, search, "https://portal.test")
	api.SetupRoutes(router)

	return router, db
}

func seedTestCampaign(t *testing.T, db *gorm.DB, slug string, minAmount string, active bool) models.Campaign {
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

func seedTestDonation(t *testing.T, db *gorm.DB, campaign models.Campaign, status string) models.Donation {
	t.Helper()
	donation := models.Donation{
		ID:         fmt.Sprintf("don-%s-%s", t.Name(), status),
		CampaignID: campaign.ID,
		DonorName:  "Maria Souza",
		DonorEmail: "maria@example.com",
		DonorPhone: "(11) 98765-4321",
		Amount:     decimal.RequireFromString("50.00"),
		Status:     status,
	}
	require.NoError(t, db.Omit("Campaign").Create(&donation).Error)
	return donation
}

func seedStripeSettings(t *testing.T, db *gorm.DB, withKeys bool) {
	t.Helper()
	settings := models.StripeSettings{
		TestWebhookSecret: testWebhookSecret,
	}
	if withKeys {
		settings.TestPublishableKey = "pk_test_123"
		settings.TestSecretKey = "sk_test_123"
	}
	require.NoError(t, db.Create(&settings).Error)
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func signTestPayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestPreflightRequest(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/donations", nil)
	req.Header.Set("Origin", "https://portal.test")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "OPTIONS")
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Stripe-Signature")
}

func TestSecurityHeadersOnResponses(t *testing.T) {
	router, db := setupRouter(t)
	seedTestCampaign(t, db, "dizimo", "5.00", true)

	w := doJSON(router, http.MethodGet, "/api/campaigns/dizimo", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetCampaignBySlug(t *testing.T) {
	router, db := setupRouter(t)
	seedTestCampaign(t, db, "dizimo", "5.00", true)

	w := doJSON(router, http.MethodGet, "/api/campaigns/dizimo", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Campanha do Dízimo")
}

func TestGetCampaignInactiveIsNotFound(t *testing.T) {
	router, db := setupRouter(t)
	seedTestCampaign(t, db, "encerrada", "5.00", false)

	w := doJSON(router, http.MethodGet, "/api/campaigns/encerrada", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCampaignQRCodePNG(t *testing.T) {
	router, db := setupRouter(t)
	seedTestCampaign(t, db, "dizimo", "5.00", true)

	w := doJSON(router, http.MethodGet, "/api/campaigns/dizimo/qrcode", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Body.Bytes())
}

func TestCreateDonationBelowMinimumRejected(t *testing.T) {
	router, db := setupRouter(t)
	seedTestCampaign(t, db, "dizimo", "5.00", true)
	seedStripeSettings(t, db, true)

	w := doJSON(router, http.MethodPost, "/api/donations", gin.H{
		"campaign_slug": "dizimo",
		"donor_name":    "Maria Souza",
		"donor_email":   "maria@example.com",
		"donor_phone":   "(11) 98765-4321",
		"amount":        "3.00",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var count int64
	require.NoError(t, db.Model(&models.Donation{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestCreateDonationMissingStripeKeyAbandons(t *testing.T) {
	router, db := setupRouter(t)
	seedTestCampaign(t, db, "dizimo", "5.00", true)
	seedStripeSettings(t, db, false)

	w := doJSON(router, http.MethodPost, "/api/donations", gin.H{
		"campaign_slug": "dizimo",
		"donor_name":    "Maria Souza",
		"donor_email":   "maria@example.com",
		"donor_phone":   "(11) 98765-4321",
		"amount":        "50.00",
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	// The pending row was compensated, not left orphaned.
	var donation models.Donation
	require.NoError(t, db.First(&donation).Error)
	assert.Equal(t, models.StatusAbandoned, donation.Status)
}

func TestWebhookMissingSignature(t *testing.T) {
	router, db := setupRouter(t)
	seedStripeSettings(t, db, true)

	w := doJSON(router, http.MethodPost, "/api/stripe/webhook", gin.H{"type": "payment_intent.succeeded"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookInvalidSignature(t *testing.T) {
	router, db := setupRouter(t)
	seedStripeSettings(t, db, true)

	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{}}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signTestPayload(payload, "whsec_wrong"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookUnknownDonationIsAcknowledged(t *testing.T) {
	router, db := setupRouter(t)
	seedStripeSettings(t, db, true)

	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","metadata":{"donation_id":"missing"}}}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signTestPayload(payload, testWebhookSecret))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"received":true`)
}

func TestWebhookCompletesPendingDonation(t *testing.T) {
	router, db := setupRouter(t)
	seedStripeSettings(t, db, true)
	campaign := seedTestCampaign(t, db, "dizimo", "5.00", true)
	donation := seedTestDonation(t, db, campaign, models.StatusPending)

	payload := []byte(fmt.Sprintf(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","metadata":{"donation_id":%q}}}}`, donation.ID))
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signTestPayload(payload, testWebhookSecret))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var got models.Donation
	require.NoError(t, db.Where("id = ?", donation.ID).First(&got).Error)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "pi_1", got.PaymentIntentID)
}

func TestGetDonationOptimisticCompletion(t *testing.T) {
	router, db := setupRouter(t)
	campaign := seedTestCampaign(t, db, "dizimo", "5.00", true)
	donation := seedTestDonation(t, db, campaign, models.StatusPending)

	w := doJSON(router, http.MethodGet, "/api/donations/"+donation.ID+"?payment_intent=pi_redirect", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var got models.Donation
	require.NoError(t, db.Where("id = ?", donation.ID).First(&got).Error)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "pi_redirect", got.PaymentIntentID)
}

func TestGetDonationOptimisticWriteCannotOverwriteRefund(t *testing.T) {
	router, db := setupRouter(t)
	campaign := seedTestCampaign(t, db, "dizimo", "5.00", true)
	donation := seedTestDonation(t, db, campaign, models.StatusRefunded)

	w := doJSON(router, http.MethodGet, "/api/donations/"+donation.ID+"?payment_intent=pi_late", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var got models.Donation
	require.NoError(t, db.Where("id = ?", donation.ID).First(&got).Error)
	assert.Equal(t, models.StatusRefunded, got.Status)
}

func TestGetDonationNotFound(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(router, http.MethodGet, "/api/donations/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadReceiptAttachment(t *testing.T) {
	router, db := setupRouter(t)
	campaign := seedTestCampaign(t, db, "dizimo", "5.00", true)
	donation := seedTestDonation(t, db, campaign, models.StatusCompleted)

	w := doJSON(router, http.MethodPost, "/api/donations/"+donation.ID+"/receipt", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t,
		fmt.Sprintf("attachment; filename=comprovante-doacao-%s.html", donation.ID),
		w.Header().Get("Content-Disposition"))
	assert.Contains(t, w.Body.String(), "Maria Souza")
	assert.Contains(t, w.Body.String(), "R$ 50.00")
}

func TestSearchEndpoint(t *testing.T) {
	router, db := setupRouter(t)
	now := time.Now()
	require.NoError(t, db.Create(&models.NewsArticle{
		Slug: "pascoa", Title: "Celebração da Páscoa", Published: true, PublishedAt: &now,
	}).Error)

	w := doJSON(router, http.MethodGet, "/api/search?q=P%C3%A1scoa", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Celebração da Páscoa")
}
