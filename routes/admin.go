package routes

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/diocesedigital/portal-api/models"
	"github.com/diocesedigital/portal-api/services"
	"github.com/diocesedigital/portal-api/utils"
)

// secretPlaceholder is what the admin panel sees in place of stored secret
// keys. A settings update that sends the placeholder back keeps the stored
// value.
const secretPlaceholder = "********"

// AdminRoutes serves the JWT-protected panel API: campaign CRUD, donation
// listing and processor settings.
type AdminRoutes struct {
	donations *services.DonationService
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewAdminRoutes(donations *services.DonationService, jwtSecret []byte, tokenTTL time.Duration) *AdminRoutes {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AdminRoutes{donations: donations, jwtSecret: jwtSecret, tokenTTL: tokenTTL}
}

// SetupRoutes registers the admin API under /api/admin.
func (ad *AdminRoutes) SetupRoutes(router *gin.Engine) {
	admin := router.Group("/api/admin")
	admin.POST("/login", ad.Login)

	protected := admin.Group("")
	protected.Use(ad.AuthMiddleware())
	{
		protected.GET("/campaigns", ad.ListCampaigns)
		protected.POST("/campaigns", ad.CreateCampaign)
		protected.GET("/campaigns/:id", ad.GetCampaign)
		protected.PUT("/campaigns/:id", ad.UpdateCampaign)
		protected.DELETE("/campaigns/:id", ad.DeactivateCampaign)

		protected.GET("/donations", ad.ListDonations)

		protected.GET("/settings/stripe", ad.GetStripeSettings)
		protected.PUT("/settings/stripe", ad.UpdateStripeSettings)
	}
}

// AuthMiddleware validates the bearer token and stores the admin username in
// the request context.
func (ad *AdminRoutes) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		username, err := utils.ParseAdminToken(ad.jwtSecret, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set("admin_user", username)
		c.Next()
	}
}

func (ad *AdminRoutes) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.AdminUser
	if err := utils.DB.Where("username = ?", req.Username).First(&user).Error; err != nil || !user.CheckPassword(req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := utils.GenerateAdminToken(ad.jwtSecret, user.Username, ad.tokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "expires_in": int(ad.tokenTTL.Seconds())})
}

type campaignRequest struct {
	Slug             string            `json:"slug" binding:"required"`
	Title            string            `json:"title" binding:"required"`
	Description      string            `json:"description"`
	ImageURL         string            `json:"image_url"`
	GoalAmount       *decimal.Decimal  `json:"goal_amount"`
	SuggestedAmounts []decimal.Decimal `json:"suggested_amounts"`
	MinAmount        decimal.Decimal   `json:"min_amount" binding:"required"`
	Active           *bool             `json:"active"`
}

func (ad *AdminRoutes) ListCampaigns(c *gin.Context) {
	var campaigns []models.Campaign
	if err := utils.DB.Order("created_at DESC").Find(&campaigns).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list campaigns"})
		return
	}
	c.JSON(http.StatusOK, campaigns)
}

func (ad *AdminRoutes) CreateCampaign(c *gin.Context) {
	var req campaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.MinAmount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minimum amount must be greater than zero"})
		return
	}

	campaign := models.Campaign{
		Slug:             req.Slug,
		Title:            req.Title,
		Description:      req.Description,
		ImageURL:         req.ImageURL,
		GoalAmount:       req.GoalAmount,
		SuggestedAmounts: req.SuggestedAmounts,
		MinAmount:        req.MinAmount,
		Active:           true,
	}
	if req.Active != nil {
		campaign.Active = *req.Active
	}

	if err := utils.DB.Create(&campaign).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to create campaign, slug may already exist"})
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

func (ad *AdminRoutes) GetCampaign(c *gin.Context) {
	var campaign models.Campaign
	if err := utils.DB.Where("id = ?", c.Param("id")).First(&campaign).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}
	c.JSON(http.StatusOK, campaign)
}

func (ad *AdminRoutes) UpdateCampaign(c *gin.Context) {
	var campaign models.Campaign
	if err := utils.DB.Where("id = ?", c.Param("id")).First(&campaign).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}

	var req campaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.MinAmount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minimum amount must be greater than zero"})
		return
	}

	campaign.Slug = req.Slug
	campaign.Title = req.Title
	campaign.Description = req.Description
	campaign.ImageURL = req.ImageURL
	campaign.GoalAmount = req.GoalAmount
	campaign.SuggestedAmounts = req.SuggestedAmounts
	campaign.MinAmount = req.MinAmount
	if req.Active != nil {
		campaign.Active = *req.Active
	}

	if err := utils.DB.Save(&campaign).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update campaign"})
		return
	}
	c.JSON(http.StatusOK, campaign)
}

// DeactivateCampaign flips the active flag instead of deleting: donations
// keep referencing their campaign.
func (ad *AdminRoutes) DeactivateCampaign(c *gin.Context) {
	res := utils.DB.Model(&models.Campaign{}).Where("id = ?", c.Param("id")).Update("active", false)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deactivate campaign"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deactivated": true})
}

func (ad *AdminRoutes) ListDonations(c *gin.Context) {
	status := c.Query("status")
	campaignID, _ := strconv.Atoi(c.Query("campaign_id"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	donations, total, err := ad.donations.List(status, uint(campaignID), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list donations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"donations": donations,
		"total":     total,
	})
}

func redactSettings(s models.StripeSettings) models.StripeSettings {
	if s.TestSecretKey != "" {
		s.TestSecretKey = secretPlaceholder
	}
	if s.LiveSecretKey != "" {
		s.LiveSecretKey = secretPlaceholder
	}
	if s.TestWebhookSecret != "" {
		s.TestWebhookSecret = secretPlaceholder
	}
	if s.LiveWebhookSecret != "" {
		s.LiveWebhookSecret = secretPlaceholder
	}
	return s
}

func (ad *AdminRoutes) GetStripeSettings(c *gin.Context) {
	var settings models.StripeSettings
	if err := utils.DB.First(&settings).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stripe settings not configured"})
		return
	}
	c.JSON(http.StatusOK, redactSettings(settings))
}

func (ad *AdminRoutes) UpdateStripeSettings(c *gin.Context) {
	var settings models.StripeSettings
	if err := utils.DB.First(&settings).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stripe settings not configured"})
		return
	}

	var req models.StripeSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings.TestPublishableKey = req.TestPublishableKey
	settings.LivePublishableKey = req.LivePublishableKey
	settings.LiveMode = req.LiveMode
	if req.TestSecretKey != secretPlaceholder {
		settings.TestSecretKey = req.TestSecretKey
	}
	if req.LiveSecretKey != secretPlaceholder {
		settings.LiveSecretKey = req.LiveSecretKey
	}
	if req.TestWebhookSecret != secretPlaceholder {
		settings.TestWebhookSecret = req.TestWebhookSecret
	}
	if req.LiveWebhookSecret != secretPlaceholder {
		settings.LiveWebhookSecret = req.LiveWebhookSecret
	}

	if err := utils.DB.Save(&settings).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update settings"})
		return
	}
	c.JSON(http.StatusOK, redactSettings(settings))
}
