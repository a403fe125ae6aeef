package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/diocesedigital/portal-api/models"
	"github.com/diocesedigital/portal-api/services"
	"github.com/diocesedigital/portal-api/utils"
)

// APIRoutes serves the public endpoints: campaigns, the donation flow, the
// processor webhook, receipts, content reads, search and the websocket
// donation-status subscription.
type APIRoutes struct {
	donations     *services.DonationService
	stripeService *services.StripeService
	receipts      *services.ReceiptService
	search        *services.SearchService
	publicBaseURL string

	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]string
	broadcast  chan services.StatusChange
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.Mutex
}

func NewAPIRoutes(donations *services.DonationService, stripeService *services.StripeService, receipts *services.ReceiptService, search *services.SearchService, publicBaseURL string) *APIRoutes {
	ar := &APIRoutes{
		donations:     donations,
		stripeService: stripeService,
		receipts:      receipts,
		search:        search,
		publicBaseURL: publicBaseURL,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan services.StatusChange, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}

	go ar.runStatusHub()

	return ar
}

// SetupRoutes registers the public API.
func (ar *APIRoutes) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/campaigns", ar.ListCampaigns)
		api.GET("/campaigns/:slug", ar.GetCampaign)
		api.GET("/campaigns/:slug/qrcode", ar.CampaignQRCode)

		api.POST("/donations", ar.CreateDonation)
		api.GET("/donations/:id", ar.GetDonation)
		api.POST("/donations/:id/receipt", ar.DownloadReceipt)

		api.POST("/stripe/webhook", ar.StripeWebhook)

		api.GET("/search", ar.Search)

		api.GET("/news", ar.ListNews)
		api.GET("/news/:slug", ar.GetNews)
		api.GET("/events", ar.ListEvents)
		api.GET("/clergy", ar.ListClergy)
		api.GET("/parishes", ar.ListParishes)
		api.GET("/gallery", ar.ListGallery)
	}

	router.GET("/ws", ar.WebSocketHandler)
}

func loadStripeSettings() (*models.StripeSettings, error) {
	var settings models.StripeSettings
	if err := utils.DB.First(&settings).Error; err != nil {
		return nil, errors.New("stripe settings not configured")
	}
	return &settings, nil
}

// ListCampaigns returns the active campaigns for the public donation index.
func (ar *APIRoutes) ListCampaigns(c *gin.Context) {
	var campaigns []models.Campaign
	if err := utils.DB.Where("active = ?", true).Order("created_at DESC").Find(&campaigns).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list campaigns"})
		return
	}
	c.JSON(http.StatusOK, campaigns)
}

// GetCampaign returns one active campaign by slug. Unknown or inactive slugs
// are a 404; the client redirects home.
func (ar *APIRoutes) GetCampaign(c *gin.Context) {
	slug := c.Param("slug")

	var campaign models.Campaign
	if err := utils.DB.Where("slug = ? AND active = ?", slug, true).First(&campaign).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}
	c.JSON(http.StatusOK, campaign)
}

// CampaignQRCode renders a PNG QR code pointing at the campaign's public
// donation page, for bulletins and printed material.
func (ar *APIRoutes) CampaignQRCode(c *gin.Context) {
	slug := c.Param("slug")

	var campaign models.Campaign
	if err := utils.DB.Where("slug = ? AND active = ?", slug, true).First(&campaign).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}

	donateURL := fmt.Sprintf("%s/doacoes/%s", ar.publicBaseURL, campaign.Slug)
	qrBytes, err := utils.GenerateQRCode(donateURL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "image/png")
	c.Writer.Write(qrBytes)
}

// CreateDonation validates the submission, inserts the pending row, then
// requests a payment intent. If intent creation fails the row is marked
// abandoned so this path leaves no indefinite pending rows behind.
func (ar *APIRoutes) CreateDonation(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	var req struct {
		CampaignSlug string          `json:"campaign_slug" binding:"required"`
		DonorName    string          `json:"donor_name" binding:"required"`
		DonorEmail   string          `json:"donor_email" binding:"required,email"`
		DonorPhone   string          `json:"donor_phone" binding:"required"`
		Amount       decimal.Decimal `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	donation, err := ar.donations.Create(services.CreateDonationInput{
		CampaignSlug: req.CampaignSlug,
		DonorName:    req.DonorName,
		DonorEmail:   req.DonorEmail,
		DonorPhone:   req.DonorPhone,
		Amount:       req.Amount,
	})
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, services.ErrCampaignNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	settings, err := loadStripeSettings()
	if err != nil {
		ar.abandon(donation.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	publishableKey, err := settings.ActivePublishableKey()
	if err != nil {
		ar.abandon(donation.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	secretKey, err := settings.ActiveSecretKey()
	if err != nil {
		ar.abandon(donation.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	intent, err := ar.stripeService.CreatePaymentIntent(ctx, secretKey, donation.Amount, donation.ID, donation.Campaign.Title, donation.DonorEmail)
	if err != nil {
		ar.abandon(donation.ID)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"donation_id":     donation.ID,
		"client_secret":   intent.ClientSecret,
		"publishable_key": publishableKey,
		"amount":          donation.Amount,
		"campaign_title":  donation.Campaign.Title,
	})
}

func (ar *APIRoutes) abandon(donationID string) {
	if err := ar.donations.MarkAbandoned(donationID); err != nil {
		log.Printf("Failed to mark donation %s abandoned: %v", donationID, err)
	}
}

// GetDonation backs the thank-you page. When the processor redirect carries a
// payment_intent parameter, completion is applied only if the row is still
// pending; the webhook receiver remains the authoritative writer and a late
// failed or refunded state is never overwritten.
func (ar *APIRoutes) GetDonation(c *gin.Context) {
	id := c.Param("id")

	if intentID := c.Query("payment_intent"); intentID != "" {
		applied, err := ar.donations.Complete(id, intentID, "", "")
		if err != nil {
			log.Printf("Optimistic completion failed for donation %s: %v", id, err)
		} else if applied {
			ar.BroadcastStatus(services.StatusChange{
				DonationID:      id,
				Status:          models.StatusCompleted,
				PaymentIntentID: intentID,
			})
		}
	}

	donation, err := ar.donations.GetWithCampaign(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "donation not found"})
		return
	}
	c.JSON(http.StatusOK, donation)
}

// DownloadReceipt streams the donation receipt as an attachment: PDF when
// the converter succeeds, HTML otherwise.
func (ar *APIRoutes) DownloadReceipt(c *gin.Context) {
	id := c.Param("id")

	artifact, err := ar.receipts.Generate(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrDonationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "donation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	filename := fmt.Sprintf("comprovante-doacao-%s.%s", id, artifact.Ext)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Data(http.StatusOK, artifact.ContentType, artifact.Data)
}

// StripeWebhook receives asynchronous payment-outcome events. The signature
// is verified against the active environment's signing secret before any of
// the payload is trusted. Unknown donations are acknowledged as no-ops so the
// processor does not retry delivery forever.
func (ar *APIRoutes) StripeWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	settings, err := loadStripeSettings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	event, err := ar.stripeService.VerifyWebhook(payload, c.GetHeader("Stripe-Signature"), settings.ActiveWebhookSecret())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	change, err := ar.donations.ApplyEvent(event)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if change != nil {
		ar.BroadcastStatus(*change)
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// Search fans the query out over the five content categories.
func (ar *APIRoutes) Search(c *gin.Context) {
	results, err := ar.search.Search(c.Query("q"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (ar *APIRoutes) ListNews(c *gin.Context) {
	limit := 20
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	var articles []models.NewsArticle
	if err := utils.DB.Where("published = ?", true).Order("published_at DESC").Limit(limit).Find(&articles).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list news"})
		return
	}
	c.JSON(http.StatusOK, articles)
}

func (ar *APIRoutes) GetNews(c *gin.Context) {
	var article models.NewsArticle
	if err := utils.DB.Where("slug = ? AND published = ?", c.Param("slug"), true).First(&article).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
		return
	}
	c.JSON(http.StatusOK, article)
}

func (ar *APIRoutes) ListEvents(c *gin.Context) {
	var events []models.Event
	if err := utils.DB.Where("published = ?", true).Order("starts_at ASC").Limit(50).Find(&events).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}
	c.JSON(http.StatusOK, events)
}

func (ar *APIRoutes) ListClergy(c *gin.Context) {
	var clergy []models.Clergy
	if err := utils.DB.Where("active = ?", true).Order("name ASC").Find(&clergy).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list clergy"})
		return
	}
	c.JSON(http.StatusOK, clergy)
}

func (ar *APIRoutes) ListParishes(c *gin.Context) {
	var parishes []models.Parish
	if err := utils.DB.Where("active = ?", true).Order("name ASC").Find(&parishes).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list parishes"})
		return
	}
	c.JSON(http.StatusOK, parishes)
}

func (ar *APIRoutes) ListGallery(c *gin.Context) {
	var albums []models.GalleryAlbum
	if err := utils.DB.Where("published = ?", true).Order("created_at DESC").Find(&albums).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list gallery"})
		return
	}
	c.JSON(http.StatusOK, albums)
}

// runStatusHub manages websocket clients and routes status changes to the
// connections subscribed to the matching donation.
func (ar *APIRoutes) runStatusHub() {
	log.Printf("Donation status hub started")

	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()

	for {
		select {
		case client := <-ar.register:
			ar.mutex.Lock()
			ar.clients[client] = ""
			clientCount := len(ar.clients)
			ar.mutex.Unlock()
			log.Printf("Status subscriber connected, total: %d", clientCount)

		case client := <-ar.unregister:
			ar.mutex.Lock()
			if _, ok := ar.clients[client]; ok {
				delete(ar.clients, client)
				client.Close()
			}
			clientCount := len(ar.clients)
			ar.mutex.Unlock()
			log.Printf("Status subscriber disconnected, total: %d", clientCount)

		case change := <-ar.broadcast:
			message, err := json.Marshal(map[string]interface{}{
				"type":              "donation_status",
				"donation_id":       change.DonationID,
				"status":            change.Status,
				"payment_intent_id": change.PaymentIntentID,
				"timestamp":         time.Now().Unix(),
			})
			if err != nil {
				log.Printf("Error marshaling status change: %v", err)
				continue
			}

			ar.mutex.Lock()
			for client, donationID := range ar.clients {
				if donationID != change.DonationID {
					continue
				}
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					log.Printf("Failed to push status to subscriber: %v", err)
					client.Close()
					delete(ar.clients, client)
				}
			}
			ar.mutex.Unlock()

		case <-cleanupTicker.C:
			ar.cleanupInvalidConnections()
		}
	}
}

func (ar *APIRoutes) cleanupInvalidConnections() {
	ar.mutex.Lock()
	defer ar.mutex.Unlock()

	before := len(ar.clients)
	for client := range ar.clients {
		if err := client.WriteMessage(websocket.PingMessage, nil); err != nil {
			client.Close()
			delete(ar.clients, client)
		}
	}
	if removed := before - len(ar.clients); removed > 0 {
		log.Printf("Cleaned up %d dead websocket connections, total: %d", removed, len(ar.clients))
	}
}

// BroadcastStatus pushes a status change to the hub.
func (ar *APIRoutes) BroadcastStatus(change services.StatusChange) {
	select {
	case ar.broadcast <- change:
	default:
		log.Printf("Status broadcast channel full, dropping update for %s", change.DonationID)
	}
}

// WebSocketHandler upgrades the connection and reads subscription messages.
// A client sends {"donation_id": "..."} and from then on receives status
// pushes for that donation, starting with a snapshot of the current state.
func (ar *APIRoutes) WebSocketHandler(c *gin.Context) {
	conn, err := ar.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Error upgrading to WebSocket: %v", err)
		return
	}

	ar.register <- conn

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var sub struct {
			DonationID string `json:"donation_id"`
		}
		if err := json.Unmarshal(data, &sub); err != nil || sub.DonationID == "" {
			continue
		}

		ar.mutex.Lock()
		ar.clients[conn] = sub.DonationID
		ar.mutex.Unlock()

		go ar.sendStatusSnapshot(conn, sub.DonationID)
	}

	ar.unregister <- conn
}

func (ar *APIRoutes) sendStatusSnapshot(conn *websocket.Conn, donationID string) {
	donation, err := ar.donations.GetWithCampaign(donationID)
	if err != nil {
		if !errors.Is(err, services.ErrDonationNotFound) {
			log.Printf("Error loading donation %s for snapshot: %v", donationID, err)
		}
		return
	}

	message, err := json.Marshal(map[string]interface{}{
		"type":              "donation_status",
		"donation_id":       donation.ID,
		"status":            donation.Status,
		"payment_intent_id": donation.PaymentIntentID,
		"timestamp":         time.Now().Unix(),
	})
	if err != nil {
		return
	}

	ar.mutex.Lock()
	defer ar.mutex.Unlock()
	if _, ok := ar.clients[conn]; !ok {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
		conn.Close()
		delete(ar.clients, conn)
	}
}
