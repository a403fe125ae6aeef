package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"

	"github.com/diocesedigital/portal-api/models"
	"github.com/diocesedigital/portal-api/routes"
	"github.com/diocesedigital/portal-api/services"
	"github.com/diocesedigital/portal-api/utils"
)

func main() {
	execDir, err := filepath.Abs(filepath.Dir(os.Args[0]))
	if err != nil {
		log.Fatalf("Failed to get exec dir: %v", err)
	}

	// Load config.yaml from the working directory, falling back to the
	// executable directory.
	viper.SetConfigFile("config.yaml")
	if err := viper.ReadInConfig(); err != nil {
		viper.SetConfigFile(filepath.Join(execDir, "config.yaml"))
		if err := viper.ReadInConfig(); err != nil {
			log.Fatalf("Failed to read config: %v", err)
		}
	}

	if err := utils.InitDatabase(
		viper.GetString("mysql.host"),
		viper.GetString("mysql.user"),
		viper.GetString("mysql.password"),
		viper.GetString("mysql.dbname"),
		viper.GetInt("mysql.port"),
	); err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	log.Printf("Database connected successfully")

	if err := utils.MigrateDatabase(); err != nil {
		log.Fatalf("Database migration failed: %v", err)
	}

	bootstrapSettings()
	bootstrapAdminUser()

	donationService := services.NewDonationService(utils.DB)
	stripeService := services.NewStripeService(viper.GetString("stripe.currency"))
	receiptService := services.NewReceiptService(utils.DB, viper.GetString("receipt.converter_url"))
	searchService := services.NewSearchService(utils.DB)

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.SetTrustedProxies([]string{"127.0.0.1"})
	router.Use(gin.Recovery())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	router.Use(routes.CORSMiddleware())

	apiRoutes := routes.NewAPIRoutes(donationService, stripeService, receiptService, searchService, viper.GetString("site.public_base_url"))
	apiRoutes.SetupRoutes(router)

	adminRoutes := routes.NewAdminRoutes(
		donationService,
		[]byte(viper.GetString("admin.jwt_secret")),
		viper.GetDuration("admin.token_ttl"),
	)
	adminRoutes.SetupRoutes(router)

	port := viper.GetInt("server.port")
	addr := fmt.Sprintf(":%d", port)

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Server running on http://localhost%s", addr)
	log.Printf("Server mode: %s", gin.Mode())

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// bootstrapSettings makes sure the singleton stripe settings row exists so
// the admin panel always has something to edit.
func bootstrapSettings() {
	var count int64
	utils.DB.Model(&models.StripeSettings{}).Count(&count)
	if count > 0 {
		return
	}
	settings := models.StripeSettings{
		TestPublishableKey: viper.GetString("stripe.test_publishable_key"),
		TestSecretKey:      viper.GetString("stripe.test_secret_key"),
		TestWebhookSecret:  viper.GetString("stripe.test_webhook_secret"),
		LivePublishableKey: viper.GetString("stripe.live_publishable_key"),
		LiveSecretKey:      viper.GetString("stripe.live_secret_key"),
		LiveWebhookSecret:  viper.GetString("stripe.live_webhook_secret"),
		LiveMode:           viper.GetBool("stripe.live_mode"),
	}
	if err := utils.DB.Create(&settings).Error; err != nil {
		log.Printf("Warning: failed to bootstrap stripe settings: %v", err)
	} else {
		log.Printf("Stripe settings row created from config")
	}
}

// bootstrapAdminUser creates the panel account from config when no admin
// exists yet.
func bootstrapAdminUser() {
	var count int64
	utils.DB.Model(&models.AdminUser{}).Count(&count)
	if count > 0 {
		return
	}
	username := viper.GetString("admin.bootstrap_username")
	password := viper.GetString("admin.bootstrap_password")
	if username == "" || password == "" {
		log.Printf("Warning: no admin user exists and no bootstrap credentials configured")
		return
	}
	user := models.AdminUser{Username: username}
	if err := user.SetPassword(password); err != nil {
		log.Printf("Warning: failed to hash bootstrap admin password: %v", err)
		return
	}
	if err := utils.DB.Create(&user).Error; err != nil {
		log.Printf("Warning: failed to create bootstrap admin user: %v", err)
	} else {
		log.Printf("Bootstrap admin user %q created", username)
	}
}
