package utils

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/diocesedigital/portal-api/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDatabase(host, user, password, dbname string, port int) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, password, host, port, dbname)

	logLevel := logger.Info
	if os.Getenv("GO_ENV") == "production" {
		logLevel = logger.Error
	}

	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			LogLevel: logLevel,
		},
	)

	var err error
	log.Printf("Connecting to database: %s:%d/%s", host, port, dbname)

	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		return err
	}

	sqlDB, err := DB.DB()
	if err != nil {
		log.Printf("Failed to get database: %v", err)
		return err
	}

	sqlDB.SetMaxIdleConns(15)
	sqlDB.SetMaxOpenConns(120)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	return nil
}

// MigrateDatabase creates or updates the tables for every model.
func MigrateDatabase() error {
	log.Println("Starting database migration...")
	err := DB.AutoMigrate(
		&models.Campaign{},
		&models.Donation{},
		&models.StripeSettings{},
		&models.AdminUser{},
		&models.NewsArticle{},
		&models.Event{},
		&models.Clergy{},
		&models.Parish{},
		&models.GalleryAlbum{},
	)
	if err != nil {
		return err
	}
	log.Println("Database migration completed")
	return nil
}
