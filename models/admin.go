package models

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"
)

// AdminUser is a panel account. Passwords are stored as salted SHA-256.
type AdminUser struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"size:100;uniqueIndex" json:"username"`
	PasswordHash string    `gorm:"size:64" json:"-"`
	Salt         string    `gorm:"size:32" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u *AdminUser) SetPassword(password string) error {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	u.Salt = hex.EncodeToString(salt)
	u.PasswordHash = hashPassword(u.Salt, password)
	return nil
}

func (u *AdminUser) CheckPassword(password string) bool {
	expected := hashPassword(u.Salt, password)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(u.PasswordHash)) == 1
}

func hashPassword(salt, password string) string {
	sum := sha256.Sum256([]byte(salt + password))
	return hex.EncodeToString(sum[:])
}
