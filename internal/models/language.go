package models

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Language maps a display name to the sandbox's numeric language id.
type Language struct {
	Name      string `gorm:"uniqueIndex"`
	SandboxID int
	Model
}

func (Language) TableName() string {
	return "language"
}

func (l Language) GetID() uuid.UUID {
	return l.ID
}

func LanguageByName(ctx context.Context, db *gorm.DB, name string) (*Language, error) {
	db = db.WithContext(ctx)

	var language Language
	err := db.Where("name = ?", name).First(&language).Error
	if err != nil {
		return nil, err
	}

	return &language, nil
}
