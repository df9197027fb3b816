package models

import (
	"context"
	"fmt"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/algoclash/judge-api/judge-api/internal/config"
)

type Account struct {
	Token string // argon2id hash
	Note  string // will be logged nonsensitive
	Model
	Active datatypes.Null[bool]
}

func (Account) TableName() string {
	return "account"
}

func (a Account) GetID() uuid.UUID {
	return a.ID
}

// Config is the authoritative api keys
//
// 1. Upsert account data
// 2. Disable keys not currently contained in the config
func LoadAPIKeysFromConfig(ctx context.Context, db *gorm.DB, accounts []config.Account) error {
	ctx, span := tracer.Start(ctx, "LoadAPIKeysFromConfig")
	defer span.End()

	db = db.WithContext(ctx)

	keysToUpsert := make([]*Account, len(accounts))
	keysInConfig := make([]uuid.UUID, len(accounts))
	for i, account := range accounts {
		hash, err := argon2id.CreateHash(account.APIKey.Token, argon2id.DefaultParams)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "error creating hash for api key")
			span.SetAttributes(attribute.String("failedAccount", account.Subject))
			return err
		}

		subject, err := uuid.Parse(account.Subject)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "error parsing account subject")
			span.SetAttributes(attribute.String("failedAccount", account.Subject))
			return err
		}

		newModel := Account{
			Model: Model{
				ID: subject,
			},
			Token:  hash,
			Note:   account.Note,
			Active: NewNull(account.APIKey.Active),
		}

		keysToUpsert[i] = &newModel
		keysInConfig[i] = newModel.ID
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		//nolint:govet // shadow: intentionally shadow ctx and span to avoid using the incorrect one.
		ctx, span := tracer.Start(ctx, "LoadAPIKeysFromConfig/Transaction")
		defer span.End()

		tx = tx.WithContext(ctx)

		if len(keysToUpsert) != 0 {
			span.AddEvent("upserting defined accounts")
			result := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(keysToUpsert)
			if result.Error != nil {
				span.RecordError(result.Error)
				span.SetStatus(codes.Error, "failed to upsert defined accounts")
				return fmt.Errorf("failed to upsert defined accounts: %w", result.Error)
			}
		} else {
			span.AddEvent("no defined accounts to upsert")
		}

		span.AddEvent("setting all rows not in defined accounts inactive")

		result := tx.Model(&Account{}).
			Where("id NOT IN ?", keysInConfig).
			Updates(&Account{Active: NewNullFromData(false)})
		if result.Error != nil {
			span.RecordError(result.Error)
			span.SetStatus(codes.Error, "failed to set all rows not in defined accounts inactive")
			return fmt.Errorf(
				"failed to set all rows not in defined accounts inactive: %w",
				result.Error,
			)
		}

		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load api keys from config")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "loaded api keys from config")
	return nil
}
