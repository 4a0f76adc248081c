package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, rate *Rate) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Rate, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Rate, error)
	List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]Rate, error)
	Update(ctx context.Context, db *gorm.DB, rate *Rate) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	// CountReferences reports how many work entries point at the rate.
	CountReferences(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
}
