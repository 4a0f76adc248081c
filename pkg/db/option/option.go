// Package option holds composable gorm query modifiers used by repositories.
package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a gorm statement before execution.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type queryFunc func(db *gorm.DB) *gorm.DB

func (f queryFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

type Operator string

const (
	EQ      Operator = "="
	NEQ     Operator = "<>"
	GT      Operator = ">"
	GTE     Operator = ">="
	LT      Operator = "<"
	LTE     Operator = "<="
	IN      Operator = "IN"
	NULL    Operator = "IS NULL"
	NOTNULL Operator = "IS NOT NULL"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ApplyOperator adds a single where clause. Field names are quoted by gorm.
func ApplyOperator(cond Condition) QueryOption {
	return queryFunc(func(db *gorm.DB) *gorm.DB {
		field := strings.TrimSpace(cond.Field)
		if field == "" {
			return db
		}
		column := clause.Column{Name: field}
		switch cond.Operator {
		case NULL, NOTNULL:
			return db.Where(fmt.Sprintf("? %s", cond.Operator), column)
		case IN:
			return db.Where("? IN ?", column, cond.Value)
		case "":
			return db.Where("? = ?", column, cond.Value)
		default:
			return db.Where(fmt.Sprintf("? %s ?", cond.Operator), column, cond.Value)
		}
	})
}

// QuerySortBy restricts sorting to an allow-list of columns.
type QuerySortBy struct {
	Field string
	Desc  bool
	Allow map[string]bool
}

// WithSortBy orders the result, falling back to created_at DESC.
func WithSortBy(sort QuerySortBy) QueryOption {
	return queryFunc(func(db *gorm.DB) *gorm.DB {
		field := strings.TrimSpace(sort.Field)
		desc := sort.Desc
		if field == "" || !sort.Allow[field] {
			field = "created_at"
			desc = true
		}
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: field}, Desc: desc}).
			Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: desc})
	})
}

// ApplyPagination limits the result set; a non-positive size is ignored.
func ApplyPagination(size, offset int) QueryOption {
	return queryFunc(func(db *gorm.DB) *gorm.DB {
		if size > 0 {
			db = db.Limit(size)
		}
		if offset > 0 {
			db = db.Offset(offset)
		}
		return db
	})
}

// ForUpdate takes a row lock where the dialect supports it.
func ForUpdate() QueryOption {
	return queryFunc(func(db *gorm.DB) *gorm.DB {
		if db.Dialector != nil && db.Dialector.Name() == "sqlite" {
			return db
		}
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	})
}
