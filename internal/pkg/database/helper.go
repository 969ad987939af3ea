package database

import (
	"gorm.io/gorm"
)

// Page size limits applied by NormalizePage
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// NormalizePage clamps page to >= 1 and pageSize to [1, MaxPageSize].
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// Window applies a raw offset/limit pair
func Window(offset, limit int) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if offset > 0 {
			db = db.Offset(offset)
		}
		if limit > 0 {
			db = db.Limit(limit)
		}
		return db
	}
}

// WhereIf conditionally adds a where clause
func WhereIf(condition bool, query interface{}, args ...interface{}) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if condition {
			return db.Where(query, args...)
		}
		return db
	}
}

// TotalPages returns the number of pages needed for total rows
func TotalPages(total int64, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	pages := total / int64(pageSize)
	if total%int64(pageSize) != 0 {
		pages++
	}
	return int(pages)
}
