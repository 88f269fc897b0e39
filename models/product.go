package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Category    string          `json:"category,omitempty"`
	Images      []string        `json:"images,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// PrimaryImage is the image snapshotted into order items.
func (p Product) PrimaryImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

type ProductQuery struct {
	Q        string
	Category string
	Page     Page
}

type DiscountCode struct {
	Code      string          `json:"code"`
	Percent   decimal.Decimal `json:"percent"`
	Active    bool            `json:"active"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// Usable reports whether the code can be applied at now.
func (d DiscountCode) Usable(now time.Time) bool {
	if !d.Active {
		return false
	}
	return d.ExpiresAt == nil || now.Before(*d.ExpiresAt)
}

// Page is a limit/offset window. Normalize clamps it to sane bounds.
type Page struct {
	Limit  int `form:"limit" json:"limit"`
	Offset int `form:"offset" json:"offset"`
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

func (p Page) Normalize() Page {
	if p.Limit <= 0 || p.Limit > MaxPageLimit {
		p.Limit = DefaultPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
