package models

import (
	"time"
)

const PlatformAmazon = "amazon"

type Product struct {
	ID        string    `json:"id"`
	ASIN      string    `json:"asin"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Price     *Price    `json:"price,omitempty"`
	Rating    *Rating   `json:"rating,omitempty"`
	Platform  string    `json:"platform"`
	ScrapedAt time.Time `json:"scraped_at"`
}

type Price struct {
	Current    float64 `json:"current"`
	Currency   string  `json:"currency"`
	Discounted bool    `json:"discounted"`
	Original   float64 `json:"original,omitempty"`
}

type Rating struct {
	Average      float64     `json:"average"`
	Total        int         `json:"total"`
	Distribution map[int]int `json:"distribution,omitempty"`
}

func NewProduct(asin string) *Product {
	return &Product{
		ID:        asin,
		ASIN:      asin,
		Platform:  PlatformAmazon,
		ScrapedAt: time.Now(),
	}
}

func (p *Price) IsValid() bool {
	return p.Current >= 0 && p.Currency != ""
}

func (p *Product) Validate() []string {
	var errors []string

	if p.ASIN == "" {
		errors = append(errors, "ASIN is required")
	}

	if p.Title == "" {
		errors = append(errors, "Title is required")
	}

	if p.Price != nil && !p.Price.IsValid() {
		errors = append(errors, "Invalid price")
	}

	return errors
}
