package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultCountry      = "us"
	DefaultLanguage     = "en"
	DefaultSortBy       = SortMostHelpful
	DefaultReviewsCount = 2
)

const (
	SortMostHelpful = "most_helpful"
	SortMostRecent  = "most_recent"
	SortTopCritical = "top_critical"
	SortTopPositive = "top_positive"
)

var validate = validator.New()

// FetchOptions selects which reviews to fetch for a product.
type FetchOptions struct {
	ASIN         string        `json:"asin" validate:"required,alphanum,max=20"`
	Country      string        `json:"country,omitempty" validate:"omitempty,alpha,len=2"`
	Language     string        `json:"language,omitempty" validate:"omitempty,alpha,len=2"`
	SortBy       string        `json:"sort_by,omitempty" validate:"omitempty,oneof=most_helpful most_recent top_critical top_positive"`
	ReviewsCount int           `json:"reviews_count,omitempty" validate:"gte=0,lte=1000"`
	Timeout      time.Duration `json:"-"`
}

// WithDefaults returns a copy with unset fields filled in and country and
// language lowercased.
func (o FetchOptions) WithDefaults() FetchOptions {
	if o.Country == "" {
		o.Country = DefaultCountry
	}
	if o.Language == "" {
		o.Language = DefaultLanguage
	}
	if o.SortBy == "" {
		o.SortBy = DefaultSortBy
	}
	if o.ReviewsCount <= 0 {
		o.ReviewsCount = DefaultReviewsCount
	}
	o.Country = strings.ToLower(o.Country)
	o.Language = strings.ToLower(o.Language)
	return o
}

func (o FetchOptions) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid fetch options: %w", err)
	}
	return nil
}

// CacheKey identifies a fetch after defaults are applied, so that
// requests differing only in omitted defaults share an entry.
func (o FetchOptions) CacheKey() string {
	d := o.WithDefaults()
	return fmt.Sprintf("%s-%s-%s-%s-%d", d.ASIN, d.Country, d.Language, d.SortBy, d.ReviewsCount)
}

// ProductURL is the review listing URL for the options' marketplace.
func (o FetchOptions) ProductURL() string {
	d := o.WithDefaults()
	url := fmt.Sprintf("https://%s/product-reviews/%s", marketplaceHost(d.Country), d.ASIN)
	switch d.SortBy {
	case SortMostRecent:
		url += "?sortBy=recent"
	case SortTopCritical:
		url += "?filterByStar=critical"
	case SortTopPositive:
		url += "?filterByStar=positive"
	}
	return url
}

func marketplaceHost(country string) string {
	switch country {
	case "us":
		return "www.amazon.com"
	case "uk", "gb":
		return "www.amazon.co.uk"
	case "jp":
		return "www.amazon.co.jp"
	case "de", "fr", "it", "es", "nl", "pl", "se":
		return "www.amazon." + country
	case "ca", "in", "ae", "sg":
		return "www.amazon." + country
	case "au", "br", "mx", "tr":
		return "www.amazon.com." + country
	default:
		return "www.amazon.com"
	}
}
