package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/maltedev/review-scraper/internal/models"
	"github.com/maltedev/review-scraper/internal/scrapeerr"
)

const SourceBrowser = "browser"

type Selectors struct {
	ProductTitle     string
	Price            string
	Rating           string
	TotalReviews     string
	ReviewCards      string
	ReviewTitle      string
	ReviewText       string
	ReviewRating     string
	ReviewDate       string
	ReviewAuthor     string
	ReviewImages     string
	HelpfulVotes     string
	VerifiedPurchase string
}

func DefaultSelectors() Selectors {
	return Selectors{
		ProductTitle:     `#productTitle, [data-hook="product-link"]`,
		Price:            `#priceblock_ourprice, .a-price .a-offscreen`,
		Rating:           `#acrPopover .a-icon-alt, [data-hook="rating-out-of-text"]`,
		TotalReviews:     `#acrCustomerReviewText, [data-hook="total-review-count"]`,
		ReviewCards:      `[data-hook="review"]`,
		ReviewTitle:      `[data-hook="review-title"]`,
		ReviewText:       `[data-hook="review-body"]`,
		ReviewRating:     `i.review-rating, [data-hook="review-star-rating"]`,
		ReviewDate:       `[data-hook="review-date"]`,
		ReviewAuthor:     `.a-profile-name`,
		ReviewImages:     `[data-hook="review-image-tile"]`,
		HelpfulVotes:     `[data-hook="helpful-vote-statement"]`,
		VerifiedPurchase: `[data-hook="avp-badge"]`,
	}
}

// ReviewParser extracts product and review data from a review listing page.
type ReviewParser struct {
	selectors     Selectors
	numberPattern *regexp.Regexp
	datePattern   *regexp.Regexp
}

func NewReviewParser() *ReviewParser {
	return &ReviewParser{
		selectors:     DefaultSelectors(),
		numberPattern: regexp.MustCompile(`(\d+(?:[,.]\d+)*)`),
		datePattern:   regexp.MustCompile(`on (.+)$`),
	}
}

// Parse fails with a Parsing error when the page has no product title.
func (p *ReviewParser) Parse(html string, asin string) (*models.ReviewScrapeResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, scrapeerr.Wrap(scrapeerr.KindParsing, "failed to parse HTML", err)
	}

	product := models.NewProduct(asin)
	product.Title = text(doc.Find(p.selectors.ProductTitle).First())
	if product.Title == "" {
		return nil, scrapeerr.New(scrapeerr.KindParsing, fmt.Sprintf("product title not found for %s", asin))
	}

	product.Price = p.extractPrice(doc)
	product.Rating = p.extractRating(doc)

	var reviews []models.Review
	doc.Find(p.selectors.ReviewCards).Each(func(i int, card *goquery.Selection) {
		reviews = append(reviews, p.extractReview(card, asin))
	})

	total := 0
	if product.Rating != nil {
		total = product.Rating.Total
	}

	return &models.ReviewScrapeResult{
		Product: product,
		Reviews: reviews,
		Metadata: models.ScrapeMetadata{
			ScrapedAt:      time.Now(),
			TotalReviews:   total,
			ScrapedReviews: len(reviews),
			Source:         SourceBrowser,
		},
	}, nil
}

func (p *ReviewParser) extractReview(card *goquery.Selection, asin string) models.Review {
	id, _ := card.Attr("id")
	if id == "" {
		id = uuid.NewString()
	}

	review := models.Review{
		ID:        id,
		Title:     p.cleanTitle(card.Find(p.selectors.ReviewTitle).First()),
		Text:      text(card.Find(p.selectors.ReviewText).First()),
		Rating:    p.leadingNumber(text(card.Find(p.selectors.ReviewRating).First())),
		Date:      p.extractDate(text(card.Find(p.selectors.ReviewDate).First())),
		Verified:  card.Find(p.selectors.VerifiedPurchase).Length() > 0,
		Author:    models.Author{Name: text(card.Find(p.selectors.ReviewAuthor).First())},
		Images:    make([]string, 0),
		Platform:  models.PlatformAmazon,
		ProductID: asin,
	}

	if votes := text(card.Find(p.selectors.HelpfulVotes).First()); votes != "" {
		review.Helpful.Votes = p.helpfulVotes(votes)
	}

	card.Find(p.selectors.ReviewImages).Each(func(i int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			review.Images = append(review.Images, src)
		}
	})

	return review
}

func (p *ReviewParser) extractPrice(doc *goquery.Document) *models.Price {
	raw := text(doc.Find(p.selectors.Price).First())
	if raw == "" {
		return nil
	}

	amount := p.leadingNumber(raw)
	if amount <= 0 {
		return nil
	}

	return &models.Price{Current: amount, Currency: currency(raw)}
}

func (p *ReviewParser) extractRating(doc *goquery.Document) *models.Rating {
	ratingText := text(doc.Find(p.selectors.Rating).First())
	totalText := text(doc.Find(p.selectors.TotalReviews).First())
	if ratingText == "" && totalText == "" {
		return nil
	}

	return &models.Rating{
		Average: p.leadingNumber(ratingText),
		Total:   int(p.leadingNumber(strings.ReplaceAll(totalText, ",", ""))),
	}
}

// cleanTitle drops the star text Amazon nests inside review titles.
func (p *ReviewParser) cleanTitle(s *goquery.Selection) string {
	clone := s.Clone()
	clone.Find(".a-icon-alt, i").Remove()
	return text(clone)
}

func (p *ReviewParser) extractDate(raw string) string {
	if m := p.datePattern.FindStringSubmatch(raw); len(m) > 1 {
		if t, err := time.Parse("January 2, 2006", strings.TrimSpace(m[1])); err == nil {
			return t.Format("2006-01-02")
		}
		return strings.TrimSpace(m[1])
	}
	return raw
}

func (p *ReviewParser) helpfulVotes(raw string) int {
	if strings.HasPrefix(strings.ToLower(raw), "one person") {
		return 1
	}
	return int(p.leadingNumber(strings.ReplaceAll(raw, ",", "")))
}

func (p *ReviewParser) leadingNumber(s string) float64 {
	m := p.numberPattern.FindStringSubmatch(s)
	if len(m) < 2 {
		return 0
	}
	num := m[1]
	if strings.Contains(num, ".") {
		num = strings.ReplaceAll(num, ",", "")
	} else {
		num = strings.Replace(num, ",", ".", 1)
	}
	val, _ := strconv.ParseFloat(num, 64)
	return val
}

func currency(raw string) string {
	switch {
	case strings.Contains(raw, "$"):
		return "USD"
	case strings.Contains(raw, "€"):
		return "EUR"
	case strings.Contains(raw, "£"):
		return "GBP"
	case strings.Contains(raw, "¥"):
		return "JPY"
	default:
		return ""
	}
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
