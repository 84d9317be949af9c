// Package parser extracts price, stock and seller from product page markup.
package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/aluiziolira/go-price-sync/models"
)

// Selectors for the supported product page layout.
const (
	selSellerInfo  = `span[data-testid="product-seller-info"]`
	selSellerLink  = `a[data-testid="seller-name-link"]`
	selLowStock    = `span.b.dark-red`
	selUnavailable = `span.b.mr1`
	selFulfillment = `[data-seo-id="fulfillment-shipping-intent"], [data-testid="fulfillment-badge"]`
	selPrice       = `span[itemprop="price"][data-seo-id="hero-price"]`

	sellerPrefix = "Sold and shipped by"
)

var (
	numberPattern  = regexp.MustCompile(`(\d+)`)
	pricePattern   = regexp.MustCompile(`\$?\s*([\d.,]+)`)
	domainSuffix   = regexp.MustCompile(`\.com.*$`)
	innerSpacing   = regexp.MustCompile(`\s\s+`)
	errNoPriceText = errors.New("no numeric price")
)

// Extract parses page markup into a ScrapeResult. It never panics: any
// failure yields the all-absent extraction.
func Extract(html string) (result models.ScrapeResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("extract recovered from panic", slog.Any("panic", r))
			result = absent()
		}
	}()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return absent()
	}

	sellerTag := doc.Find(selSellerInfo).First()
	hasSeller := sellerTag.Length() > 0

	result.Seller = extractSeller(sellerTag)
	result.Stock = extractStock(doc, hasSeller)
	if price, err := ParsePrice(text(doc.Find(selPrice).First())); err == nil {
		result.Price = &price
	}
	return result
}

func absent() models.ScrapeResult {
	return models.ScrapeResult{Stock: models.StockOut, Err: true}
}

func extractSeller(sellerTag *goquery.Selection) string {
	if sellerTag.Length() == 0 {
		return ""
	}
	var name string
	if link := sellerTag.Find(selSellerLink).First(); link.Length() > 0 {
		name = text(link)
	} else {
		name = strings.TrimSpace(strings.Replace(text(sellerTag), sellerPrefix, "", 1))
	}
	return strings.TrimSpace(domainSuffix.ReplaceAllString(name, ""))
}

func extractStock(doc *goquery.Document, hasSeller bool) models.Stock {
	if low := doc.Find(selLowStock).First(); low.Length() > 0 {
		return LowStockCount(text(low))
	}

	if unavailable := doc.Find(selUnavailable).First(); unavailable.Length() > 0 {
		msg := text(unavailable)
		switch {
		case strings.Contains(msg, "Out of stock"):
			return models.StockOut
		case strings.Contains(msg, "Not available"):
			return fulfillmentStock(text(doc.Find(selFulfillment).First()))
		}
	}

	if hasSeller {
		return models.StockAmple
	}
	return models.StockOut
}

// fulfillmentStock classifies the secondary fulfillment badge shown next to
// a "Not available" message.
func fulfillmentStock(badge string) models.Stock {
	lower := strings.ToLower(badge)
	switch {
	case strings.Contains(lower, "out of stock"):
		return models.StockOut
	case strings.Contains(lower, "arrives"):
		return models.StockAmple
	default:
		return models.StockOut
	}
}

// LowStockCount reads the count from a badge such as "Only 7 left".
func LowStockCount(badge string) models.Stock {
	m := numberPattern.FindStringSubmatch(badge)
	if m == nil {
		return models.LowStockDefault
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return models.LowStockDefault
	}
	return models.Stock(n)
}

// ParsePrice strips currency symbols and thousands separators and returns the
// price rounded to cents.
func ParsePrice(raw string) (decimal.Decimal, error) {
	m := pricePattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return decimal.Decimal{}, errNoPriceText
	}
	cleaned := strings.ReplaceAll(m[1], ",", "")
	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price %q: %w", raw, err)
	}
	return price.Round(2), nil
}

func text(sel *goquery.Selection) string {
	return strings.TrimSpace(innerSpacing.ReplaceAllString(sel.Text(), " "))
}
