package parser

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-price-sync/models"
)

// ExtractFunc parses one product page.
type ExtractFunc func(html string) models.ScrapeResult

// Amazon selectors.
const (
	selAmazonAvailability = `div#availability`
	selAmazonPrice        = `span.a-price.priceToPay`
	selAmazonWhole        = `span.a-price-whole`
	selAmazonFraction     = `span.a-price-fraction`
	selAmazonSeller       = `#sellerProfileTriggerId, #merchant-info a`

	// CannotShipText is shown in place of availability when the listing does
	// not ship to the proxy's location. The page carries no price then.
	CannotShipText = "cannot be shipped to your selected delivery location"
)

// eBay selectors.
const (
	selEbayPrice  = `div.x-price-primary[data-testid="x-price-primary"] span.ux-textspans`
	selEbayQty    = `div#qtyAvailability span.ux-textspans`
	selEbaySeller = `[data-testid="x-sellercard-atf"] .ux-textspans--BOLD`
)

var layouts = []struct {
	match   func(host string) bool
	extract ExtractFunc
}{
	{func(h string) bool { return strings.Contains(h, "amazon.") }, ExtractAmazon},
	{func(h string) bool { return strings.Contains(h, "ebay.") }, ExtractEbay},
}

// ForURL picks the extractor for the host of link. Amazon and eBay have
// their own rules; every other host uses Extract, which yields no price and
// out-of-stock on markup it does not recognise. An unparseable link always
// yields the absent extraction.
func ForURL(link string) ExtractFunc {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return func(string) models.ScrapeResult { return absent() }
	}
	host := strings.ToLower(u.Hostname())
	for _, l := range layouts {
		if l.match(host) {
			return l.extract
		}
	}
	return Extract
}

// ExtractAmazon reads an Amazon product page. A delivery restriction notice
// yields no price so the caller re-fetches.
func ExtractAmazon(html string) (result models.ScrapeResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("amazon extract recovered from panic", slog.Any("panic", r))
			result = absent()
		}
	}()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return absent()
	}

	availability := text(doc.Find(selAmazonAvailability).First())
	if strings.Contains(strings.ToLower(availability), CannotShipText) {
		return models.ScrapeResult{Stock: models.StockOut}
	}

	switch {
	case strings.Contains(availability, "left in stock"):
		result.Stock = LowStockCount(availability)
	case strings.Contains(availability, "In Stock"):
		result.Stock = models.StockAmple
	default:
		result.Stock = models.StockOut
	}
	result.Seller = text(doc.Find(selAmazonSeller).First())

	priceTag := doc.Find(selAmazonPrice).First()
	whole := strings.TrimSuffix(text(priceTag.Find(selAmazonWhole).First()), ".")
	fraction := text(priceTag.Find(selAmazonFraction).First())
	if whole != "" && fraction != "" {
		if price, err := ParsePrice(whole + "." + fraction); err == nil {
			result.Price = &price
		}
	}
	return result
}

// ExtractEbay reads an eBay listing. Stock comes from the quantity line
// ("3 available", "More than 10 available", "Last one").
func ExtractEbay(html string) (result models.ScrapeResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("ebay extract recovered from panic", slog.Any("panic", r))
			result = absent()
		}
	}()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return absent()
	}

	if price, err := ParsePrice(text(doc.Find(selEbayPrice).First())); err == nil {
		result.Price = &price
	}
	result.Seller = text(doc.Find(selEbaySeller).First())

	result.Stock = models.StockOut
	doc.Find(selEbayQty).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		lower := strings.ToLower(text(s))
		switch {
		case strings.Contains(lower, "more than"):
			result.Stock = models.StockAmple
		case strings.Contains(lower, "last one"):
			result.Stock = 1
		case strings.Contains(lower, "available"):
			result.Stock = availableCount(lower)
		default:
			return true
		}
		return false
	})
	return result
}

// availableCount reads "N available"; a line with no number counts as ample.
func availableCount(line string) models.Stock {
	if numberPattern.FindStringSubmatch(line) == nil {
		return models.StockAmple
	}
	return LowStockCount(line)
}
