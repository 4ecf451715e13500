// Package pricing converts between tenge and subscription tokens.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	// ErrInvalidPrice is returned for a non-positive token price.
	ErrInvalidPrice = errors.New("pricing: token price must be positive")
	// ErrInvalidAmount is returned for negative or overflowing amounts.
	ErrInvalidAmount = errors.New("pricing: invalid amount")
)

// Converter prices tokens at a fixed tenge rate.
type Converter struct {
	tokenPriceKZT int64
}

// Quote is the price of a token purchase.
type Quote struct {
	Tokens       int64  `json:"tokens"`
	UnitPriceKZT int64  `json:"unit_price_kzt"`
	CostKZT      int64  `json:"cost_kzt"`
	Formatted    string `json:"formatted"`
}

// NewConverter returns a Converter charging tokenPriceKZT per token.
func NewConverter(tokenPriceKZT int64) (*Converter, error) {
	if tokenPriceKZT <= 0 {
		return nil, ErrInvalidPrice
	}
	return &Converter{tokenPriceKZT: tokenPriceKZT}, nil
}

// CostKZT is the tenge price of tokens.
func (c *Converter) CostKZT(tokens int64) (int64, error) {
	if tokens < 0 {
		return 0, fmt.Errorf("%w: negative token count %d", ErrInvalidAmount, tokens)
	}
	if tokens > math.MaxInt64/c.tokenPriceKZT {
		return 0, fmt.Errorf("%w: %d tokens overflows", ErrInvalidAmount, tokens)
	}
	return tokens * c.tokenPriceKZT, nil
}

// TokensFor is how many whole tokens kzt buys. Change is not converted.
func (c *Converter) TokensFor(kzt int64) int64 {
	if kzt <= 0 {
		return 0
	}
	return kzt / c.tokenPriceKZT
}

// Quote prices a purchase of tokens and formats the cost for lang.
func (c *Converter) Quote(tokens int64, lang string) (Quote, error) {
	cost, err := c.CostKZT(tokens)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Tokens: tokens, UnitPriceKZT: c.tokenPriceKZT, CostKZT: cost, Formatted: Format(cost, lang)}, nil
}

// Format renders a tenge amount with the digit grouping of lang. Unknown or empty tags fall back
// to English.
func Format(kzt int64, lang string) string {
	p := message.NewPrinter(parseTag(lang))
	return p.Sprintf("%s %d", currency.MustParseISO("KZT"), kzt)
}

func parseTag(lang string) language.Tag {
	lang = strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if lang == "" {
		return language.English
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return language.English
	}
	return tag
}
