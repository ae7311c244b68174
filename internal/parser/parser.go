// Package parser turns free text signal channel messages into trade intents.
//
// Messages are written in Slovak. A buy names one pair, an entry (market or a
// limit price), one or more targets and a stop loss. A sell asks to close the
// position of the pair named in the message or in the message it replies to.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"signaltrader/internal/domain"
)

var (
	// ErrUnknownMessage is returned when a message carries no trade instruction.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrMalformedMessage is returned when a buy or sell is recognised but its
	// details cannot be read.
	ErrMalformedMessage = errors.New("malformed message")
)

const number = `(\d+(?:\.\d*)?)`

var (
	spacesRe    = regexp.MustCompile(`[ \t]+`)
	separatorRe = regexp.MustCompile(`\s*([:/])\s*`)

	symbolRe      = regexp.MustCompile(`([\da-z]+/(?:usdt?|btc))`)
	marketEntryRe = regexp.MustCompile(`vstup[: ].*market`)
	limitEntryRe  = regexp.MustCompile(`vstup[: ]` + number)
	limitOrderRe  = regexp.MustCompile(`limitny (?:vstup|prikaz)[: ]` + number)
	targetRe      = regexp.MustCompile(`(?:target|take profit)[: ]` + number)
	stopLossRe    = regexp.MustCompile(`stop ?loss[: ]` + number)
	targetStopRe  = regexp.MustCompile(`(?:target|take profit)[: ]` + number + `/-\d+(?:\.\d*)? ?%`)
)

var (
	sellWords = []string{"uzavrite", "ukoncite", "predajte", "skoncite"}
	keepWords = []string{"zvysok", "polovicu"}
)

// Parse classifies a message. parentContent is the message replied to, or
// empty.
func Parse(content, parentContent string) (domain.Intent, error) {
	intent := domain.Intent{Kind: domain.IntentUnknown, Content: content, ParentContent: parentContent}

	normalized := Normalize(content)

	plan, err := parseBuy(normalized)
	switch {
	case err == nil:
		intent.Kind, intent.Plan, intent.Symbol = domain.IntentBuy, plan, plan.Symbol
		return intent, nil
	case !errors.Is(err, ErrUnknownMessage):
		return intent, err
	}

	symbol, err := parseSell(normalized, Normalize(parentContent))
	if err != nil {
		return intent, err
	}
	intent.Kind, intent.Symbol = domain.IntentSell, symbol
	return intent, nil
}

// Normalize folds diacritics, collapses blanks, strips the blanks around ':'
// and '/' and lowercases msg. Line breaks are kept.
func Normalize(msg string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), msg)
	if err != nil {
		folded = msg
	}
	folded = spacesRe.ReplaceAllString(folded, " ")
	folded = separatorRe.ReplaceAllString(folded, "$1")
	return strings.ToLower(folded)
}

func parseBuy(normalized string) (*domain.TradePlan, error) {
	buyType, buyPrice, err := parseEntry(normalized)
	if err != nil {
		return nil, err
	}

	symbol, err := parseSymbol(normalized)
	if err != nil {
		return nil, err
	}

	targets, err := numbers(targetRe.FindAllStringSubmatch(normalized, -1))
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no targets found", ErrMalformedMessage)
	}

	stopLoss, targets, err := parseStopLoss(normalized, targets)
	if err != nil {
		return nil, err
	}

	plan, err := domain.NewTradePlan(symbol, buyType, buyPrice, targets, stopLoss)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return plan, nil
}

func parseEntry(normalized string) (domain.OrderType, decimal.NullDecimal, error) {
	if marketEntryRe.MatchString(normalized) {
		return domain.OrderTypeMarket, decimal.NullDecimal{}, nil
	}

	for _, re := range []*regexp.Regexp{limitEntryRe, limitOrderRe} {
		if m := re.FindStringSubmatch(normalized); m != nil {
			price, err := parseNumber(m[1])
			if err != nil {
				return "", decimal.NullDecimal{}, err
			}
			return domain.OrderTypeLimit, decimal.NewNullDecimal(price), nil
		}
	}

	return "", decimal.NullDecimal{}, ErrUnknownMessage
}

// parseStopLoss reads the explicit stop loss. Without one, a target quoted
// with a negative percentage is the stop loss and leaves the target list.
// A buy without any stop loss is not a signal.
func parseStopLoss(normalized string, targets []decimal.Decimal) (decimal.Decimal, []decimal.Decimal, error) {
	if m := stopLossRe.FindStringSubmatch(normalized); m != nil {
		stop, err := parseNumber(m[1])
		return stop, targets, err
	}

	m := targetStopRe.FindStringSubmatch(normalized)
	if m == nil {
		return decimal.Zero, nil, ErrUnknownMessage
	}

	stop, err := parseNumber(m[1])
	if err != nil {
		return decimal.Zero, nil, err
	}

	remaining := make([]decimal.Decimal, 0, len(targets))
	removed := false
	for _, target := range targets {
		if !removed && target.Equal(stop) {
			removed = true
			continue
		}
		remaining = append(remaining, target)
	}
	if len(remaining) == 0 {
		return decimal.Zero, nil, fmt.Errorf("%w: only a stop loss target found", ErrMalformedMessage)
	}
	return stop, remaining, nil
}

func parseSell(normalized, parentNormalized string) (string, error) {
	if !containsAny(normalized, sellWords) || containsAny(normalized, keepWords) {
		return "", ErrUnknownMessage
	}

	symbol, err := parseSymbol(normalized)
	if err == nil || parentNormalized == "" {
		return symbol, err
	}
	return parseSymbol(parentNormalized)
}

func parseSymbol(normalized string) (string, error) {
	found := symbolRe.FindAllString(normalized, -1)
	if len(found) != 1 {
		return "", fmt.Errorf("%w: expected one symbol, found %d", ErrMalformedMessage, len(found))
	}

	symbol := strings.ToUpper(strings.ReplaceAll(found[0], "/", ""))
	if strings.Contains(symbol, "USD") && !strings.Contains(symbol, "USDT") {
		symbol = strings.ReplaceAll(symbol, "USD", "USDT")
	}
	return symbol, nil
}

func numbers(matches [][]string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, 0, len(matches))
	for _, m := range matches {
		v, err := parseNumber(m[1])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseNumber(s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSuffix(s, "."))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: number %q", ErrMalformedMessage, s)
	}
	return v, nil
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
