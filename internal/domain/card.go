package domain

import "strconv"

// Card represents a planning poker card value.
type Card string

// Available planning poker cards. The non-numeric sentinels are valid votes
// but are excluded from average/median/consensus computation.
const (
	Zero     Card = "0"
	One      Card = "1"
	Two      Card = "2"
	Three    Card = "3"
	Five     Card = "5"
	Eight    Card = "8"
	Thirteen Card = "13"
	Twenty   Card = "20"
	Forty    Card = "40"
	Hundred  Card = "100"
	Unknown  Card = "unknown"
	Question Card = "?"
	Coffee   Card = "coffee"
	Infinity Card = "infinity"
)

var deck = map[Card]struct{}{
	Zero: {}, One: {}, Two: {}, Three: {}, Five: {}, Eight: {},
	Thirteen: {}, Twenty: {}, Forty: {}, Hundred: {},
	Unknown: {}, Question: {}, Coffee: {}, Infinity: {},
}

// ValidCard reports whether v is a playable card value.
func ValidCard(v string) bool {
	_, ok := deck[Card(v)]
	return ok
}

// Numeric returns the card's numeric value, or false for sentinel cards.
func (c Card) Numeric() (float64, bool) {
	n, err := strconv.ParseFloat(string(c), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
