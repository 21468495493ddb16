package listing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Listing is the structured sale listing produced from a conversation.
type Listing struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Category    string  `json:"category"`
}

// UnmarshalJSON accepts the price either as a JSON number or as a numeric
// string. Some pricing flows emit "49.99" instead of 49.99; the value is
// always stored as a number.
func (l *Listing) UnmarshalJSON(data []byte) error {
	var raw struct {
		Title       string          `json:"title"`
		Description string          `json:"description"`
		Price       json.RawMessage `json:"price"`
		Category    string          `json:"category"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	price, err := parsePrice(raw.Price)
	if err != nil {
		return err
	}

	*l = Listing{
		Title:       raw.Title,
		Description: raw.Description,
		Price:       price,
		Category:    raw.Category,
	}
	return nil
}

func parsePrice(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("price must be a number or numeric string: %s", raw)
	}

	// Tolerate a leading currency symbol and thousands separators, e.g. "£1,299.00"
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "£$€ ")
	s = strings.ReplaceAll(s, ",", "")
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}
	return n, nil
}

// Clone returns a copy of the listing, or nil for a nil receiver.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}
