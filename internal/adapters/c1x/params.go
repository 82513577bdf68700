package c1x

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// ExtImpC1X holds the per-ad-unit bidder params as publishers write them
// in their ad unit config
type ExtImpC1X struct {
	SiteID        flexString                 `json:"siteId,omitempty"`
	PixelID       flexString                 `json:"pixelId,omitempty"`
	FloorPriceMap map[string]decimal.Decimal `json:"floorPriceMap,omitempty"`
	Endpoint      string                     `json:"endpoint,omitempty"`
	DSPID         flexString                 `json:"dspid,omitempty"`
}

// flexString accepts a JSON string or number. Publishers configure ids
// like siteId and dspid either way.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*s = flexString(num.String())
	return nil
}

// flexFloat accepts a JSON number or a numeric string
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	raw, err := unquoteNumber(data)
	if err != nil || raw == "" {
		*f = 0
		return err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", raw, err)
	}
	*f = flexFloat(v)
	return nil
}

// flexInt accepts any JSON number or numeric string. Fractions are
// truncated, so 300.0 and 1.5e2 read as whole pixels.
type flexInt int

func (i *flexInt) UnmarshalJSON(data []byte) error {
	raw, err := unquoteNumber(data)
	if err != nil || raw == "" {
		*i = 0
		return err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("invalid integer %q", raw)
	}
	*i = flexInt(v)
	return nil
}

func unquoteNumber(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return "", err
		}
		return str, nil
	}
	return string(data), nil
}
