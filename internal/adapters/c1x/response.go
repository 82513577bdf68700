package c1x

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/thenexusengine/tne_c1x/internal/adapters"
	"github.com/thenexusengine/tne_c1x/pkg/logger"
)

// VendorResult is one entry of the header-tag server's response array
type VendorResult struct {
	Bid    bool      `json:"bid"`
	AdID   string    `json:"adId"`
	CPM    flexFloat `json:"cpm"`
	Ad     string    `json:"ad"`
	Width  flexInt   `json:"width"`
	Height flexInt   `json:"height"`
}

// ErrMalformedResponse means the payload is not a JSON array of results
var ErrMalformedResponse = errors.New("malformed c1x response")

// MapResponse maps a raw header-tag response into one result per entry, in
// payload order. Unparseable payloads yield no results.
func MapResponse(raw []byte) []adapters.BidResult {
	results, err := parseResponse(raw)
	if err != nil {
		logger.Bidder(BidderCode).Debug().
			Err(err).
			Int("bytes", len(raw)).
			Msg("discarding c1x response")
		return []adapters.BidResult{}
	}
	return results
}

func parseResponse(raw []byte) ([]adapters.BidResult, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return []adapters.BidResult{}, nil
	}
	payload = unwrapCallback(payload)

	var entries []json.RawMessage
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	results := make([]adapters.BidResult, 0, len(entries))
	for i, entry := range entries {
		vr, err := decodeEntry(entry)
		if err != nil {
			logger.Bidder(BidderCode).Debug().
				Err(err).
				Int("index", i).
				Msg("skipping malformed c1x result")
			continue
		}
		results = append(results, vr.toBidResult())
	}
	return results, nil
}

// decodeEntry reads bid and adId first. Payload fields are only read for
// bids, so a no-bid entry maps to Empty whatever else it carries.
func decodeEntry(entry json.RawMessage) (VendorResult, error) {
	var vr VendorResult
	entry = bytes.TrimSpace(entry)
	if len(entry) == 0 || entry[0] != '{' {
		return vr, fmt.Errorf("entry is not an object: %.20s", entry)
	}

	var head struct {
		Bid  bool   `json:"bid"`
		AdID string `json:"adId"`
	}
	if err := json.Unmarshal(entry, &head); err != nil {
		return vr, err
	}
	if !head.Bid {
		return VendorResult{AdID: head.AdID}, nil
	}

	if err := json.Unmarshal(entry, &vr); err != nil {
		return vr, err
	}
	return vr, nil
}

func (vr VendorResult) toBidResult() adapters.BidResult {
	if !vr.Bid {
		return adapters.BidResult{
			AdUnitCode: vr.AdID,
			Bidder:     BidderCode,
			Status:     adapters.BidStatusEmpty,
		}
	}
	return adapters.BidResult{
		AdUnitCode: vr.AdID,
		Bidder:     BidderCode,
		CPM:        float64(vr.CPM),
		Ad:         vr.Ad,
		Width:      int(vr.Width),
		Height:     int(vr.Height),
		Status:     adapters.BidStatusAvailable,
	}
}

// unwrapCallback strips a JSONP wrapper such as _c1xResponse([...])
func unwrapCallback(payload []byte) []byte {
	if payload[0] == '[' || payload[0] == '{' {
		return payload
	}
	open := bytes.IndexByte(payload, '(')
	end := bytes.LastIndexByte(payload, ')')
	if open <= 0 || end <= open {
		return payload
	}
	return bytes.TrimSpace(payload[open+1 : end])
}
