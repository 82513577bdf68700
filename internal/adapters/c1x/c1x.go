// Package c1x implements the C1X header-tag bidder adapter
package c1x

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/thenexusengine/tne_c1x/internal/adapters"
	"github.com/thenexusengine/tne_c1x/internal/config"
	"github.com/thenexusengine/tne_c1x/internal/usersync"
	"github.com/thenexusengine/tne_c1x/pkg/logger"
)

const (
	// BidderCode is the name results are reported under
	BidderCode = "c1x"

	pixelURLTemplate = "{{protocol}}//px.c1exchange.com/pubpixel/{{pixel_id}}"
)

// Adapter implements the C1X bidder. One auction round becomes one GET.
type Adapter struct {
	endpoint   string
	translator *Translator
}

// New creates a new C1X adapter. endpoint replaces the default header-tag
// server unless an ad unit overrides it.
func New(endpoint string) *Adapter {
	return &Adapter{
		endpoint:   endpoint,
		translator: NewTranslator(nil),
	}
}

// NewWithClock creates an adapter whose cache buster comes from now
func NewWithClock(endpoint string, now func() time.Time) *Adapter {
	return &Adapter{
		endpoint:   endpoint,
		translator: NewTranslator(now),
	}
}

// MakeRequests builds the single header-tag request for the round
func (a *Adapter) MakeRequests(request *adapters.AuctionRequest, extraInfo *adapters.ExtraRequestInfo) ([]*adapters.RequestData, []error) {
	units, err := AdUnitRequests(request)
	if err != nil {
		return nil, []error{adapters.NewBadInputError(BidderCode, err)}
	}

	translation, err := a.translator.Translate(units, a.settings(request, extraInfo))
	if err != nil {
		logger.Bidder(BidderCode).Warn().
			Err(err).
			Str("auction_id", request.ID).
			Str("publisher_id", request.PublisherID).
			Msg("c1x round not sent")
		return nil, []error{adapters.NewBadInputError(BidderCode, err)}
	}

	headers := http.Header{}
	headers.Set("Accept", "application/json")

	return []*adapters.RequestData{{
		Method:  translation.Request.Method,
		URI:     translation.Request.URL,
		Headers: headers,
	}}, nil
}

// MakeBids maps the header-tag response into one result per entry
func (a *Adapter) MakeBids(request *adapters.AuctionRequest, responseData *adapters.ResponseData) (*adapters.BidderResponse, []error) {
	if responseData.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	if responseData.StatusCode != http.StatusOK {
		return nil, []error{adapters.NewBadStatusError(BidderCode, responseData.StatusCode)}
	}

	results, err := parseResponse(responseData.Body)
	if err != nil {
		return &adapters.BidderResponse{Results: []adapters.BidResult{}}, []error{adapters.NewParseError(BidderCode, err)}
	}

	return &adapters.BidderResponse{Results: results}, nil
}

// PixelSync returns the delayed audience pixel for the round, if any
func (a *Adapter) PixelSync(request *adapters.AuctionRequest, extraInfo *adapters.ExtraRequestInfo) *usersync.PixelTask {
	units, err := AdUnitRequests(request)
	if err != nil {
		return nil
	}
	return a.translator.PixelTask(units, a.settings(request, extraInfo))
}

func (a *Adapter) settings(request *adapters.AuctionRequest, extraInfo *adapters.ExtraRequestInfo) Settings {
	var settings Settings
	if extraInfo != nil {
		settings = SettingsFromMap(extraInfo.BidderSettings)
	}
	if request.Secure {
		settings.Secure = true
	}
	if settings.Endpoint == "" {
		settings.Endpoint = a.endpoint
	}
	return settings
}

// AdUnitRequests reads the C1X params of every ad unit, keeping page order
func AdUnitRequests(request *adapters.AuctionRequest) ([]AdUnitRequest, error) {
	units := make([]AdUnitRequest, 0, len(request.AdUnits))
	for _, adUnit := range request.AdUnits {
		var ext ExtImpC1X
		if len(adUnit.Params) > 0 {
			if err := json.Unmarshal(adUnit.Params, &ext); err != nil {
				return nil, fmt.Errorf("invalid c1x params for ad unit %s: %w", adUnit.Code, err)
			}
		}
		units = append(units, AdUnitRequest{
			Identifier:       adUnit.Code,
			Sizes:            adUnit.Sizes,
			SiteAccountID:    string(ext.SiteID),
			FloorPriceBySize: ext.FloorPriceMap,
			PixelSyncID:      string(ext.PixelID),
			EndpointOverride: ext.Endpoint,
			DSPIdentifier:    string(ext.DSPID),
		})
	}
	return units, nil
}

// Info returns bidder information
func Info() adapters.BidderInfo {
	return adapters.BidderInfo{
		Enabled:    true,
		MediaTypes: []adapters.BidType{adapters.BidTypeBanner},
		Syncer: &adapters.SyncerInfo{
			Supports: []string{string(usersync.SyncTypePixel)},
		},
		Endpoint: config.DefaultC1XEndpoint,
	}
}

var (
	_ adapters.Adapter    = (*Adapter)(nil)
	_ adapters.UserSyncer = (*Adapter)(nil)
)

func init() {
	if err := adapters.RegisterAdapter(BidderCode, New(""), Info()); err != nil {
		panic(fmt.Sprintf("failed to register c1x adapter: %v", err))
	}
}
