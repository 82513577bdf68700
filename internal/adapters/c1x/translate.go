package c1x

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/thenexusengine/tne_c1x/internal/adapters"
	"github.com/thenexusengine/tne_c1x/internal/config"
	"github.com/thenexusengine/tne_c1x/internal/usersync"
)

var (
	// ErrMissingSiteID means neither the ad units nor the settings carry a
	// site id. The round is abandoned.
	ErrMissingSiteID = errors.New("no site id supplied")
	// ErrNoAdUnits means the round has nothing to bid on
	ErrNoAdUnits = errors.New("no ad units supplied")
	// ErrNoSizes means an ad unit lists no creative sizes
	ErrNoSizes = errors.New("ad unit has no sizes")
	// ErrMissingIdentifier means an ad unit has no code to correlate results by
	ErrMissingIdentifier = errors.New("ad unit has no identifier")
)

// AdUnitRequest is one ad unit as the translator sees it
type AdUnitRequest struct {
	Identifier       string
	Sizes            []adapters.Size
	SiteAccountID    string
	FloorPriceBySize map[string]decimal.Decimal
	PixelSyncID      string
	EndpointOverride string
	DSPIdentifier    string
}

// Settings are the host-level fallbacks used when the ad units leave a
// value unset
type Settings struct {
	SiteID       string
	PixelID      string
	Endpoint     string
	DSPID        string
	JSONResponse bool
	Secure       bool
}

// Setting keys understood by SettingsFromMap
const (
	SettingSiteID   = "siteId"
	SettingPixelID  = "pixelId"
	SettingEndpoint = "endpoint"
	SettingDSPID    = "dspid"
	SettingResponse = "response"
	SettingSecure   = "secure"
)

// SettingsFromMap reads settings from a flat key/value map such as a
// settings store row
func SettingsFromMap(values map[string]string) Settings {
	secure, _ := strconv.ParseBool(values[SettingSecure])
	return Settings{
		SiteID:       strings.TrimSpace(values[SettingSiteID]),
		PixelID:      strings.TrimSpace(values[SettingPixelID]),
		Endpoint:     strings.TrimSpace(values[SettingEndpoint]),
		DSPID:        strings.TrimSpace(values[SettingDSPID]),
		JSONResponse: strings.EqualFold(strings.TrimSpace(values[SettingResponse]), "json"),
		Secure:       secure,
	}
}

// QueryParam is a single key/value pair of the outbound query
type QueryParam struct {
	Key   string
	Value string
}

// OutboundRequest is the single GET sent to the header-tag server for a round
type OutboundRequest struct {
	Method   string
	Endpoint string
	Params   []QueryParam
	URL      string
}

// Query returns the encoded query string without the leading '?'
func (r *OutboundRequest) Query() string {
	return encodeParams(r.Params)
}

// Translation is everything a round produces before the network call
type Translation struct {
	SiteID  string
	Request *OutboundRequest
	// Pixel is nil when no pixel id is configured
	Pixel *usersync.PixelTask
}

// Translator turns ad units into the header-tag query
type Translator struct {
	syncer *usersync.Syncer
	now    func() time.Time
}

// NewTranslator creates a translator. now supplies the cache buster and
// defaults to time.Now.
func NewTranslator(now func() time.Time) *Translator {
	if now == nil {
		now = time.Now
	}
	return &Translator{
		syncer: usersync.NewSyncer(usersync.SyncerConfig{
			BidderCode: BidderCode,
			PixelURL:   pixelURLTemplate,
			Delay:      config.PixelFireDelay,
			Enabled:    true,
		}),
		now: now,
	}
}

var defaultTranslator = NewTranslator(nil)

// Translate builds the outbound request for units using the wall clock
func Translate(units []AdUnitRequest, settings Settings) (*Translation, error) {
	return defaultTranslator.Translate(units, settings)
}

// Validate reports whether unit can be sent
func Validate(unit AdUnitRequest) error {
	if strings.TrimSpace(unit.Identifier) == "" {
		return ErrMissingIdentifier
	}
	if len(unit.Sizes) == 0 {
		return ErrNoSizes
	}
	return nil
}

// Translate builds the outbound request for one round. Parameter keys are
// derived from each unit's 1-based position, so units must be passed in
// page order.
func (t *Translator) Translate(units []AdUnitRequest, settings Settings) (*Translation, error) {
	if len(units) == 0 {
		return nil, ErrNoAdUnits
	}

	siteID := resolve(units, settings.SiteID, func(u AdUnitRequest) string { return u.SiteAccountID })
	if siteID == "" {
		return nil, ErrMissingSiteID
	}

	for i, unit := range units {
		if err := Validate(unit); err != nil {
			return nil, &UnitError{Position: i + 1, Identifier: unit.Identifier, Err: err}
		}
	}

	params := make([]QueryParam, 0, len(units)*3+6)
	for i, unit := range units {
		key := "a" + strconv.Itoa(i+1)
		sizes := formatSizes(unit.Sizes)

		params = append(params,
			QueryParam{Key: key, Value: unit.Identifier},
			QueryParam{Key: key + "s", Value: "[" + strings.Join(sizes, ",") + "]"},
		)
		if floor, ok := floorPrice(sizes, unit.FloorPriceBySize); ok {
			params = append(params, QueryParam{Key: key + "p", Value: floor.String()})
		}
	}

	params = append(params,
		QueryParam{Key: "rnd", Value: strconv.FormatInt(t.now().UnixMilli(), 10)},
		QueryParam{Key: "adunits", Value: strconv.Itoa(len(units))},
		QueryParam{Key: "site", Value: siteID},
	)
	if dspid := resolve(units, settings.DSPID, func(u AdUnitRequest) string { return u.DSPIdentifier }); dspid != "" {
		params = append(params, QueryParam{Key: "dspid", Value: dspid})
	}
	if settings.JSONResponse {
		params = append(params,
			QueryParam{Key: "response", Value: "json"},
			QueryParam{Key: "compress", Value: "gzip"},
		)
	}

	endpoint := resolve(units, settings.Endpoint, func(u AdUnitRequest) string { return u.EndpointOverride })
	if endpoint == "" {
		endpoint = config.DefaultC1XEndpoint
	}

	request := &OutboundRequest{
		Method:   http.MethodGet,
		Endpoint: endpoint,
		Params:   params,
	}
	request.URL = buildURL(endpoint, request.Query())

	return &Translation{
		SiteID:  siteID,
		Request: request,
		Pixel:   t.pixelTask(units, settings),
	}, nil
}

// PixelTask returns the audience pixel for a round, or nil when the round
// would not be sent or has no pixel id
func (t *Translator) PixelTask(units []AdUnitRequest, settings Settings) *usersync.PixelTask {
	if len(units) == 0 {
		return nil
	}
	if resolve(units, settings.SiteID, func(u AdUnitRequest) string { return u.SiteAccountID }) == "" {
		return nil
	}
	return t.pixelTask(units, settings)
}

func (t *Translator) pixelTask(units []AdUnitRequest, settings Settings) *usersync.PixelTask {
	pixelID := resolve(units, settings.PixelID, func(u AdUnitRequest) string { return u.PixelSyncID })
	if pixelID == "" {
		return nil
	}
	task, err := t.syncer.PixelTask(pixelID, settings.Secure)
	if err != nil {
		return nil
	}
	return task
}

// UnitError identifies the ad unit that made a round invalid
type UnitError struct {
	Position   int
	Identifier string
	Err        error
}

func (e *UnitError) Error() string {
	return "ad unit " + strconv.Itoa(e.Position) + " (" + e.Identifier + "): " + e.Err.Error()
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

// resolve returns the first non-empty value among the units, then fallback
func resolve(units []AdUnitRequest, fallback string, field func(AdUnitRequest) string) string {
	for _, unit := range units {
		if v := strings.TrimSpace(field(unit)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(fallback)
}

func formatSizes(sizes []adapters.Size) []string {
	out := make([]string, len(sizes))
	for i, size := range sizes {
		out[i] = strconv.Itoa(size.W) + "x" + strconv.Itoa(size.H)
	}
	return out
}

// floorPrice scans sizes in order. Each size with a floor replaces the
// previous match, so the last listed size with a floor wins.
func floorPrice(sizes []string, floors map[string]decimal.Decimal) (decimal.Decimal, bool) {
	var (
		floor decimal.Decimal
		found bool
	)
	for _, size := range sizes {
		if price, ok := floors[size]; ok {
			floor, found = price, true
		}
	}
	return floor, found
}

// listChars stay literal so list values read [300x250,728x90]
var listChars = strings.NewReplacer("%5B", "[", "%5D", "]", "%2C", ",")

func escapeValue(v string) string {
	return listChars.Replace(url.QueryEscape(v))
}

func encodeParams(params []QueryParam) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(escapeValue(p.Value))
	}
	return b.String()
}

func buildURL(endpoint, query string) string {
	sep := "?"
	switch {
	case strings.HasSuffix(endpoint, "?"), strings.HasSuffix(endpoint, "&"):
		sep = ""
	case strings.Contains(endpoint, "?"):
		sep = "&"
	}
	return endpoint + sep + query
}
