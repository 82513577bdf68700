package c1x

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thenexusengine/tne_c1x/internal/adapters"
)

func TestMapResponse_BidAndNoBid(t *testing.T) {
	raw := []byte(`[
		{"bid":true,"adId":"div-1","cpm":3.31,"ad":"<div>ad</div>","width":300,"height":250},
		{"bid":false,"adId":"div-2"}
	]`)

	results := MapResponse(raw)
	require.Len(t, results, 2)

	assert.Equal(t, adapters.BidResult{
		AdUnitCode: "div-1",
		Bidder:     "c1x",
		CPM:        3.31,
		Ad:         "<div>ad</div>",
		Width:      300,
		Height:     250,
		Status:     adapters.BidStatusAvailable,
	}, results[0])

	assert.Equal(t, adapters.BidResult{
		AdUnitCode: "div-2",
		Bidder:     "c1x",
		Status:     adapters.BidStatusEmpty,
	}, results[1])
}

func TestMapResponse_NoBidIgnoresPayloadFields(t *testing.T) {
	results := MapResponse([]byte(`[{"bid":false,"adId":"x","cpm":9,"ad":"<b>","width":1,"height":1}]`))
	require.Len(t, results, 1)

	assert.Equal(t, adapters.BidStatusEmpty, results[0].Status)
	assert.Zero(t, results[0].CPM)
	assert.Empty(t, results[0].Ad)
	assert.Zero(t, results[0].Width)
	assert.Zero(t, results[0].Height)
}

func TestMapResponse_PreservesOrderAndDuplicates(t *testing.T) {
	raw := []byte(`[
		{"bid":true,"adId":"b","cpm":1,"ad":"1","width":1,"height":1},
		{"bid":true,"adId":"a","cpm":2,"ad":"2","width":1,"height":1},
		{"bid":true,"adId":"b","cpm":3,"ad":"3","width":1,"height":1}
	]`)

	results := MapResponse(raw)
	require.Len(t, results, 3)

	codes := []string{results[0].AdUnitCode, results[1].AdUnitCode, results[2].AdUnitCode}
	assert.Equal(t, []string{"b", "a", "b"}, codes)
	assert.Equal(t, 3.0, results[2].CPM)
}

func TestMapResponse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", "  \n"},
		{"null", "null"},
		{"not json", "<html>502</html>"},
		{"object", `{"bid":true}`},
		{"truncated", `[{"bid":true,"adId":"x"`},
		{"string", `"oops"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var results []adapters.BidResult
			require.NotPanics(t, func() {
				results = MapResponse([]byte(tt.raw))
			})
			assert.NotNil(t, results)
			assert.Empty(t, results)
		})
	}
}

func TestMapResponse_SkipsBadEntries(t *testing.T) {
	raw := []byte(`[
		{"bid":true,"adId":"ok","cpm":1.5,"ad":"x","width":300,"height":250},
		{"bid":true,"adId":"bad","cpm":"abc"},
		"not an object",
		null,
		42,
		{"bid":false,"adId":"empty"}
	]`)

	results := MapResponse(raw)
	require.Len(t, results, 2)
	assert.Equal(t, "ok", results[0].AdUnitCode)
	assert.Equal(t, "empty", results[1].AdUnitCode)
	assert.Equal(t, adapters.BidStatusEmpty, results[1].Status)

	assert.Empty(t, MapResponse([]byte(`[null]`)))
}

func TestMapResponse_NoBidWithJunkFields(t *testing.T) {
	raw := []byte(`[
		{"bid":false,"adId":"y","cpm":"n/a"},
		{"bid":false,"adId":"z","width":1.5e2,"height":{"h":1},"ad":7}
	]`)

	results := MapResponse(raw)
	require.Len(t, results, 2)
	for i, code := range []string{"y", "z"} {
		assert.Equal(t, code, results[i].AdUnitCode)
		assert.Equal(t, adapters.BidStatusEmpty, results[i].Status)
		assert.Zero(t, results[i].CPM)
		assert.Zero(t, results[i].Width)
	}
}

func TestMapResponse_FractionalSizes(t *testing.T) {
	raw := []byte(`[
		{"bid":true,"adId":"x","cpm":3.31,"ad":"<div/>","width":300.0,"height":250},
		{"bid":true,"adId":"w","cpm":1,"ad":"a","width":1.5e2,"height":"90.0"}
	]`)

	results := MapResponse(raw)
	require.Len(t, results, 2)

	assert.Equal(t, adapters.BidStatusAvailable, results[0].Status)
	assert.Equal(t, 3.31, results[0].CPM)
	assert.Equal(t, "<div/>", results[0].Ad)
	assert.Equal(t, 300, results[0].Width)
	assert.Equal(t, 250, results[0].Height)

	assert.Equal(t, 150, results[1].Width)
	assert.Equal(t, 90, results[1].Height)
}

func TestMapResponse_StringNumbers(t *testing.T) {
	results := MapResponse([]byte(`[{"bid":true,"adId":"x","cpm":"2.5","ad":"a","width":"728","height":"90"}]`))
	require.Len(t, results, 1)

	assert.Equal(t, 2.5, results[0].CPM)
	assert.Equal(t, 728, results[0].Width)
	assert.Equal(t, 90, results[0].Height)
}

func TestMapResponse_Callback(t *testing.T) {
	raw := []byte(`_c1xResponse([{"bid":true,"adId":"div-1","cpm":1,"ad":"a","width":300,"height":250}]);`)

	results := MapResponse(raw)
	require.Len(t, results, 1)
	assert.Equal(t, "div-1", results[0].AdUnitCode)
	assert.Equal(t, adapters.BidStatusAvailable, results[0].Status)
}

func TestMapResponse_EmptyArray(t *testing.T) {
	results := MapResponse([]byte(`[]`))
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestParseResponse_Errors(t *testing.T) {
	_, err := parseResponse([]byte("{"))
	assert.ErrorIs(t, err, ErrMalformedResponse)

	results, err := parseResponse(nil)
	assert.NoError(t, err)
	assert.Empty(t, results)
}
