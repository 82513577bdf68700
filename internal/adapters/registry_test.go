package adapters

import (
	"testing"
)

type stubAdapter struct{}

func (stubAdapter) MakeRequests(*AuctionRequest, *ExtraRequestInfo) ([]*RequestData, []error) {
	return nil, nil
}

func (stubAdapter) MakeBids(*AuctionRequest, *ResponseData) (*BidderResponse, []error) {
	return nil, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("C1X", stubAdapter{}, BidderInfo{Enabled: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	awi, ok := r.Get("c1x")
	if !ok {
		t.Fatal("expected adapter to be registered under lower-case code")
	}
	if !awi.Info.Enabled {
		t.Error("expected info to be stored")
	}

	if _, ok := r.Get("missing"); ok {
		t.Error("expected missing bidder lookup to fail")
	}
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("c1x", stubAdapter{}, BidderInfo{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name    string
		code    string
		adapter Adapter
	}{
		{"duplicate", "c1x", stubAdapter{}},
		{"empty code", "  ", stubAdapter{}},
		{"nil adapter", "other", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Register(tt.code, tt.adapter, BidderInfo{}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()
	r.Register("zeta", stubAdapter{}, BidderInfo{Enabled: true})
	r.Register("alpha", stubAdapter{}, BidderInfo{Enabled: false})
	r.Register("c1x", stubAdapter{}, BidderInfo{Enabled: true})

	all := r.ListBidders()
	if len(all) != 3 || all[0] != "alpha" || all[1] != "c1x" || all[2] != "zeta" {
		t.Errorf("unexpected bidders: %v", all)
	}

	enabled := r.ListEnabledBidders()
	if len(enabled) != 2 || enabled[0] != "c1x" || enabled[1] != "zeta" {
		t.Errorf("unexpected enabled bidders: %v", enabled)
	}
}
