package adapters

import (
	"context"
	"net/http"

	"github.com/thenexusengine/tne_c1x/internal/usersync"
)

// PixelFirer fires audience pixels server-side through the bidder HTTP client
type PixelFirer struct {
	client HTTPClient
}

// NewPixelFirer creates a pixel firer
func NewPixelFirer(client HTTPClient) *PixelFirer {
	return &PixelFirer{client: client}
}

// Fire requests the pixel image and discards it
func (f *PixelFirer) Fire(ctx context.Context, task *usersync.PixelTask) error {
	resp, err := f.client.Do(ctx, &RequestData{
		Method:  http.MethodGet,
		URI:     task.URL,
		Headers: http.Header{"Accept": []string{"image/*"}},
	}, 0)
	if err != nil {
		return NewTransportError(task.Bidder, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return NewBadStatusError(task.Bidder, resp.StatusCode)
	}
	return nil
}

var _ usersync.Firer = (*PixelFirer)(nil)
