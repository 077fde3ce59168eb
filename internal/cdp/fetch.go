package cdp

import (
	"context"
	"fmt"

	"github.com/rsclarke/netcap/internal/capture"
	"github.com/rsclarke/netcap/internal/events"
)

const getResponseBody = "Network.getResponseBody"

// FetchBody retrieves a finished response body from the page session conn.
// It implements capture.BodyFetcher.
func (c *Conn) FetchBody(ctx context.Context, conn events.ConnID, id events.TxID) (capture.Body, error) {
	var res struct {
		Body          string `json:"body"`
		Base64Encoded bool   `json:"base64Encoded"`
	}
	params := map[string]string{"requestId": string(id)}
	if err := c.Call(ctx, string(conn), getResponseBody, params, &res); err != nil {
		return capture.Body{}, fmt.Errorf("get response body: %w", err)
	}
	return capture.Body{Data: res.Body, Base64Encoded: res.Base64Encoded}, nil
}
