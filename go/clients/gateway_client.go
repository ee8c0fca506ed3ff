package clients

import (
	"context"
	"net/http"
	"net/url"

	"github.com/mcdev12/watchparty/go/internal/gateway"
	"github.com/mcdev12/watchparty/go/internal/rpc"
)

// GatewayClient reads live room state from the gateway's REST routes
type GatewayClient struct {
	*BaseClient
}

// NewGatewayClient creates a client for the server at baseURL acting as userID
func NewGatewayClient(baseURL, userID string, httpClient *http.Client) *GatewayClient {
	base := NewBaseClient(baseURL, httpClient)
	if userID != "" {
		base.SetHeader(rpc.UserIDHeader, userID)
	}
	return &GatewayClient{BaseClient: base}
}

// RoomState returns the live state of one room
func (c *GatewayClient) RoomState(ctx context.Context, roomID string) (*gateway.RoomStateResponse, error) {
	var state gateway.RoomStateResponse
	if err := c.GetJSON(ctx, "/api/rooms/"+url.PathEscape(roomID)+"/state", &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ActiveRooms lists rooms with open sockets
func (c *GatewayClient) ActiveRooms(ctx context.Context) ([]gateway.ActiveRoom, error) {
	var rooms []gateway.ActiveRoom
	if err := c.GetJSON(ctx, "/api/rooms/active", &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}
