package rooms

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/rpc"
)

// Client calls the room service as one user
type Client struct {
	userID         string
	createRoom     *connect.Client[CreateRoomRequest, CreateRoomResponse]
	getRoom        *connect.Client[GetRoomRequest, GetRoomResponse]
	listRooms      *connect.Client[ListRoomsRequest, ListRoomsResponse]
	joinRoom       *connect.Client[JoinRoomRequest, JoinRoomResponse]
	leaveRoom      *connect.Client[LeaveRoomRequest, LeaveRoomResponse]
	sendMessage    *connect.Client[SendMessageRequest, SendMessageResponse]
	updatePlayback *connect.Client[UpdatePlaybackRequest, UpdatePlaybackResponse]
	deleteRoom     *connect.Client[DeleteRoomRequest, DeleteRoomResponse]
}

// NewClient creates a room service client for baseURL acting as userID
func NewClient(httpClient connect.HTTPClient, baseURL, userID string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = rpc.ClientOptions(opts...)
	return &Client{
		userID:         userID,
		createRoom:     connect.NewClient[CreateRoomRequest, CreateRoomResponse](httpClient, baseURL+CreateRoomProcedure, opts...),
		getRoom:        connect.NewClient[GetRoomRequest, GetRoomResponse](httpClient, baseURL+GetRoomProcedure, opts...),
		listRooms:      connect.NewClient[ListRoomsRequest, ListRoomsResponse](httpClient, baseURL+ListRoomsProcedure, opts...),
		joinRoom:       connect.NewClient[JoinRoomRequest, JoinRoomResponse](httpClient, baseURL+JoinRoomProcedure, opts...),
		leaveRoom:      connect.NewClient[LeaveRoomRequest, LeaveRoomResponse](httpClient, baseURL+LeaveRoomProcedure, opts...),
		sendMessage:    connect.NewClient[SendMessageRequest, SendMessageResponse](httpClient, baseURL+SendMessageProcedure, opts...),
		updatePlayback: connect.NewClient[UpdatePlaybackRequest, UpdatePlaybackResponse](httpClient, baseURL+UpdatePlaybackProcedure, opts...),
		deleteRoom:     connect.NewClient[DeleteRoomRequest, DeleteRoomResponse](httpClient, baseURL+DeleteRoomProcedure, opts...),
	}
}

func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (*models.Room, error) {
	res, err := c.createRoom.CallUnary(ctx, request(c.userID, &req))
	if err != nil {
		return nil, err
	}
	return res.Msg.Room, nil
}

func (c *Client) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	res, err := c.getRoom.CallUnary(ctx, request(c.userID, &GetRoomRequest{ID: id}))
	if err != nil {
		return nil, err
	}
	return res.Msg.Room, nil
}

func (c *Client) ListRooms(ctx context.Context) ([]RoomSummary, error) {
	res, err := c.listRooms.CallUnary(ctx, request(c.userID, &ListRoomsRequest{}))
	if err != nil {
		return nil, err
	}
	return res.Msg.Rooms, nil
}

func (c *Client) JoinRoom(ctx context.Context, roomID string) (*models.Room, bool, error) {
	res, err := c.joinRoom.CallUnary(ctx, request(c.userID, &JoinRoomRequest{RoomID: roomID}))
	if err != nil {
		return nil, false, err
	}
	return res.Msg.Room, res.Msg.Joined, nil
}

func (c *Client) LeaveRoom(ctx context.Context, roomID string) (bool, error) {
	res, err := c.leaveRoom.CallUnary(ctx, request(c.userID, &LeaveRoomRequest{RoomID: roomID}))
	if err != nil {
		return false, err
	}
	return res.Msg.Left, nil
}

func (c *Client) SendMessage(ctx context.Context, roomID, text string) (*models.Message, error) {
	res, err := c.sendMessage.CallUnary(ctx, request(c.userID, &SendMessageRequest{RoomID: roomID, Text: text}))
	if err != nil {
		return nil, err
	}
	return res.Msg.Message, nil
}

func (c *Client) UpdatePlayback(ctx context.Context, roomID string, state models.PlaybackState) (bool, models.PlaybackState, error) {
	res, err := c.updatePlayback.CallUnary(ctx, request(c.userID, &UpdatePlaybackRequest{RoomID: roomID, State: state}))
	if err != nil {
		return false, models.PlaybackState{}, err
	}
	return res.Msg.Accepted, res.Msg.State, nil
}

func (c *Client) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := c.deleteRoom.CallUnary(ctx, request(c.userID, &DeleteRoomRequest{RoomID: roomID}))
	return err
}

func request[T any](userID string, msg *T) *connect.Request[T] {
	req := connect.NewRequest(msg)
	if userID != "" {
		req.Header().Set(rpc.UserIDHeader, userID)
	}
	return req
}
