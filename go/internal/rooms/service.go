package rooms

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/rpc"
)

// RoomServiceName is the fully-qualified name of the room service
const RoomServiceName = "watchparty.room.v1.RoomService"

// Procedure paths of the room service
const (
	CreateRoomProcedure     = "/" + RoomServiceName + "/CreateRoom"
	GetRoomProcedure        = "/" + RoomServiceName + "/GetRoom"
	ListRoomsProcedure      = "/" + RoomServiceName + "/ListRooms"
	JoinRoomProcedure       = "/" + RoomServiceName + "/JoinRoom"
	LeaveRoomProcedure      = "/" + RoomServiceName + "/LeaveRoom"
	SendMessageProcedure    = "/" + RoomServiceName + "/SendMessage"
	UpdatePlaybackProcedure = "/" + RoomServiceName + "/UpdatePlayback"
	DeleteRoomProcedure     = "/" + RoomServiceName + "/DeleteRoom"
)

type CreateRoomResponse struct {
	Room *models.Room `json:"room"`
}

type GetRoomRequest struct {
	ID string `json:"id"`
}

type GetRoomResponse struct {
	Room *models.Room `json:"room"`
}

type ListRoomsRequest struct{}

type ListRoomsResponse struct {
	Rooms []RoomSummary `json:"rooms"`
}

type JoinRoomRequest struct {
	RoomID string `json:"room_id"`
}

type JoinRoomResponse struct {
	Room   *models.Room `json:"room"`
	Joined bool         `json:"joined"`
}

type LeaveRoomRequest struct {
	RoomID string `json:"room_id"`
}

type LeaveRoomResponse struct {
	Left bool `json:"left"`
}

type SendMessageRequest struct {
	RoomID string `json:"room_id"`
	Text   string `json:"text"`
}

type SendMessageResponse struct {
	Message *models.Message `json:"message"`
}

type UpdatePlaybackRequest struct {
	RoomID string               `json:"room_id"`
	State  models.PlaybackState `json:"state"`
}

type UpdatePlaybackResponse struct {
	Accepted bool                 `json:"accepted"`
	State    models.PlaybackState `json:"state"`
}

type DeleteRoomRequest struct {
	RoomID string `json:"room_id"`
}

type DeleteRoomResponse struct{}

// RoomsApp defines what the service layer needs from the rooms application
type RoomsApp interface {
	CreateRoom(ctx context.Context, user *models.User, req CreateRoomRequest) (*models.Room, error)
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	ListRooms(ctx context.Context) ([]*models.Room, error)
	JoinRoom(ctx context.Context, user *models.User, roomID string) (*models.Room, bool, error)
	LeaveRoom(ctx context.Context, user *models.User, roomID string) (bool, error)
	SendMessage(ctx context.Context, user *models.User, roomID, text string) (*models.Message, error)
	UpdatePlayback(ctx context.Context, user *models.User, roomID string, state models.PlaybackState) (bool, error)
	DeleteRoom(ctx context.Context, user *models.User, roomID string) error
}

// UserResolver looks up the caller named by the user id header
type UserResolver interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// StateReader returns a room's canonical playback state
type StateReader interface {
	GetState(roomID string) (models.PlaybackState, bool)
}

// Service implements the RoomService connect handlers
type Service struct {
	app    RoomsApp
	users  UserResolver
	states StateReader
}

// NewService creates a new rooms service
func NewService(app RoomsApp, users UserResolver, states StateReader) *Service {
	return &Service{
		app:    app,
		users:  users,
		states: states,
	}
}

// Handler returns the service's mount path and HTTP handler
func (s *Service) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = rpc.HandlerOptions(opts...)
	mux := http.NewServeMux()
	mux.Handle(CreateRoomProcedure, connect.NewUnaryHandler(CreateRoomProcedure, s.CreateRoom, opts...))
	mux.Handle(GetRoomProcedure, connect.NewUnaryHandler(GetRoomProcedure, s.GetRoom, opts...))
	mux.Handle(ListRoomsProcedure, connect.NewUnaryHandler(ListRoomsProcedure, s.ListRooms, opts...))
	mux.Handle(JoinRoomProcedure, connect.NewUnaryHandler(JoinRoomProcedure, s.JoinRoom, opts...))
	mux.Handle(LeaveRoomProcedure, connect.NewUnaryHandler(LeaveRoomProcedure, s.LeaveRoom, opts...))
	mux.Handle(SendMessageProcedure, connect.NewUnaryHandler(SendMessageProcedure, s.SendMessage, opts...))
	mux.Handle(UpdatePlaybackProcedure, connect.NewUnaryHandler(UpdatePlaybackProcedure, s.UpdatePlayback, opts...))
	mux.Handle(DeleteRoomProcedure, connect.NewUnaryHandler(DeleteRoomProcedure, s.DeleteRoom, opts...))
	return "/" + RoomServiceName + "/", mux
}

// CreateRoom creates a new room owned by the caller
func (s *Service) CreateRoom(ctx context.Context, req *connect.Request[CreateRoomRequest]) (*connect.Response[CreateRoomResponse], error) {
	user, err := s.caller(ctx, req.Header())
	if err != nil {
		return nil, err
	}
	room, err := s.app.CreateRoom(ctx, user, *req.Msg)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&CreateRoomResponse{Room: room}), nil
}

// GetRoom retrieves a room by ID
func (s *Service) GetRoom(ctx context.Context, req *connect.Request[GetRoomRequest]) (*connect.Response[GetRoomResponse], error) {
	if req.Msg.ID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("id is required"))
	}
	room, err := s.app.GetRoom(ctx, req.Msg.ID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetRoomResponse{Room: room}), nil
}

// ListRooms returns the lobby, newest first
func (s *Service) ListRooms(ctx context.Context, _ *connect.Request[ListRoomsRequest]) (*connect.Response[ListRoomsResponse], error) {
	list, err := s.app.ListRooms(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	summaries := make([]RoomSummary, 0, len(list))
	for _, room := range list {
		summaries = append(summaries, Summarize(room))
	}
	return connect.NewResponse(&ListRoomsResponse{Rooms: summaries}), nil
}

// JoinRoom adds the caller to a room
func (s *Service) JoinRoom(ctx context.Context, req *connect.Request[JoinRoomRequest]) (*connect.Response[JoinRoomResponse], error) {
	user, err := s.caller(ctx, req.Header())
	if err != nil {
		return nil, err
	}
	room, joined, err := s.app.JoinRoom(ctx, user, req.Msg.RoomID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&JoinRoomResponse{Room: room, Joined: joined}), nil
}

// LeaveRoom removes the caller from a room
func (s *Service) LeaveRoom(ctx context.Context, req *connect.Request[LeaveRoomRequest]) (*connect.Response[LeaveRoomResponse], error) {
	user, err := s.caller(ctx, req.Header())
	if err != nil {
		return nil, err
	}
	left, err := s.app.LeaveRoom(ctx, user, req.Msg.RoomID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&LeaveRoomResponse{Left: left}), nil
}

// SendMessage posts a chat message as the caller
func (s *Service) SendMessage(ctx context.Context, req *connect.Request[SendMessageRequest]) (*connect.Response[SendMessageResponse], error) {
	user, err := s.caller(ctx, req.Header())
	if err != nil {
		return nil, err
	}
	msg, err := s.app.SendMessage(ctx, user, req.Msg.RoomID, req.Msg.Text)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SendMessageResponse{Message: msg}), nil
}

// UpdatePlayback offers a playback state to the room. The response carries
// the canonical state after the offer, whether or not it was accepted.
func (s *Service) UpdatePlayback(ctx context.Context, req *connect.Request[UpdatePlaybackRequest]) (*connect.Response[UpdatePlaybackResponse], error) {
	user, err := s.caller(ctx, req.Header())
	if err != nil {
		return nil, err
	}
	accepted, err := s.app.UpdatePlayback(ctx, user, req.Msg.RoomID, req.Msg.State)
	if err != nil {
		return nil, toConnectError(err)
	}
	current, _ := s.states.GetState(req.Msg.RoomID)
	return connect.NewResponse(&UpdatePlaybackResponse{Accepted: accepted, State: current}), nil
}

// DeleteRoom removes a room owned by the caller
func (s *Service) DeleteRoom(ctx context.Context, req *connect.Request[DeleteRoomRequest]) (*connect.Response[DeleteRoomResponse], error) {
	user, err := s.caller(ctx, req.Header())
	if err != nil {
		return nil, err
	}
	if err := s.app.DeleteRoom(ctx, user, req.Msg.RoomID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&DeleteRoomResponse{}), nil
}

// caller resolves the user named by the identity header. A missing header
// yields a nil user so the app layer decides whether one is required.
func (s *Service) caller(ctx context.Context, header http.Header) (*models.User, error) {
	id := header.Get(rpc.UserIDHeader)
	if id == "" {
		return nil, nil
	}
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnauthenticated, ErrNotAuthenticated)
	}
	return user, nil
}

func toConnectError(err error) error {
	return rpc.ToConnectError(err,
		rpc.ErrorMapping{Err: ErrRoomNotFound, Code: connect.CodeNotFound},
		rpc.ErrorMapping{Err: ErrNotAuthenticated, Code: connect.CodeUnauthenticated},
		rpc.ErrorMapping{Err: ErrForbidden, Code: connect.CodePermissionDenied},
		rpc.ErrorMapping{Err: ErrInvalidRequest, Code: connect.CodeInvalidArgument},
		rpc.ErrorMapping{Err: models.ErrInvalidPlaybackState, Code: connect.CodeInvalidArgument},
	)
}
