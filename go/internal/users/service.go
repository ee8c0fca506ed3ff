package users

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/rpc"
)

// UserServiceName is the fully-qualified name of the user service
const UserServiceName = "watchparty.user.v1.UserService"

const (
	LoginProcedure   = "/" + UserServiceName + "/Login"
	GetUserProcedure = "/" + UserServiceName + "/GetUser"
)

type LoginResponse struct {
	User *models.User `json:"user"`
}

type GetUserRequest struct {
	ID string `json:"id"`
}

type GetUserResponse struct {
	User *models.User `json:"user"`
}

// UsersApp defines what the service layer needs from the users application
type UsersApp interface {
	Login(ctx context.Context, name string) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Service implements the UserService connect handlers
type Service struct {
	app UsersApp
}

// NewService creates a new users service
func NewService(app UsersApp) *Service {
	return &Service{app: app}
}

// Handler returns the service's mount path and HTTP handler
func (s *Service) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = rpc.HandlerOptions(opts...)
	mux := http.NewServeMux()
	mux.Handle(LoginProcedure, connect.NewUnaryHandler(LoginProcedure, s.Login, opts...))
	mux.Handle(GetUserProcedure, connect.NewUnaryHandler(GetUserProcedure, s.GetUser, opts...))
	return "/" + UserServiceName + "/", mux
}

// Login registers a new user under the given display name
func (s *Service) Login(ctx context.Context, req *connect.Request[LoginRequest]) (*connect.Response[LoginResponse], error) {
	user, err := s.app.Login(ctx, req.Msg.Name)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&LoginResponse{User: user}), nil
}

// GetUser retrieves a user by ID
func (s *Service) GetUser(ctx context.Context, req *connect.Request[GetUserRequest]) (*connect.Response[GetUserResponse], error) {
	if req.Msg.ID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("id is required"))
	}
	user, err := s.app.GetUser(ctx, req.Msg.ID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetUserResponse{User: user}), nil
}

func toConnectError(err error) error {
	return rpc.ToConnectError(err,
		rpc.ErrorMapping{Err: ErrUserNotFound, Code: connect.CodeNotFound},
		rpc.ErrorMapping{Err: ErrInvalidName, Code: connect.CodeInvalidArgument},
	)
}

// Client calls the user service
type Client struct {
	login   *connect.Client[LoginRequest, LoginResponse]
	getUser *connect.Client[GetUserRequest, GetUserResponse]
}

// NewClient creates a user service client for baseURL
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = rpc.ClientOptions(opts...)
	return &Client{
		login:   connect.NewClient[LoginRequest, LoginResponse](httpClient, baseURL+LoginProcedure, opts...),
		getUser: connect.NewClient[GetUserRequest, GetUserResponse](httpClient, baseURL+GetUserProcedure, opts...),
	}
}

func (c *Client) Login(ctx context.Context, name string) (*models.User, error) {
	res, err := c.login.CallUnary(ctx, connect.NewRequest(&LoginRequest{Name: name}))
	if err != nil {
		return nil, err
	}
	return res.Msg.User, nil
}

func (c *Client) GetUser(ctx context.Context, id string) (*models.User, error) {
	res, err := c.getUser.CallUnary(ctx, connect.NewRequest(&GetUserRequest{ID: id}))
	if err != nil {
		return nil, err
	}
	return res.Msg.User, nil
}
