// Package rpc holds the pieces shared by the connect services: the JSON codec,
// caller identity and request logging.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"
)

// UserIDHeader carries the caller's user id
const UserIDHeader = "X-User-Id"

// JSONCodec encodes plain Go structs as JSON. It registers under the "json"
// name so it replaces connect's protobuf-only JSON codec.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// HandlerOptions returns the options every service handler is built with
func HandlerOptions(extra ...connect.HandlerOption) []connect.HandlerOption {
	return append([]connect.HandlerOption{
		connect.WithCodec(JSONCodec{}),
		connect.WithInterceptors(LoggingInterceptor()),
	}, extra...)
}

// ClientOptions returns the options every service client is built with
func ClientOptions(extra ...connect.ClientOption) []connect.ClientOption {
	return append([]connect.ClientOption{
		connect.WithCodec(JSONCodec{}),
	}, extra...)
}

// LoggingInterceptor logs every unary call with its duration and outcome
func LoggingInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			res, err := next(ctx, req)
			if req.Spec().IsClient {
				return res, err
			}

			event := log.Debug()
			if err != nil {
				event = log.Warn().Err(err).Str("code", connect.CodeOf(err).String())
			}
			event.
				Str("procedure", req.Spec().Procedure).
				Str("user_id", req.Header().Get(UserIDHeader)).
				Dur("duration", time.Since(start)).
				Msg("rpc")
			return res, err
		}
	}
}

// ErrorMapping pairs a sentinel error with the connect code it maps to
type ErrorMapping struct {
	Err  error
	Code connect.Code
}

// ToConnectError maps err to a connect error using the first matching entry.
// Unmatched errors become CodeInternal.
func ToConnectError(err error, mappings ...ErrorMapping) error {
	if err == nil {
		return nil
	}
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return err
	}
	for _, m := range mappings {
		if errors.Is(err, m.Err) {
			return connect.NewError(m.Code, err)
		}
	}
	return connect.NewError(connect.CodeInternal, err)
}
