package grpc

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/freshmart/pkg/apperrors"
)

// errorCodeKey is the trailer that carries the apperrors code of a failed
// call so the caller can rebuild it.
const errorCodeKey = "x-freshmart-error-code"

// encode converts a JSON-tagged value into a Struct message.
func encode(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// decode fills v from a Struct message through its JSON form.
func decode(s *structpb.Struct, v interface{}) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

var grpcCodes = map[apperrors.Code]codes.Code{
	apperrors.CodeValidation:        codes.InvalidArgument,
	apperrors.CodeUnauthenticated:   codes.Unauthenticated,
	apperrors.CodeForbidden:         codes.PermissionDenied,
	apperrors.CodeInsufficientStock: codes.FailedPrecondition,
	apperrors.CodeNotFound:          codes.NotFound,
	apperrors.CodeInvalidTransition: codes.Aborted,
	apperrors.CodePersistence:       codes.Unavailable,
}

// toStatus converts a core error into a gRPC status and records its code in
// the trailer.
func toStatus(ctx context.Context, err error) error {
	code := apperrors.CodeOf(err)
	_ = grpc.SetTrailer(ctx, metadata.Pairs(errorCodeKey, string(code)))

	gc, ok := grpcCodes[code]
	if !ok {
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(gc, err.Error())
}

// fromStatus rebuilds a coded error from a failed call.
func fromStatus(err error, trailer metadata.MD) error {
	st, ok := status.FromError(err)
	if !ok {
		return apperrors.Persistence("order service", err)
	}
	if vals := trailer.Get(errorCodeKey); len(vals) > 0 {
		return apperrors.Remote(apperrors.Code(vals[0]), st.Message())
	}
	return apperrors.Persistence("order service", errors.New(st.Message()))
}
