package interceptors

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Validator is implemented by requests with checks beyond struct tags,
// such as HeartbeatRequest rejecting duplicate partitions. Its error is
// returned to the caller as InvalidArgument.
type Validator interface {
	Validate() error
}

// FieldError names one invalid request field by its wire name.
type FieldError struct {
	Field string
	Rule  string
}

// FieldErrors lists the invalid fields of a request.
type FieldErrors []FieldError

func (e FieldErrors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Field + ": " + fe.Rule
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

var requestValidator = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	return v
}()

// ValidationUnaryInterceptor rejects requests failing their struct tags or
// Validate method with InvalidArgument.
func ValidationUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if err := checkRequest(req); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// ValidationStreamInterceptor validates every message received on a stream.
func ValidationStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		return handler(srv, validatingStream{ss})
	}
}

type validatingStream struct {
	grpc.ServerStream
}

func (s validatingStream) RecvMsg(m interface{}) error {
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return err
	}
	return checkRequest(m)
}

// checkRequest returns nil or an InvalidArgument status.
func checkRequest(req interface{}) error {
	if req == nil {
		return status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if v := reflect.ValueOf(req); v.Kind() == reflect.Ptr && v.IsNil() {
		return status.Error(codes.InvalidArgument, "request cannot be nil")
	}

	if err := structRules(req); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if v, ok := req.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, isStatus := status.FromError(err); isStatus {
				return err
			}
			return status.Error(codes.InvalidArgument, err.Error())
		}
	}
	return nil
}

// structRules applies validate tags to struct requests.
func structRules(req interface{}) error {
	if reflect.Indirect(reflect.ValueOf(req)).Kind() != reflect.Struct {
		return nil
	}
	err := requestValidator.Struct(req)
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err
	}
	fields := make(FieldErrors, len(ves))
	for i, fe := range ves {
		_, path, _ := strings.Cut(fe.Namespace(), ".")
		fields[i] = FieldError{Field: path, Rule: fe.Tag()}
	}
	return fields
}
