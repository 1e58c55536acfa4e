// Package grpcserver exposes the account service over a gRPC control API.
//
// Requests and responses are google.protobuf.Struct messages holding the
// JSON form of the service types, so the API has no generated code.
package grpcserver

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/agent-keeper/internal/convert"
	"github.com/and161185/agent-keeper/internal/errs"
	"github.com/and161185/agent-keeper/internal/model"
	"github.com/and161185/agent-keeper/internal/service"
)

// ControlServer is implemented by Server; it is the HandlerType of the service.
type ControlServer interface {
	Service() service.AccountService
	Logger() *zap.Logger
}

// Server wires the account service into gRPC handlers.
type Server struct {
	svc service.AccountService
	log *zap.Logger
}

// New constructs a gRPC server with the injected service.
func New(svc service.AccountService, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, log: log}
}

// Service returns the wrapped account service.
func (s *Server) Service() service.AccountService { return s.svc }

// Logger receives the detail of errors that callers only see by sentinel.
func (s *Server) Logger() *zap.Logger { return s.log }

// Register adds the control service to r.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*ControlServer)(nil),
		Methods: []grpc.MethodDesc{
			unary(NameStatus, func(ctx context.Context, svc service.AccountService, _ *structpb.Struct) (any, error) {
				return svc.Status(ctx)
			}),
			unary(NameGetAccounts, func(ctx context.Context, svc service.AccountService, _ *structpb.Struct) (any, error) {
				return svc.GetAccounts(ctx)
			}),
			unary(NameGetCurrentAccount, func(ctx context.Context, svc service.AccountService, _ *structpb.Struct) (any, error) {
				return svc.GetCurrentAccountInfo(ctx)
			}),
			unary(NameBackupCurrentAccount, func(ctx context.Context, svc service.AccountService, _ *structpb.Struct) (any, error) {
				id, err := svc.BackupCurrentAccount(ctx)
				return map[string]any{"identity": id}, err
			}),
			unary(NameRestoreAccount, func(ctx context.Context, svc service.AccountService, req *structpb.Struct) (any, error) {
				return svc.RestoreAccount(ctx, identity(req))
			}),
			unary(NameSwitchAccount, func(ctx context.Context, svc service.AccountService, req *structpb.Struct) (any, error) {
				return svc.Switch(ctx, identity(req))
			}),
			unary(NameClearAllData, func(ctx context.Context, svc service.AccountService, _ *structpb.Struct) (any, error) {
				return svc.ClearAllData(ctx)
			}),
			unary(NameSignInNew, func(ctx context.Context, svc service.AccountService, _ *structpb.Struct) (any, error) {
				return svc.SignInNew(ctx)
			}),
			unary(NameDeleteBackup, func(ctx context.Context, svc service.AccountService, req *structpb.Struct) (any, error) {
				id := identity(req)
				return map[string]any{"deleted": id}, svc.DeleteBackup(ctx, id)
			}),
			unary(NameClearAllBackups, func(ctx context.Context, svc service.AccountService, _ *structpb.Struct) (any, error) {
				return svc.ClearAllBackups(ctx)
			}),
			unary(NameExportAccounts, func(ctx context.Context, svc service.AccountService, req *structpb.Struct) (any, error) {
				data, err := svc.ExportAccounts(ctx, convert.String(req, "password"))
				return map[string]any{"data": data}, err
			}),
			unary(NameImportAccounts, func(ctx context.Context, svc service.AccountService, req *structpb.Struct) (any, error) {
				return svc.ImportAccounts(ctx, convert.String(req, "data"), convert.String(req, "password"))
			}),
			unary(NameEncrypt, func(ctx context.Context, svc service.AccountService, req *structpb.Struct) (any, error) {
				data, err := svc.Encrypt(ctx, convert.String(req, "plaintext"), convert.String(req, "password"))
				return map[string]any{"data": data}, err
			}),
			unary(NameDecrypt, func(ctx context.Context, svc service.AccountService, req *structpb.Struct) (any, error) {
				text, err := svc.Decrypt(ctx, convert.String(req, "data"), convert.String(req, "password"))
				return map[string]any{"plaintext": text}, err
			}),
			unary(NameRefreshToken, func(ctx context.Context, svc service.AccountService, req *structpb.Struct) (any, error) {
				return svc.RefreshToken(ctx, identity(req))
			}),
			unary(NameAccountQuota, func(ctx context.Context, svc service.AccountService, req *structpb.Struct) (any, error) {
				return svc.AccountQuota(ctx, identity(req))
			}),
			unary(NameTriggerQuotaRefresh, func(ctx context.Context, svc service.AccountService, req *structpb.Struct) (any, error) {
				return svc.TriggerQuotaRefresh(ctx, identity(req))
			}),
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "agentkeeper/v1/control.proto",
	}, s)
}

type call func(ctx context.Context, svc service.AccountService, req *structpb.Struct) (any, error)

func unary(name string, fn call) grpc.MethodDesc {
	full := FullMethod(name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := decode(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				cs := srv.(ControlServer)
				out, err := fn(ctx, cs.Service(), req.(*structpb.Struct))
				if err != nil {
					st := toStatus(err)
					cs.Logger().Warn("call failed", zap.String("method", name), zap.Stringer("code", status.Code(st)), zap.Error(err))
					return nil, st
				}
				resp, err := convert.ToStruct(out)
				if err != nil {
					return nil, status.Errorf(codes.Internal, "encode response: %v", err)
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: full}, handler)
		},
	}
}

func identity(req *structpb.Struct) model.Identity {
	return model.Identity(convert.String(req, "identity"))
}

// toStatus maps domain errors to gRPC codes. The message is the sentinel's
// text only; the wrapped detail stays in the server log.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, errs.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, errs.ErrUnsafeName),
		errors.Is(err, errs.ErrInvalidPassword),
		errors.Is(err, errs.ErrEmptyInput),
		errors.Is(err, errs.ErrTransportDecode),
		errors.Is(err, errs.ErrSchemaDecode),
		errors.Is(err, errs.ErrInvalidEnvelope),
		errors.Is(err, errs.ErrUnsupportedVersion),
		errors.Is(err, errs.ErrCorruptedLegacyData):
		code = codes.InvalidArgument
	case errors.Is(err, errs.ErrPayloadTooLarge), errors.Is(err, errs.ErrTooManyFiles):
		code = codes.ResourceExhausted
	case errors.Is(err, errs.ErrExtensionRequired),
		errors.Is(err, errs.ErrNoSession),
		errors.Is(err, errs.ErrOAuthNotConfigured),
		errors.Is(err, errs.ErrNoRefreshToken),
		errors.Is(err, errs.ErrNoProject):
		code = codes.FailedPrecondition
	case errors.Is(err, errs.ErrStoreAccess), errors.Is(err, errs.ErrUpstream):
		code = codes.Unavailable
	case errors.Is(err, errs.ErrUnauthorized):
		code = codes.Unauthenticated
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}
	return status.Error(code, errs.Message(err))
}
