package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/freshmart/pkg/auth"
	"github.com/example/freshmart/pkg/models"
	"github.com/example/freshmart/pkg/store"
)

const orderServiceName = "freshmart.order.v1.OrderService"

// OrderServiceServer is the admin order API. Messages are Struct values
// holding the JSON form of the models.
type OrderServiceServer interface {
	GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListOrders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	UpdateOrderStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(method string, call func(OrderServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OrderServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + orderServiceName + "/" + method,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(OrderServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var orderServiceDesc = grpc.ServiceDesc{
	ServiceName: orderServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("GetOrder", OrderServiceServer.GetOrder),
		unaryHandler("ListOrders", OrderServiceServer.ListOrders),
		unaryHandler("UpdateOrderStatus", OrderServiceServer.UpdateOrderStatus),
		unaryHandler("GetStats", OrderServiceServer.GetStats),
	},
	Metadata: "freshmart/order/v1/order.proto",
}

type OrderServer struct {
	orders   *store.Orders
	verifier *auth.Verifier
	logger   *zap.Logger
	server   *grpc.Server
	health   *health.Server
}

func NewOrderServer(orders *store.Orders, verifier *auth.Verifier, logger *zap.Logger) *OrderServer {
	s := &OrderServer{
		orders:   orders,
		verifier: verifier,
		logger:   logger.Named("order-server"),
		health:   health.NewServer(),
	}

	s.server = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logCalls, s.authenticate))
	s.server.RegisterService(&orderServiceDesc, s)
	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)

	s.health.SetServingStatus(orderServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

func (s *OrderServer) Serve(lis net.Listener) error {
	s.logger.Info("Order service started", zap.String("address", lis.Addr().String()))
	return s.server.Serve(lis)
}

func (s *OrderServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

func (s *OrderServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

func (s *OrderServer) GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	order, err := s.orders.Get(ctx, auth.FromContext(ctx), stringField(req, "id"))
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(order)
}

func (s *OrderServer) ListOrders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	filter := models.OrderFilter{
		UserID: stringField(req, "user_id"),
		Status: models.OrderStatus(stringField(req, "status")),
	}
	orders, err := s.orders.List(ctx, auth.FromContext(ctx), filter)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(orderList{Orders: orders})
}

func (s *OrderServer) UpdateOrderStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	order, err := s.orders.UpdateStatus(ctx, auth.FromContext(ctx), stringField(req, "id"), stringField(req, "status"))
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(order)
}

func (s *OrderServer) GetStats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	stats, err := s.orders.Stats(ctx, auth.FromContext(ctx))
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(stats)
}

type orderList struct {
	Orders []models.Order `json:"orders"`
}

// authenticate attaches the caller identity when an authorization header is
// present. Calls without one reach the handlers anonymously.
func (s *OrderServer) authenticate(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if vals := md.Get("authorization"); len(vals) > 0 {
		id, err := s.verifier.VerifyHeader(vals[0])
		if err != nil {
			return nil, toStatus(ctx, err)
		}
		ctx = auth.WithIdentity(ctx, id)
	}
	return handler(ctx, req)
}

func (s *OrderServer) logCalls(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.Duration("latency", time.Since(start)),
	}
	if err != nil {
		s.logger.Warn("Call failed", append(fields, zap.Error(err))...)
	} else {
		s.logger.Debug("Call served", fields...)
	}
	return resp, err
}
