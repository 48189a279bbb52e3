package grpc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/freshmart/pkg/auth"
	"github.com/example/freshmart/pkg/config"
	"github.com/example/freshmart/pkg/discovery"
	"github.com/example/freshmart/pkg/models"
	"github.com/example/freshmart/pkg/store"
)

const orderServiceDiscoveryName = "order-service"

// ClientManager owns the connection to the order service and exposes the
// admin order operations with the same shape as store.Orders.
type ClientManager struct {
	config    *config.GatewayConfig
	discovery *discovery.ServiceDiscovery
	signer    *auth.Verifier
	logger    *zap.Logger

	orderConn *grpc.ClientConn
}

// NewClientManager creates a client manager. disc may be nil. Calls carry a
// short-lived token for the acting identity signed by signer.
func NewClientManager(cfg *config.GatewayConfig, logger *zap.Logger, disc *discovery.ServiceDiscovery, signer *auth.Verifier) *ClientManager {
	return &ClientManager{
		config:    cfg,
		discovery: disc,
		signer:    signer,
		logger:    logger.Named("order-client"),
	}
}

// NewClientManagerWithConn wraps an existing connection.
func NewClientManagerWithConn(conn *grpc.ClientConn, signer *auth.Verifier, logger *zap.Logger) *ClientManager {
	return &ClientManager{
		signer:    signer,
		logger:    logger.Named("order-client"),
		orderConn: conn,
	}
}

// Connect resolves the order service through discovery, falling back to the
// configured address, and opens the connection.
func (m *ClientManager) Connect(ctx context.Context) error {
	target := m.config.OrderAddr

	if m.discovery != nil {
		dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		instances, err := m.discovery.Discover(dctx, orderServiceDiscoveryName)
		if err == nil && len(instances) > 0 {
			target = instances[0].Addr()
			m.logger.Info("Discovered order service", zap.String("address", target))
		} else {
			m.logger.Info("Using default address for order service", zap.String("address", target))
		}
	}

	m.logger.Info("Connecting to order service", zap.String("target", target))

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to order service: %w", err)
	}
	m.orderConn = conn
	return nil
}

func (m *ClientManager) Get(ctx context.Context, actor *models.Identity, id string) (*models.Order, error) {
	var order models.Order
	if err := m.invoke(ctx, actor, "GetOrder", map[string]interface{}{"id": id}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (m *ClientManager) List(ctx context.Context, actor *models.Identity, filter models.OrderFilter) ([]models.Order, error) {
	var list orderList
	req := map[string]interface{}{"user_id": filter.UserID, "status": string(filter.Status)}
	if err := m.invoke(ctx, actor, "ListOrders", req, &list); err != nil {
		return nil, err
	}
	return list.Orders, nil
}

func (m *ClientManager) UpdateStatus(ctx context.Context, actor *models.Identity, id, status string) (*models.Order, error) {
	var order models.Order
	if err := m.invoke(ctx, actor, "UpdateOrderStatus", map[string]interface{}{"id": id, "status": status}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (m *ClientManager) Stats(ctx context.Context, actor *models.Identity) (*store.Stats, error) {
	var stats store.Stats
	if err := m.invoke(ctx, actor, "GetStats", map[string]interface{}{}, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (m *ClientManager) invoke(ctx context.Context, actor *models.Identity, method string, req map[string]interface{}, out interface{}) error {
	if m.orderConn == nil {
		return fmt.Errorf("order service not connected")
	}
	in, err := structpb.NewStruct(req)
	if err != nil {
		return err
	}

	if actor != nil {
		token, err := m.signer.Issue(*actor, time.Minute)
		if err != nil {
			return fmt.Errorf("failed to sign request: %w", err)
		}
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}

	resp := &structpb.Struct{}
	var trailer metadata.MD
	err = m.orderConn.Invoke(ctx, "/"+orderServiceName+"/"+method, in, resp, grpc.Trailer(&trailer))
	if err != nil {
		return fromStatus(err, trailer)
	}
	return decode(resp, out)
}

// Close closes the order service connection.
func (m *ClientManager) Close() error {
	if m.orderConn == nil {
		return nil
	}
	if err := m.orderConn.Close(); err != nil {
		return fmt.Errorf("order connection close error: %w", err)
	}
	return nil
}
