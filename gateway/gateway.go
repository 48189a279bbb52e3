// Package gateway is the HTTP storefront API.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/freshmart/pkg/auth"
	"github.com/example/freshmart/pkg/config"
	"github.com/example/freshmart/pkg/metrics"
	"github.com/example/freshmart/pkg/models"
	"github.com/example/freshmart/pkg/repository"
	"github.com/example/freshmart/pkg/store"
)

// CartService runs cart and checkout requests for a session key.
type CartService interface {
	AddItem(ctx context.Context, key, productID string) (*store.CartView, error)
	UpdateItem(ctx context.Context, key, productID string, quantity int) (*store.CartView, error)
	RemoveItem(ctx context.Context, key, productID string) (*store.CartView, error)
	ClearCart(ctx context.Context, key string) (*store.CartView, error)
	GetCart(ctx context.Context, key string) (*store.CartView, error)
	Checkout(ctx context.Context, key string, actor *models.Identity, info store.CustomerInfo) (*models.Order, error)
}

// OrderAdmin is served by store.Orders in-process or by the order service
// client.
type OrderAdmin interface {
	Get(ctx context.Context, actor *models.Identity, id string) (*models.Order, error)
	List(ctx context.Context, actor *models.Identity, filter models.OrderFilter) ([]models.Order, error)
	UpdateStatus(ctx context.Context, actor *models.Identity, id, status string) (*models.Order, error)
	Stats(ctx context.Context, actor *models.Identity) (*store.Stats, error)
}

type OrderHistory interface {
	History(ctx context.Context, actor *models.Identity) ([]models.Order, error)
}

type AuditReader interface {
	AuditTrail(ctx context.Context, entityID string, limit int64) ([]*repository.AuditLog, error)
}

// Deps are the collaborators behind the routes. Audit is optional.
type Deps struct {
	Catalog  *store.Catalog
	Carts    CartService
	History  OrderHistory
	Orders   OrderAdmin
	Audit    AuditReader
	Verifier *auth.Verifier
}

type Gateway struct {
	config *config.Config
	deps   Deps
	logger *zap.Logger
	router *gin.Engine
	server *http.Server
}

func NewGateway(cfg *config.Config, deps Deps, logger *zap.Logger) *Gateway {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	// ClientIP only honours forwarding headers from these addresses.
	if err := router.SetTrustedProxies(cfg.Gateway.TrustedProxies); err != nil {
		logger.Error("Invalid gateway.trusted_proxies, trusting none", zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(logger))
	router.Use(metrics.GinMiddleware())

	return &Gateway{
		config: cfg,
		deps:   deps,
		logger: logger,
		router: router,
	}
}

func (g *Gateway) SetupRoutes() {
	g.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	g.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	limiter := newRateLimiter(g.config.Gateway.RateLimit, g.config.Gateway.RateBurst, g.config.Gateway.RateIdle)

	v1 := g.router.Group("/api/v1")
	v1.Use(limiter.middleware(g.logger), identify(g.deps.Verifier))
	{
		v1.GET("/products", g.listProducts)
		v1.GET("/products/:id", g.getProduct)
		v1.GET("/categories", g.listCategories)

		cart := v1.Group("/cart")
		{
			cart.GET("", g.getCart)
			cart.DELETE("", g.clearCart)
			cart.POST("/items", g.addCartItem)
			cart.PUT("/items/:id", g.updateCartItem)
			cart.DELETE("/items/:id", g.removeCartItem)
		}

		orders := v1.Group("/orders", requireUser())
		{
			orders.POST("", g.checkout)
			orders.GET("", g.orderHistory)
		}

		admin := v1.Group("/admin", requireAdmin())
		{
			admin.POST("/products", g.createProduct)
			admin.PATCH("/products/:id", g.updateProduct)
			admin.DELETE("/products/:id", g.deleteProduct)

			admin.GET("/orders", g.listOrders)
			admin.GET("/orders/:id", g.getOrder)
			admin.PUT("/orders/:id/status", g.updateOrderStatus)
			admin.GET("/stats", g.stats)

			if g.deps.Audit != nil {
				admin.GET("/audit/:id", g.auditTrail)
			}
		}
	}
}

// Handler returns the router, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

func (g *Gateway) Start() error {
	addr := fmt.Sprintf("%s:%d", g.config.Gateway.Host, g.config.Gateway.Port)
	g.server = &http.Server{
		Addr:              addr,
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.logger.Info("Gateway starting", zap.String("address", addr))
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}
