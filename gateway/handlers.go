package gateway

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/freshmart/pkg/models"
	"github.com/example/freshmart/pkg/store"
)

const sessionHeader = "X-Session-ID"

// sessionKey picks the cart a request works on: the browser's session id
// when sent, otherwise the signed-in user. The two sources live in separate
// key spaces so a session id can never name a user's cart.
func sessionKey(c *gin.Context) (string, bool) {
	if key := strings.TrimSpace(c.GetHeader(sessionHeader)); key != "" {
		return "sid:" + key, true
	}
	if id := currentUser(c); id != nil {
		return "user:" + id.ID, true
	}
	badRequest(c, sessionHeader+" header or sign-in required", "session")
	return "", false
}

func (g *Gateway) listProducts(c *gin.Context) {
	products, err := g.deps.Catalog.List(c.Request.Context(), store.ProductQuery{
		Search:   c.Query("q"),
		Category: c.Query("category"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "total": len(products)})
}

func (g *Gateway) getProduct(c *gin.Context) {
	p, err := g.deps.Catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (g *Gateway) listCategories(c *gin.Context) {
	cats, err := g.deps.Catalog.Categories(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if cats == nil {
		cats = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"categories": cats})
}

func (g *Gateway) getCart(c *gin.Context) {
	key, ok := sessionKey(c)
	if !ok {
		return
	}
	g.respondCart(c)(g.deps.Carts.GetCart(c.Request.Context(), key))
}

func (g *Gateway) clearCart(c *gin.Context) {
	key, ok := sessionKey(c)
	if !ok {
		return
	}
	g.respondCart(c)(g.deps.Carts.ClearCart(c.Request.Context(), key))
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
}

func (g *Gateway) addCartItem(c *gin.Context) {
	key, ok := sessionKey(c)
	if !ok {
		return
	}
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ProductID) == "" {
		badRequest(c, "product_id is required", "product_id")
		return
	}
	g.respondCart(c)(g.deps.Carts.AddItem(c.Request.Context(), key, req.ProductID))
}

type updateItemRequest struct {
	Quantity *int `json:"quantity"`
}

func (g *Gateway) updateCartItem(c *gin.Context) {
	key, ok := sessionKey(c)
	if !ok {
		return
	}
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Quantity == nil {
		badRequest(c, "quantity is required", "quantity")
		return
	}
	g.respondCart(c)(g.deps.Carts.UpdateItem(c.Request.Context(), key, c.Param("id"), *req.Quantity))
}

func (g *Gateway) removeCartItem(c *gin.Context) {
	key, ok := sessionKey(c)
	if !ok {
		return
	}
	g.respondCart(c)(g.deps.Carts.RemoveItem(c.Request.Context(), key, c.Param("id")))
}

func (g *Gateway) respondCart(c *gin.Context) func(*store.CartView, error) {
	return func(view *store.CartView, err error) {
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func (g *Gateway) checkout(c *gin.Context) {
	key, ok := sessionKey(c)
	if !ok {
		return
	}
	var info store.CustomerInfo
	if err := c.ShouldBindJSON(&info); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	order, err := g.deps.Carts.Checkout(c.Request.Context(), key, currentUser(c), info)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (g *Gateway) orderHistory(c *gin.Context) {
	orders, err := g.deps.History.History(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "total": len(orders)})
}

func (g *Gateway) createProduct(c *gin.Context) {
	var in store.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	p, err := g.deps.Catalog.Create(c.Request.Context(), currentUser(c), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (g *Gateway) updateProduct(c *gin.Context) {
	var upd models.ProductUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	p, err := g.deps.Catalog.Update(c.Request.Context(), currentUser(c), c.Param("id"), upd)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (g *Gateway) deleteProduct(c *gin.Context) {
	if err := g.deps.Catalog.Delete(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (g *Gateway) listOrders(c *gin.Context) {
	filter := models.OrderFilter{Status: models.OrderStatus(c.Query("status"))}
	orders, err := g.deps.Orders.List(c.Request.Context(), currentUser(c), filter)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "total": len(orders)})
}

func (g *Gateway) getOrder(c *gin.Context) {
	order, err := g.deps.Orders.Get(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (g *Gateway) updateOrderStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		badRequest(c, "status is required", "status")
		return
	}
	order, err := g.deps.Orders.UpdateStatus(c.Request.Context(), currentUser(c), c.Param("id"), req.Status)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (g *Gateway) stats(c *gin.Context) {
	stats, err := g.deps.Orders.Stats(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (g *Gateway) auditTrail(c *gin.Context) {
	limit := int64(50)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer", "limit")
			return
		}
		limit = n
	}
	entries, err := g.deps.Audit.AuditTrail(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
