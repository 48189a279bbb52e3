package session

import (
	"github.com/example/freshmart/pkg/models"
	"github.com/example/freshmart/pkg/store"
)

// Messages understood by a session actor. Every message is answered with a
// *CartReply except Checkout, which is answered with a *CheckoutReply.

type AddItem struct {
	ProductID string
}

type UpdateItem struct {
	ProductID string
	Quantity  int
}

type RemoveItem struct {
	ProductID string
}

type ClearCart struct{}

type GetCart struct{}

type Checkout struct {
	Actor *models.Identity
	Info  store.CustomerInfo
}

type CartReply struct {
	View *store.CartView
	Err  error
}

type CheckoutReply struct {
	Order *models.Order
	Err   error
}
