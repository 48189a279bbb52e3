package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/example/freshmart/pkg/store"
)

func TestNewAuditLog(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := newAuditLog("storefront-gateway", store.AuditEvent{
		Action:   "order.placed",
		EntityID: "o1",
		ActorID:  "u1",
		Data:     map[string]interface{}{"total": "9.47"},
	}, at)

	assert.Equal(t, "storefront-gateway", entry.Service)
	assert.Equal(t, "order.placed", entry.Action)
	assert.Equal(t, "o1", entry.EntityID)
	assert.Equal(t, "u1", entry.ActorID)
	assert.Equal(t, bson.M{"total": "9.47"}, entry.Data)
	assert.Equal(t, at, entry.CreatedAt)

	empty := newAuditLog("svc", store.AuditEvent{Action: "product.deleted", EntityID: "p1"}, at)
	assert.Nil(t, empty.Data)
}
