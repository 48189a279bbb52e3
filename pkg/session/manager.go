// Package session runs one actor per shopper session so that requests for
// the same cart are handled one at a time. Idle sessions stop themselves.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"

	"github.com/example/freshmart/pkg/models"
	"github.com/example/freshmart/pkg/store"
)

type Manager struct {
	system   *actor.ActorSystem
	sessions *store.Sessions
	idle     time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	pids map[string]*actor.PID
}

// NewManager creates a manager with its own actor system. idle is how long
// a session may go without requests before its actor stops; timeout bounds
// each request.
func NewManager(sessions *store.Sessions, idle, timeout time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		system:   actor.NewActorSystem(),
		sessions: sessions,
		idle:     idle,
		timeout:  timeout,
		logger:   logger.Named("session"),
		pids:     make(map[string]*actor.PID),
	}
}

func (m *Manager) AddItem(ctx context.Context, key, productID string) (*store.CartView, error) {
	return m.cart(ctx, key, &AddItem{ProductID: productID})
}

func (m *Manager) UpdateItem(ctx context.Context, key, productID string, quantity int) (*store.CartView, error) {
	return m.cart(ctx, key, &UpdateItem{ProductID: productID, Quantity: quantity})
}

func (m *Manager) RemoveItem(ctx context.Context, key, productID string) (*store.CartView, error) {
	return m.cart(ctx, key, &RemoveItem{ProductID: productID})
}

func (m *Manager) ClearCart(ctx context.Context, key string) (*store.CartView, error) {
	return m.cart(ctx, key, &ClearCart{})
}

func (m *Manager) GetCart(ctx context.Context, key string) (*store.CartView, error) {
	return m.cart(ctx, key, &GetCart{})
}

func (m *Manager) Checkout(ctx context.Context, key string, buyer *models.Identity, info store.CustomerInfo) (*models.Order, error) {
	res, err := m.request(ctx, key, &Checkout{Actor: buyer, Info: info})
	if err != nil {
		return nil, err
	}
	reply, ok := res.(*CheckoutReply)
	if !ok {
		return nil, fmt.Errorf("unexpected reply %T", res)
	}
	return reply.Order, reply.Err
}

// Len returns the number of running session actors.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pids)
}

// Shutdown stops every session actor and waits for them to finish.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	pids := make(map[string]*actor.PID, len(m.pids))
	for key, pid := range m.pids {
		pids[key] = pid
	}
	m.pids = make(map[string]*actor.PID)
	m.mu.Unlock()

	for key, pid := range pids {
		if err := m.system.Root.StopFuture(pid).Wait(); err != nil {
			m.logger.Warn("Failed to stop session actor", zap.String("session", key), zap.Error(err))
		}
		m.sessions.Close(key)
	}
	m.logger.Info("Session actors stopped", zap.Int("count", len(pids)))
}

func (m *Manager) cart(ctx context.Context, key string, msg interface{}) (*store.CartView, error) {
	res, err := m.request(ctx, key, msg)
	if err != nil {
		return nil, err
	}
	reply, ok := res.(*CartReply)
	if !ok {
		return nil, fmt.Errorf("unexpected reply %T", res)
	}
	return reply.View, reply.Err
}

func (m *Manager) request(ctx context.Context, key string, msg interface{}) (interface{}, error) {
	timeout := m.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	// A session that went idle between lookup and delivery answers with a
	// dead letter; respawn once.
	for attempt := 0; ; attempt++ {
		pid, err := m.pid(ctx, key)
		if err != nil {
			return nil, err
		}
		res, err := m.system.Root.RequestFuture(pid, msg, timeout).Result()
		if errors.Is(err, actor.ErrDeadLetter) && attempt == 0 {
			m.forget(key, pid)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", key, err)
		}
		return res, nil
	}
}

// pid returns the actor for key, spawning it on first use. The session is
// opened without holding the lock since loading a cart may hit storage.
func (m *Manager) pid(ctx context.Context, key string) (*actor.PID, error) {
	m.mu.Lock()
	pid, ok := m.pids[key]
	m.mu.Unlock()
	if ok {
		return pid, nil
	}

	sess, err := m.sessions.Open(ctx, key)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if pid, ok := m.pids[key]; ok {
		return pid, nil
	}
	// An actor spawned meanwhile may already have idled out and closed the
	// session; reopening an open session does not touch storage.
	if sess, err = m.sessions.Open(ctx, key); err != nil {
		return nil, err
	}
	props := actor.PropsFromProducer(func() actor.Actor {
		return &sessionActor{
			session: sess,
			idle:    m.idle,
			timeout: m.timeout,
			onIdle:  m.forget,
			logger:  m.logger.With(zap.String("session", key)),
		}
	})
	pid = m.system.Root.SpawnPrefix(props, "session")
	m.pids[key] = pid
	return pid, nil
}

// forget drops the actor for key if it is still the registered one and
// closes the session.
func (m *Manager) forget(key string, pid *actor.PID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.pids[key]; ok && current.Id == pid.Id {
		delete(m.pids, key)
		m.sessions.Close(key)
	}
}
