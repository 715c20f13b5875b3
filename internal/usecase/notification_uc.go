package usecase

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ledger-service/internal/ws"
)

type Notification struct {
	UserID   string
	Title    string
	Message  string
	Metadata map[string]any
}

// Notifier delivers transaction notifications to the user's open
// websockets. Delivery is fire-and-forget: Notify never blocks the
// calling engine and a failed push never fails a transaction. Pushes
// are queued and flushed by a background worker.
type Notifier struct {
	hub           *ws.Hub
	logger        *zap.Logger
	batch         []Notification
	batchSize     int
	flushInterval time.Duration
	mu            sync.Mutex
	stopChan      chan struct{}
	stopOnce      sync.Once
}

func NewNotifier(hub *ws.Hub, logger *zap.Logger) *Notifier {
	return &Notifier{
		hub:           hub,
		logger:        logger,
		batchSize:     50,
		flushInterval: 500 * time.Millisecond,
		stopChan:      make(chan struct{}),
	}
}

func (n *Notifier) Start() {
	go n.worker()
}

func (n *Notifier) Stop() {
	n.stopOnce.Do(func() { close(n.stopChan) })
}

func (n *Notifier) Notify(userID, title, message string, metadata map[string]any) {
	n.mu.Lock()
	n.batch = append(n.batch, Notification{
		UserID:   userID,
		Title:    title,
		Message:  message,
		Metadata: metadata,
	})
	shouldFlush := len(n.batch) >= n.batchSize
	n.mu.Unlock()

	if shouldFlush {
		n.flush()
	}
}

// PushBalance sends the committed balance straight to the user's
// sockets, skipping the queue so the client UI updates immediately.
func (n *Notifier) PushBalance(userID, walletID string, balance decimal.Decimal) {
	n.hub.Push(userID, ws.Message{
		Type: "balance_update",
		Data: map[string]any{
			"wallet_id": walletID,
			"balance":   balance.String(),
		},
	})
}

func (n *Notifier) worker() {
	ticker := time.NewTicker(n.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.flush()
		case <-n.stopChan:
			n.flush()
			return
		}
	}
}

func (n *Notifier) flush() {
	n.mu.Lock()
	if len(n.batch) == 0 {
		n.mu.Unlock()
		return
	}
	batch := n.batch
	n.batch = nil
	n.mu.Unlock()

	for _, notif := range batch {
		n.hub.Push(notif.UserID, ws.Message{
			Type: "notification",
			Data: map[string]any{
				"title":    notif.Title,
				"message":  notif.Message,
				"metadata": notif.Metadata,
			},
		})
	}
	n.logger.Debug("flushed notifications", zap.Int("count", len(batch)))
}
