package engine

import (
	"fmt"
	"time"

	"p2p-exchange/internal/model"
)

// PublishFunc broadcasts a WS message to an order room or a user channel.
type PublishFunc func(topic, msgType string, data any)

// StepUpVerifier checks a one-time step-up token for a user. The concrete
// mechanism (TOTP in internal/stepup) is injected so the core only carries
// the contract.
type StepUpVerifier interface {
	Verify(u *model.User, token string) error
}

type Engine struct {
	store       Store
	verifier    StepUpVerifier
	publish     PublishFunc
	publishUser PublishFunc
	feeBps      int
	autoRelease time.Duration
	now         func() time.Time
}

type Options struct {
	FeeBps            int // platform fee on seller payout, basis points
	AutoReleaseWindow time.Duration
	PublishOrder      PublishFunc
	PublishUser       PublishFunc
	Now               func() time.Time
}

func New(store Store, verifier StepUpVerifier, opts Options) *Engine {
	if opts.FeeBps == 0 {
		opts.FeeBps = 2000
	}
	if opts.AutoReleaseWindow == 0 {
		opts.AutoReleaseWindow = 72 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store:       store,
		verifier:    verifier,
		publish:     opts.PublishOrder,
		publishUser: opts.PublishUser,
		feeBps:      opts.FeeBps,
		autoRelease: opts.AutoReleaseWindow,
		now:         opts.Now,
	}
}

func (e *Engine) FeeBps() int { return e.feeBps }

// requireActive loads the acting user inside the transaction and rejects
// frozen accounts before any wallet movement.
func requireActive(tx Tx, userID string) (*model.User, error) {
	u, err := tx.GetUserForUpdate(userID)
	if err != nil {
		return nil, err
	}
	if u.Frozen {
		return nil, fmt.Errorf("%w: %s", model.ErrAccountFrozen, userID)
	}
	return u, nil
}

// requireStepUp enforces the step-up gate when mandatory is true or the
// user has step-up enabled.
func (e *Engine) requireStepUp(u *model.User, token string, mandatory bool) error {
	if !mandatory && !u.StepUpEnabled {
		return nil
	}
	if token == "" {
		return model.ErrStepUpRequired
	}
	if err := e.verifier.Verify(u, token); err != nil {
		return fmt.Errorf("%w: step-up token rejected", model.ErrNotAuthorized)
	}
	return nil
}

// ── Collaborator sinks ───────────────────────────────

// push is a WS broadcast buffered until the transaction commits, so a
// rolled-back transition never reaches subscribers.
type push struct {
	topic   string
	msgType string
	data    any
	user    bool
}

type pushSet struct{ items []push }

func (p *pushSet) order(orderID, msgType string, data any) {
	p.items = append(p.items, push{topic: orderID, msgType: msgType, data: data})
}

func (p *pushSet) toUser(userID, msgType string, data any) {
	p.items = append(p.items, push{topic: userID, msgType: msgType, data: data, user: true})
}

func (e *Engine) flush(p *pushSet) {
	for _, it := range p.items {
		if it.user {
			if e.publishUser != nil {
				e.publishUser(it.topic, it.msgType, it.data)
			}
		} else if e.publish != nil {
			e.publish(it.topic, it.msgType, it.data)
		}
	}
}

// notify writes the counterparty notification row and a system message on
// the order thread, and queues the matching WS pushes.
func (e *Engine) notify(tx Tx, p *pushSet, userID, orderID, ntype, title, message string) error {
	n := &model.Notification{
		UserID:    userID,
		Type:      ntype,
		Title:     title,
		Message:   message,
		Link:      "/orders/" + orderID,
		CreatedAt: e.now(),
	}
	if err := tx.InsertNotification(n); err != nil {
		return err
	}
	m := &model.OrderMessage{
		OrderID:   orderID,
		Body:      message,
		CreatedAt: e.now(),
	}
	if err := tx.InsertMessage(m); err != nil {
		return err
	}
	p.order(orderID, ntype, message)
	p.toUser(userID, "notification", n)
	return nil
}
