package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"p2p-exchange/internal/model"
)

// memStore is an in-memory Store with snapshot rollback, so engine tests
// exercise the same all-or-nothing transaction semantics the SQL store
// provides.
type memStore struct {
	users         map[string]*model.User
	wallets       map[string]*model.Wallet // by wallet ID
	walletsByKey  map[string]string        // owner/currency -> wallet ID
	offers        map[string]*model.Offer
	orders        map[string]*model.Order
	disputes      map[string]*model.Dispute
	disputeByOrd  map[string]string
	transactions  []model.Transaction
	fees          map[string]decimal.Decimal
	events        []model.EventLog
	messages      []model.OrderMessage
	notifications []model.Notification
	seq           int
}

func newMemStore() *memStore {
	return &memStore{
		users:        map[string]*model.User{},
		wallets:      map[string]*model.Wallet{},
		walletsByKey: map[string]string{},
		offers:       map[string]*model.Offer{},
		orders:       map[string]*model.Order{},
		disputes:     map[string]*model.Dispute{},
		disputeByOrd: map[string]string{},
		fees:         map[string]decimal.Decimal{},
	}
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return prefix + "-" + strconv.Itoa(s.seq)
}

func (s *memStore) addUser(id string, kyc model.KYCStatus) *model.User {
	u := &model.User{
		ID:        id,
		Email:     id + "@test.local",
		Role:      model.RoleUser,
		KYCStatus: kyc,
		CreatedAt: time.Now().UTC(),
	}
	s.users[id] = u
	return u
}

func (s *memStore) addAdmin(id string) *model.User {
	u := s.addUser(id, model.KYCApproved)
	u.Role = model.RoleAdmin
	return u
}

func (s *memStore) addWallet(ownerID, currency string, available decimal.Decimal) *model.Wallet {
	w := &model.Wallet{
		ID:        "w-" + ownerID + "-" + currency,
		OwnerID:   ownerID,
		Currency:  currency,
		Available: available,
		Escrow:    decimal.Zero,
	}
	s.wallets[w.ID] = w
	s.walletsByKey[ownerID+"/"+currency] = w.ID
	return w
}

type memSnapshot struct {
	users         map[string]model.User
	wallets       map[string]model.Wallet
	offers        map[string]model.Offer
	orders        map[string]model.Order
	disputes      map[string]model.Dispute
	disputeByOrd  map[string]string
	transactions  []model.Transaction
	fees          map[string]decimal.Decimal
	events        []model.EventLog
	messages      []model.OrderMessage
	notifications []model.Notification
	seq           int
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		users:         map[string]model.User{},
		wallets:       map[string]model.Wallet{},
		offers:        map[string]model.Offer{},
		orders:        map[string]model.Order{},
		disputes:      map[string]model.Dispute{},
		disputeByOrd:  map[string]string{},
		transactions:  append([]model.Transaction(nil), s.transactions...),
		fees:          map[string]decimal.Decimal{},
		events:        append([]model.EventLog(nil), s.events...),
		messages:      append([]model.OrderMessage(nil), s.messages...),
		notifications: append([]model.Notification(nil), s.notifications...),
		seq:           s.seq,
	}
	for k, v := range s.users {
		snap.users[k] = *v
	}
	for k, v := range s.wallets {
		snap.wallets[k] = *v
	}
	for k, v := range s.offers {
		snap.offers[k] = *v
	}
	for k, v := range s.orders {
		snap.orders[k] = *v
	}
	for k, v := range s.disputes {
		snap.disputes[k] = *v
	}
	for k, v := range s.disputeByOrd {
		snap.disputeByOrd[k] = v
	}
	for k, v := range s.fees {
		snap.fees[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.users = map[string]*model.User{}
	for k := range snap.users {
		u := snap.users[k]
		s.users[k] = &u
	}
	s.wallets = map[string]*model.Wallet{}
	for k := range snap.wallets {
		w := snap.wallets[k]
		s.wallets[k] = &w
	}
	s.offers = map[string]*model.Offer{}
	for k := range snap.offers {
		o := snap.offers[k]
		s.offers[k] = &o
	}
	s.orders = map[string]*model.Order{}
	for k := range snap.orders {
		o := snap.orders[k]
		s.orders[k] = &o
	}
	s.disputes = map[string]*model.Dispute{}
	for k := range snap.disputes {
		d := snap.disputes[k]
		s.disputes[k] = &d
	}
	s.disputeByOrd = snap.disputeByOrd
	s.transactions = snap.transactions
	s.fees = snap.fees
	s.events = snap.events
	s.messages = snap.messages
	s.notifications = snap.notifications
	s.seq = snap.seq
}

func (s *memStore) InTx(ctx context.Context, fn func(Tx) error) error {
	snap := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, model.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (s *memStore) GetOffer(ctx context.Context, id string) (*model.Offer, error) {
	o, ok := s.offers[id]
	if !ok {
		return nil, fmt.Errorf("offer %s: %w", id, model.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (s *memStore) GetDispute(ctx context.Context, id string) (*model.Dispute, error) {
	d, ok := s.disputes[id]
	if !ok {
		return nil, fmt.Errorf("dispute %s: %w", id, model.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) GetWallet(ctx context.Context, ownerID, currency string) (*model.Wallet, error) {
	id, ok := s.walletsByKey[ownerID+"/"+currency]
	if !ok {
		return nil, fmt.Errorf("wallet %s/%s: %w", ownerID, currency, model.ErrNotFound)
	}
	cp := *s.wallets[id]
	return &cp, nil
}

func (s *memStore) ListAutoReleasable(ctx context.Context, cutoff time.Time, limit int) ([]model.Order, error) {
	var due []model.Order
	for _, o := range s.orders {
		if o.Status == model.OrderConfirmed && o.AutoReleaseAt != nil && !o.AutoReleaseAt.After(cutoff) {
			due = append(due, *o)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].AutoReleaseAt.Before(*due[j].AutoReleaseAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// memTx mutates the store directly; rollback happens via snapshot
// restore in InTx.
type memTx struct {
	s *memStore
}

func (t *memTx) GetUserForUpdate(id string) (*model.User, error) {
	return t.s.GetUser(context.Background(), id)
}

func (t *memTx) SetUserFrozen(id string, frozen bool, reason string) error {
	u, ok := t.s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, model.ErrNotFound)
	}
	u.Frozen = frozen
	u.FrozenReason = reason
	return nil
}

func (t *memTx) GetWalletForUpdate(ownerID, currency string) (*model.Wallet, error) {
	return t.s.GetWallet(context.Background(), ownerID, currency)
}

func (t *memTx) AddAvailable(walletID string, delta decimal.Decimal) error {
	w, ok := t.s.wallets[walletID]
	if !ok {
		return fmt.Errorf("wallet %s: %w", walletID, model.ErrNotFound)
	}
	next := w.Available.Add(delta)
	if next.Sign() < 0 {
		return errors.New("check constraint: available < 0")
	}
	w.Available = next
	return nil
}

func (t *memTx) AddEscrow(walletID string, delta decimal.Decimal) error {
	w, ok := t.s.wallets[walletID]
	if !ok {
		return fmt.Errorf("wallet %s: %w", walletID, model.ErrNotFound)
	}
	next := w.Escrow.Add(delta)
	if next.Sign() < 0 {
		return errors.New("check constraint: escrow < 0")
	}
	w.Escrow = next
	return nil
}

func (t *memTx) AddPlatformFee(currency string, amount decimal.Decimal) error {
	t.s.fees[currency] = t.s.fees[currency].Add(amount)
	return nil
}

func (t *memTx) InsertTransaction(tr *model.Transaction) error {
	tr.ID = t.s.nextID("tx")
	t.s.transactions = append(t.s.transactions, *tr)
	return nil
}

func (t *memTx) InsertOffer(o *model.Offer) error {
	cp := *o
	t.s.offers[o.ID] = &cp
	return nil
}

func (t *memTx) GetOfferForUpdate(id string) (*model.Offer, error) {
	return t.s.GetOffer(context.Background(), id)
}

func (t *memTx) UpdateOffer(o *model.Offer) error {
	if _, ok := t.s.offers[o.ID]; !ok {
		return fmt.Errorf("offer %s: %w", o.ID, model.ErrNotFound)
	}
	cp := *o
	t.s.offers[o.ID] = &cp
	return nil
}

func (t *memTx) InsertOrder(o *model.Order) error {
	cp := *o
	t.s.orders[o.ID] = &cp
	return nil
}

func (t *memTx) GetOrderForUpdate(id string) (*model.Order, error) {
	return t.s.GetOrder(context.Background(), id)
}

func (t *memTx) UpdateOrder(o *model.Order) error {
	if _, ok := t.s.orders[o.ID]; !ok {
		return fmt.Errorf("order %s: %w", o.ID, model.ErrNotFound)
	}
	cp := *o
	t.s.orders[o.ID] = &cp
	return nil
}

func (t *memTx) InsertDispute(d *model.Dispute) error {
	cp := *d
	t.s.disputes[d.ID] = &cp
	t.s.disputeByOrd[d.OrderID] = d.ID
	return nil
}

func (t *memTx) GetDisputeByOrder(orderID string) (*model.Dispute, error) {
	id, ok := t.s.disputeByOrd[orderID]
	if !ok {
		return nil, fmt.Errorf("dispute for order %s: %w", orderID, model.ErrNotFound)
	}
	return t.s.GetDispute(context.Background(), id)
}

func (t *memTx) GetDisputeForUpdate(id string) (*model.Dispute, error) {
	return t.s.GetDispute(context.Background(), id)
}

func (t *memTx) UpdateDispute(d *model.Dispute) error {
	if _, ok := t.s.disputes[d.ID]; !ok {
		return fmt.Errorf("dispute %s: %w", d.ID, model.ErrNotFound)
	}
	cp := *d
	t.s.disputes[d.ID] = &cp
	return nil
}

func (t *memTx) AppendEvent(orderID *string, evType string, payload any) error {
	t.s.events = append(t.s.events, model.EventLog{
		ID:        int64(len(t.s.events) + 1),
		OrderID:   orderID,
		Type:      evType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (t *memTx) InsertMessage(m *model.OrderMessage) error {
	m.ID = t.s.nextID("msg")
	t.s.messages = append(t.s.messages, *m)
	return nil
}

func (t *memTx) InsertNotification(n *model.Notification) error {
	n.ID = t.s.nextID("ntf")
	t.s.notifications = append(t.s.notifications, *n)
	return nil
}

var _ Store = (*memStore)(nil)
var _ Tx = (*memTx)(nil)
