// Package cart holds the local cart state and keeps it reconciled with
// a remote cart gateway. Mutations apply optimistically: local state
// changes first, the gateway call follows, and a gateway failure keeps
// the optimistic value while the error is surfaced to the caller.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/solemart/storefront/internal/domain"
	"github.com/solemart/storefront/internal/gateway"
	"github.com/solemart/storefront/internal/persist"
)

// ErrClosed is returned when an operation reaches a disposed store.
var ErrClosed = errors.New("cart store is closed")

// Entry is the input to AddItem: the variant to add plus the display
// snapshot captured at add time.
type Entry struct {
	Product         domain.ProductSnapshot
	VariantID       string
	VariantTitle    string
	Price           domain.Money
	Quantity        int // defaults to 1 when zero
	SelectedOptions []domain.SelectedOption
}

// debounced is one armed quantity push. The generation lets a fire that
// already left its timer but lost the lock race to a re-schedule detect
// it was superseded and yield its op without pushing.
type debounced struct {
	timer *time.Timer
	gen   uint64
}

type Option func(*Store)

// WithDebounce sets the window for coalescing rapid quantity changes.
// Zero disables debouncing and pushes every update inline.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) { s.debounce = d }
}

// WithSnapshots enables durable persistence of cart state under the
// given session key. Saves are best-effort and asynchronous.
func WithSnapshots(snaps persist.Snapshots, sessionID string) Option {
	return func(s *Store) {
		s.snaps = snaps
		s.sessionID = sessionID
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) { s.log = log }
}

// Store is the cart state store. One instance owns one cart; consumers
// read its state and invoke its operations but never mutate it
// directly. All methods are safe for concurrent use.
type Store struct {
	gw  gateway.CartGateway
	log logrus.FieldLogger

	mu           sync.Mutex
	items        []domain.LineItem // insertion order is display order
	handle       string            // remote cart handle, created lazily
	checkoutURL  string
	inflight     int  // mutating gateway ops outstanding, drives Loading
	syncing      bool
	closed       bool
	seq          uint64 // operation clock
	lastMutation uint64 // seq of the most recent local mutation
	pendingOps   map[string]int
	acked        map[string]bool // variants the gateway has confirmed at least once
	timers       map[string]*debounced
	timerGen     uint64

	// dispatchMu serializes mutating gateway calls in arrival order.
	dispatchMu  sync.Mutex
	createGroup singleflight.Group
	syncGroup   singleflight.Group

	debounce    time.Duration
	pushTimeout time.Duration

	snaps     persist.Snapshots
	sessionID string
	// saveMu orders snapshot writes; saveGen marks stale ones so a slow
	// save can never overwrite a newer state or a clear.
	saveMu  sync.Mutex
	saveGen uint64
}

func New(gw gateway.CartGateway, opts ...Option) *Store {
	s := &Store{
		gw:          gw,
		log:         logrus.StandardLogger(),
		debounce:    250 * time.Millisecond,
		pushTimeout: 10 * time.Second,
		pendingOps:  make(map[string]int),
		acked:       make(map[string]bool),
		timers:      make(map[string]*debounced),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore seeds a fresh store from persisted state. A missing snapshot
// is not an error. Restore is a no-op once the store has content.
func (s *Store) Restore(ctx context.Context) error {
	if s.snaps == nil {
		return nil
	}
	state, err := s.snaps.Get(ctx, s.sessionID)
	if errors.Is(err, persist.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore cart: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if len(s.items) > 0 || s.handle != "" {
		return nil
	}
	s.items = append([]domain.LineItem(nil), state.Items...)
	s.handle = state.Handle
	s.checkoutURL = state.CheckoutURL
	if state.Handle != "" {
		// Persisted lines were pushed during the previous session.
		for _, item := range s.items {
			s.acked[item.VariantID] = true
		}
	}
	return nil
}

// AddItem inserts a new line item at the end of the display order, or
// increments the quantity when the variant is already in the cart. The
// local mutation applies immediately; the gateway upsert follows and a
// failure there keeps the optimistic state.
func (s *Store) AddItem(ctx context.Context, e Entry) error {
	if e.VariantID == "" {
		return errors.New("cart: entry variant id is required")
	}
	qty := e.Quantity
	if qty == 0 {
		qty = 1
	}
	if qty < 0 {
		return fmt.Errorf("cart: quantity %d is not positive", e.Quantity)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if i := s.index(e.VariantID); i >= 0 {
		s.items[i].Quantity += qty
	} else {
		s.items = append(s.items, domain.LineItem{
			VariantID:       e.VariantID,
			VariantTitle:    e.VariantTitle,
			Quantity:        qty,
			Price:           e.Price,
			Product:         e.Product,
			SelectedOptions: e.SelectedOptions,
		})
	}
	s.bumpMutationLocked()
	s.beginOpLocked(e.VariantID)
	s.mu.Unlock()
	s.save()

	err := s.push(ctx, e.VariantID)
	s.endOp(e.VariantID)
	if err != nil {
		return fmt.Errorf("add %s: %w", e.VariantID, err)
	}
	return nil
}

// UpdateQuantity sets the absolute quantity for a variant. A quantity
// of zero or less removes the line. Updating a variant that is not in
// the cart resolves successfully without doing anything. With a
// debounce window configured, local state reflects every call
// instantly while only the last value reaches the gateway.
func (s *Store) UpdateQuantity(ctx context.Context, variantID string, quantity int) error {
	if quantity <= 0 {
		return s.RemoveItem(ctx, variantID)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	i := s.index(variantID)
	if i < 0 {
		s.mu.Unlock()
		return nil
	}
	s.items[i].Quantity = quantity
	s.bumpMutationLocked()

	if s.debounce > 0 {
		s.scheduleLocked(variantID)
		s.mu.Unlock()
		s.save()
		return nil
	}

	s.beginOpLocked(variantID)
	s.mu.Unlock()
	s.save()

	err := s.push(ctx, variantID)
	s.endOp(variantID)
	if err != nil {
		return fmt.Errorf("update %s: %w", variantID, err)
	}
	return nil
}

// RemoveItem removes the line for a variant. Removing an absent
// variant is a no-op, not an error.
func (s *Store) RemoveItem(ctx context.Context, variantID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	i := s.index(variantID)
	if i < 0 {
		s.mu.Unlock()
		return nil
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	s.bumpMutationLocked()
	// The removal supersedes any debounced quantity push.
	if d, ok := s.timers[variantID]; ok && d.timer.Stop() {
		delete(s.timers, variantID)
		s.endOpLocked(variantID)
	}
	s.beginOpLocked(variantID)
	s.mu.Unlock()
	s.save()

	err := s.push(ctx, variantID)
	s.endOp(variantID)
	if err != nil {
		return fmt.Errorf("remove %s: %w", variantID, err)
	}
	return nil
}

// Sync reconciles local state with the gateway's view of the cart.
// Remote is authoritative for existence and price of acknowledged
// lines; optimistic lines with a mutation still outstanding survive. A
// sync that lost the start-order race against a newer mutation
// discards its merge. A failed sync leaves state exactly as it was.
// Concurrent calls are coalesced into a single fetch.
func (s *Store) Sync(ctx context.Context) error {
	_, err, _ := s.syncGroup.Do("sync", func() (interface{}, error) {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		handle := s.handle
		empty := len(s.items) == 0
		start := s.seq
		s.syncing = true
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.syncing = false
			s.mu.Unlock()
		}()

		if handle == "" {
			if empty {
				// Nothing local and nothing remote; creating a cart
				// here would only mint an unused handle.
				return nil, nil
			}
			var err error
			handle, err = s.ensureHandle(ctx)
			if err != nil {
				return nil, fmt.Errorf("sync: %w", err)
			}
		}

		remote, err := s.gw.FetchCart(ctx, handle)
		if err != nil {
			return nil, fmt.Errorf("sync: %w", err)
		}
		s.merge(remote, start)
		s.save()
		return nil, nil
	})
	return err
}

// Flush pushes any debounced quantity changes out immediately. Callers
// use it before handing off to checkout.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	variants := make([]string, 0, len(s.timers))
	for v, d := range s.timers {
		if d.timer.Stop() {
			delete(s.timers, v)
			variants = append(variants, v)
		}
	}
	s.mu.Unlock()
	sort.Strings(variants)

	var errs []error
	for _, v := range variants {
		if err := s.push(ctx, v); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", v, err))
		}
		s.endOp(v)
	}
	return errors.Join(errs...)
}

// Clear resets the cart after a checkout hand-off or an explicit user
// action. The remote cart is abandoned, not emptied: the backend owns
// its lifecycle once checkout begins.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	for v, d := range s.timers {
		if d.timer.Stop() {
			delete(s.timers, v)
			s.endOpLocked(v)
		}
	}
	s.items = nil
	s.handle = ""
	s.checkoutURL = ""
	s.acked = make(map[string]bool)
	s.bumpMutationLocked()
	s.saveGen++ // pending snapshot saves are now stale
	s.mu.Unlock()

	if s.snaps != nil {
		s.saveMu.Lock()
		defer s.saveMu.Unlock()
		if err := s.snaps.Delete(ctx, s.sessionID); err != nil {
			return fmt.Errorf("clear snapshot: %w", err)
		}
	}
	return nil
}

// Close disposes the store. In-flight gateway calls are allowed to
// finish but their results are discarded.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for v, d := range s.timers {
		if d.timer.Stop() {
			delete(s.timers, v)
			s.endOpLocked(v)
		}
	}
}

// CheckoutURL returns the checkout address derived from the last-known
// remote state. It never performs I/O. The second return is false when
// no remote cart exists yet or the cart is empty.
func (s *Store) CheckoutURL() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == "" || s.checkoutURL == "" || len(s.items) == 0 {
		return "", false
	}
	return s.checkoutURL, true
}

// RemoteHandle returns the remote cart handle, if one has been created.
func (s *Store) RemoteHandle() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle, s.handle != ""
}

// Items returns the line items in display order. The slice is a copy.
func (s *Store) Items() []domain.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.LineItem(nil), s.items...)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// TotalQuantity is the sum of all line quantities.
func (s *Store) TotalQuantity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, item := range s.items {
		total += item.Quantity
	}
	return total
}

// Subtotal sums quantity times add-time unit price over all lines. The
// currency is taken from the first line and is empty for an empty cart.
func (s *Store) Subtotal() domain.Money {
	items := s.Items()
	total := decimal.Zero
	currency := ""
	for i, item := range items {
		if i == 0 {
			currency = item.Price.CurrencyCode
		}
		sub, err := item.Subtotal()
		if err != nil {
			s.log.WithError(err).WithField("variant_id", item.VariantID).Warn("skipping line with bad price")
			continue
		}
		total = total.Add(sub)
	}
	return domain.Money{Amount: total.StringFixed(2), CurrencyCode: currency}
}

// Loading reports whether a line-item mutation is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

// Syncing reports whether a reconciliation pass is in flight.
func (s *Store) Syncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncing
}

// push sends the current local truth for one variant to the gateway:
// an absolute-quantity upsert when the line exists, a removal when it
// does not. Reading state at dispatch time (under dispatchMu) means a
// queued push can never deliver a quantity older than the one a later
// push already delivered.
func (s *Store) push(ctx context.Context, variantID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	present := s.index(variantID) >= 0
	handleKnown := s.handle != ""
	s.mu.Unlock()

	if !present && !handleKnown {
		// Removing from a cart that never reached the gateway: there
		// is no remote line to delete.
		return nil
	}

	handle, err := s.ensureHandle(ctx)
	if err != nil {
		return err
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	quantity := 0
	present = false
	if i := s.index(variantID); i >= 0 {
		quantity, present = s.items[i].Quantity, true
	}
	s.mu.Unlock()

	var remote gateway.RemoteCart
	if present {
		remote, err = s.gw.AddOrUpdateLine(ctx, handle, variantID, quantity)
	} else {
		remote, err = s.gw.RemoveLine(ctx, handle, variantID)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.closed {
		s.checkoutURL = remote.CheckoutURL
		if present {
			s.acked[variantID] = true
		} else {
			delete(s.acked, variantID)
		}
	}
	s.mu.Unlock()
	s.save()
	return nil
}

// ensureHandle returns the remote cart handle, creating it on first
// use. Concurrent first mutations are collapsed into one creation; a
// racer that loses adopts the winner's handle instead of minting a
// duplicate remote cart.
func (s *Store) ensureHandle(ctx context.Context) (string, error) {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle != "" {
		return handle, nil
	}

	v, err, _ := s.createGroup.Do("create", func() (interface{}, error) {
		s.mu.Lock()
		if s.handle != "" {
			handle := s.handle
			s.mu.Unlock()
			return handle, nil
		}
		s.mu.Unlock()

		created, err := s.gw.CreateCart(ctx)
		if err != nil {
			return "", fmt.Errorf("create remote cart: %w", err)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return "", ErrClosed
		}
		if s.handle == "" {
			s.handle = created
		}
		return s.handle, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// merge folds the fetched remote view into local state. start is the
// operation clock reading taken when the sync began.
func (s *Store) merge(remote gateway.RemoteCart, start uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.lastMutation > start {
		// A mutation started after this sync began, so local state is
		// newer than the fetched view. Last writer wins by start order.
		return
	}

	s.checkoutURL = remote.CheckoutURL

	byVariant := make(map[string]gateway.RemoteLine, len(remote.Lines))
	for _, ln := range remote.Lines {
		byVariant[ln.VariantID] = ln
	}

	merged := make([]domain.LineItem, 0, len(s.items)+len(remote.Lines))
	seen := make(map[string]bool, len(s.items))
	for _, item := range s.items {
		seen[item.VariantID] = true
		rl, ok := byVariant[item.VariantID]
		switch {
		case ok:
			// Remote owns the price. Quantity follows remote only when
			// no push for this variant is outstanding.
			item.Price = rl.Price
			if s.pendingOps[item.VariantID] == 0 {
				if rl.Quantity < 1 {
					// A line below one does not exist; remote zeroed it.
					delete(s.acked, item.VariantID)
					continue
				}
				item.Quantity = rl.Quantity
			}
			s.acked[item.VariantID] = true
			merged = append(merged, item)
		case s.pendingOps[item.VariantID] > 0 || !s.acked[item.VariantID]:
			// Optimistic line the gateway has not acknowledged yet,
			// either because its push is still in flight or because
			// the push failed. It stays until an acknowledged state
			// says otherwise.
			merged = append(merged, item)
		default:
			// Acknowledged before but gone remotely: remote wins.
			delete(s.acked, item.VariantID)
		}
	}
	for _, rl := range remote.Lines {
		if seen[rl.VariantID] || s.pendingOps[rl.VariantID] > 0 || rl.Quantity < 1 {
			continue
		}
		merged = append(merged, lineFromRemote(rl))
	}
	s.items = merged
}

func (s *Store) scheduleLocked(variantID string) {
	if d, ok := s.timers[variantID]; ok && d.timer.Stop() {
		d.timer.Reset(s.debounce)
		return
	}
	// No timer, or it expired and its fire is waiting on the state
	// lock. A fresh timer under a new generation owns the push now; the
	// waiting fire sees the generation mismatch and yields.
	s.timerGen++
	gen := s.timerGen
	s.beginOpLocked(variantID)
	d := &debounced{gen: gen}
	d.timer = time.AfterFunc(s.debounce, func() {
		s.firePending(variantID, gen)
	})
	s.timers[variantID] = d
}

func (s *Store) firePending(variantID string, gen uint64) {
	s.mu.Lock()
	d, ok := s.timers[variantID]
	if !ok || d.gen != gen {
		// Superseded while waiting on the lock.
		s.endOpLocked(variantID)
		s.mu.Unlock()
		return
	}
	delete(s.timers, variantID)
	if s.closed {
		s.endOpLocked(variantID)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.pushTimeout)
	defer cancel()
	if err := s.push(ctx, variantID); err != nil {
		// There is no caller left to report to; the optimistic value
		// stays and the next sync or push reconciles.
		s.log.WithError(err).WithField("variant_id", variantID).Warn("debounced quantity push failed")
	}
	s.endOp(variantID)
}

func (s *Store) index(variantID string) int {
	for i := range s.items {
		if s.items[i].VariantID == variantID {
			return i
		}
	}
	return -1
}

func (s *Store) bumpMutationLocked() {
	s.seq++
	s.lastMutation = s.seq
}

func (s *Store) beginOpLocked(variantID string) {
	s.inflight++
	s.pendingOps[variantID]++
}

func (s *Store) endOpLocked(variantID string) {
	s.inflight--
	if s.pendingOps[variantID] <= 1 {
		delete(s.pendingOps, variantID)
	} else {
		s.pendingOps[variantID]--
	}
}

func (s *Store) endOp(variantID string) {
	s.mu.Lock()
	s.endOpLocked(variantID)
	s.mu.Unlock()
}

func (s *Store) save() {
	if s.snaps == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.saveGen++
	gen := s.saveGen
	state := &persist.State{
		Handle:      s.handle,
		CheckoutURL: s.checkoutURL,
		Items:       append([]domain.LineItem(nil), s.items...),
	}
	s.mu.Unlock()

	go func() {
		s.saveMu.Lock()
		defer s.saveMu.Unlock()
		s.mu.Lock()
		stale := gen != s.saveGen
		s.mu.Unlock()
		if stale {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.snaps.Set(ctx, s.sessionID, state); err != nil {
			s.log.WithError(err).Warn("cart snapshot save failed")
		}
	}()
}

func lineFromRemote(rl gateway.RemoteLine) domain.LineItem {
	return domain.LineItem{
		VariantID:    rl.VariantID,
		VariantTitle: rl.VariantTitle,
		Quantity:     rl.Quantity,
		Price:        rl.Price,
		Product: domain.ProductSnapshot{
			ProductID: rl.ProductID,
			Title:     rl.ProductTitle,
			Handle:    rl.ProductHandle,
			ImageURL:  rl.ImageURL,
		},
		SelectedOptions: rl.SelectedOptions,
	}
}
