package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/medihub-cart/internal/events"
	"github.com/noah-isme/medihub-cart/internal/geo"
	"github.com/noah-isme/medihub-cart/internal/obs"
	"github.com/noah-isme/medihub-cart/internal/pricing"
	"github.com/noah-isme/medihub-cart/internal/session"
)

// Storage keys. The version suffix guards against misreading older layouts.
const (
	CartKey     = "medihub_cart_v1"
	LocationKey = "medihub_delivery_location_v1"
)

// Status messages returned by Add.
const (
	MsgAdded            = "Added to cart"
	MsgSwitchedPharmacy = "Cart switched to selected pharmacy"
	MsgMissingProduct   = "Product is missing an identifier"
	MsgOutOfStock       = "This medicine is currently out of stock"
	MsgMissingPharmacy  = "Pharmacy information is missing for this medicine"
)

// ErrDecode wraps failures to decode a persisted cart.
var ErrDecode = errors.New("cart: decode stored cart")

// AddResult reports the outcome of Add. A non-ok result leaves the cart untouched.
type AddResult struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message,omitempty"`
	Switched bool   `json:"switched,omitempty"`
}

// Store owns the persisted cart of each session. Keys are namespaced by the
// session carried on the context.
type Store struct {
	KV     KV
	Bus    *events.Bus
	Logger zerolog.Logger

	mu sync.Mutex
}

// NewStore constructs a store over kv publishing changes on bus.
func NewStore(kv KV, bus *events.Bus, logger zerolog.Logger) *Store {
	return &Store{KV: kv, Bus: bus, Logger: logger}
}

// Items returns the current cart. Missing, unreadable or corrupted data yields
// an empty cart.
func (s *Store) Items(ctx context.Context) []LineItem {
	items, err := s.load(ctx)
	if err != nil {
		s.Logger.Error().Err(err).Str("key", session.Key(ctx, CartKey)).Msg("read cart")
		return []LineItem{}
	}
	return items
}

// Count returns the total quantity across all lines.
func (s *Store) Count(ctx context.Context) int {
	total := 0
	for _, it := range s.Items(ctx) {
		total += it.Quantity
	}
	return total
}

// PharmacyID returns the pharmacy fulfilling the current cart.
func (s *Store) PharmacyID(ctx context.Context) (ID, bool) {
	items := s.Items(ctx)
	if len(items) == 0 {
		return "", false
	}
	return items[0].PharmacyID, true
}

// SetItems replaces the stored cart wholesale. Lines for the same product are
// merged into the first one and lines from a pharmacy other than the first
// line's are dropped, so a stored cart always has unique ids and one pharmacy.
func (s *Store) SetItems(ctx context.Context, items []LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.write(ctx, normalizeItems(items))
	obs.ObserveCartMutation("set", err)
	return err
}

// Clear empties the cart.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.write(ctx, nil)
	obs.ObserveCartMutation("clear", err)
	return err
}

// Add puts one unit of p into the cart. A product from a different pharmacy
// replaces the whole cart. Stock is only checked when the product is first
// added, not when an existing line is incremented.
func (s *Store) Add(ctx context.Context, p Product) (AddResult, error) {
	switch {
	case p.ID.Empty():
		obs.ObserveCartMutation("add", obs.ErrRejected)
		return AddResult{Message: MsgMissingProduct}, nil
	case !p.InStock():
		obs.ObserveCartMutation("add", obs.ErrRejected)
		return AddResult{Message: MsgOutOfStock}, nil
	case p.PharmacyID.Empty():
		obs.ObserveCartMutation("add", obs.ErrRejected)
		return AddResult{Message: MsgMissingPharmacy}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load(ctx)
	if err != nil && !errors.Is(err, ErrDecode) {
		obs.ObserveCartMutation("add", err)
		return AddResult{}, err
	}
	if err != nil {
		s.Logger.Warn().Err(err).Msg("discard corrupted cart")
		items = nil
	}

	result := AddResult{OK: true, Message: MsgAdded}
	switch idx := slices.IndexFunc(items, func(it LineItem) bool { return it.ID == p.ID }); {
	case len(items) > 0 && items[0].PharmacyID != p.PharmacyID:
		items = []LineItem{p.lineItem()}
		result.Message = MsgSwitchedPharmacy
		result.Switched = true
	case idx >= 0:
		items[idx].Quantity++
	default:
		items = append(items, p.lineItem())
	}

	if err := s.write(ctx, items); err != nil {
		obs.ObserveCartMutation("add", err)
		return AddResult{}, err
	}
	obs.ObserveCartMutation("add", nil)
	return result, nil
}

// UpdateQuantity sets the quantity of a line; qty <= 0 removes it. Unknown
// ids are ignored.
func (s *Store) UpdateQuantity(ctx context.Context, id ID, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.mutate(ctx, func(items []LineItem) []LineItem {
		if qty <= 0 {
			return removeID(items, id)
		}
		for i := range items {
			if items[i].ID == id {
				items[i].Quantity = qty
			}
		}
		return items
	})
	obs.ObserveCartMutation("update_quantity", err)
	return err
}

// Remove deletes the line with the given id if present.
func (s *Store) Remove(ctx context.Context, id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.mutate(ctx, func(items []LineItem) []LineItem {
		return removeID(items, id)
	})
	obs.ObserveCartMutation("remove", err)
	return err
}

// Subscribe registers fn for change notifications.
func (s *Store) Subscribe(fn events.Handler) func() {
	return s.Bus.Subscribe(fn)
}

// SetDeliveryLocation stores the customer's shared position.
func (s *Store) SetDeliveryLocation(ctx context.Context, p geo.Point) error {
	if !p.Valid() {
		return fmt.Errorf("cart: invalid coordinates %v,%v", p.Lat, p.Lng)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.KV.Set(ctx, session.Key(ctx, LocationKey), string(data)); err != nil {
		return fmt.Errorf("cart: persist location: %w", err)
	}
	s.emit(ctx, events.TopicDeliveryLocationUpdated, p)
	return nil
}

// DeliveryLocation returns the customer's shared position, if any.
func (s *Store) DeliveryLocation(ctx context.Context) (geo.Point, bool) {
	raw, ok, err := s.KV.Get(ctx, session.Key(ctx, LocationKey))
	if err != nil {
		s.Logger.Error().Err(err).Msg("read delivery location")
		return geo.Point{}, false
	}
	if !ok || raw == "" {
		return geo.Point{}, false
	}
	var p geo.Point
	if err := json.Unmarshal([]byte(raw), &p); err != nil || !p.Valid() {
		return geo.Point{}, false
	}
	return p, true
}

// Locator exposes the session's shared delivery location to the surcharge
// resolver.
func (s *Store) Locator() geo.Locator {
	return storedLocator{store: s}
}

type storedLocator struct {
	store *Store
}

func (l storedLocator) CurrentPosition(ctx context.Context) (geo.Point, error) {
	if p, ok := l.store.DeliveryLocation(ctx); ok {
		return p, nil
	}
	return geo.Point{}, geo.ErrLocationUnavailable
}

func (s *Store) mutate(ctx context.Context, fn func([]LineItem) []LineItem) error {
	items, err := s.load(ctx)
	if err != nil && !errors.Is(err, ErrDecode) {
		return err
	}
	if err != nil {
		s.Logger.Warn().Err(err).Msg("discard corrupted cart")
		items = nil
	}
	return s.write(ctx, fn(items))
}

func (s *Store) load(ctx context.Context) ([]LineItem, error) {
	if s.KV == nil {
		return nil, errors.New("cart: store not configured")
	}
	raw, ok, err := s.KV.Get(ctx, session.Key(ctx, CartKey))
	if err != nil {
		return nil, fmt.Errorf("cart: read: %w", err)
	}
	if !ok {
		return []LineItem{}, nil
	}
	return decodeItems(raw)
}

func (s *Store) write(ctx context.Context, items []LineItem) error {
	if s.KV == nil {
		return errors.New("cart: store not configured")
	}
	if items == nil {
		items = []LineItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("cart: encode: %w", err)
	}
	if err := s.KV.Set(ctx, session.Key(ctx, CartKey), string(data)); err != nil {
		return fmt.Errorf("cart: persist: %w", err)
	}
	count := 0
	for _, it := range items {
		count += it.Quantity
	}
	s.emit(ctx, events.TopicCartUpdated, map[string]any{"lines": len(items), "count": count})
	return nil
}

func (s *Store) emit(ctx context.Context, topic string, payload any) {
	if s.Bus == nil {
		return
	}
	sid, _ := session.From(ctx)
	if _, err := s.Bus.Emit(ctx, topic, sid, payload); err != nil {
		s.Logger.Warn().Err(err).Str("topic", topic).Msg("emit change notification")
	}
}

// decodeItems parses a persisted cart. Blank input is an empty cart; JSON that
// is not an array of items is reported as ErrDecode.
func decodeItems(raw string) ([]LineItem, error) {
	if raw == "" {
		return []LineItem{}, nil
	}
	var items []LineItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if items == nil {
		items = []LineItem{}
	}
	return items, nil
}

func normalizeItems(items []LineItem) []LineItem {
	out := make([]LineItem, 0, len(items))
	index := make(map[ID]int, len(items))
	for _, it := range items {
		if it.ID.Empty() {
			continue
		}
		if len(out) > 0 && it.PharmacyID != out[0].PharmacyID {
			continue
		}
		if i, ok := index[it.ID]; ok {
			out[i].Quantity = min(out[i].Quantity+it.Quantity, pricing.MaxQuantity)
			continue
		}
		index[it.ID] = len(out)
		out = append(out, it)
	}
	return out
}

func removeID(items []LineItem, id ID) []LineItem {
	return slices.DeleteFunc(items, func(it LineItem) bool { return it.ID == id })
}
