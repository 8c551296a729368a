package topics

import (
	"context"
	"maps"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"task-sync/domain"
)

// storageKey is the single key the whole mapping is persisted under.
const storageKey = "subscriptions"

// KV is local key-value persistence.
type KV interface {
	GetString(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Updater is implemented by KVs that can read, modify and write a key
// atomically. Toggle uses it so concurrent toggles of one installation
// never lose a flip.
type Updater interface {
	Update(ctx context.Context, key string, fn func(current string, found bool) (string, error)) error
}

// Registrar manages push topic membership with the notification backend.
type Registrar interface {
	SubscribeToTopic(ctx context.Context, topic string) error
	UnsubscribeFromTopic(ctx context.Context, topic string) error
}

// Store tracks which categories the user wants push notifications for. The
// local flag is the source of truth for the UI; the registrar is told about
// changes on a best effort basis.
type Store struct {
	kv         KV
	registrar  Registrar
	categories []domain.Category
	log        log.FieldLogger

	subs map[domain.Category]bool
}

// Load reads the persisted mapping. Categories without a persisted value
// start unsubscribed.
func Load(ctx context.Context, kv KV, registrar Registrar, categories []domain.Category, logger log.FieldLogger) (*Store, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Store{
		kv:         kv,
		registrar:  registrar,
		categories: categories,
		log:        logger,
	}
	raw, ok, err := kv.GetString(ctx, storageKey)
	if err != nil {
		return nil, err
	}
	s.subs = s.decode(raw, ok)
	return s, nil
}

func (s *Store) decode(raw string, found bool) map[domain.Category]bool {
	subs := make(map[domain.Category]bool, len(s.categories))
	for _, c := range s.categories {
		subs[c] = false
	}
	if !found {
		return subs
	}
	var saved map[string]bool
	if err := sonic.UnmarshalString(raw, &saved); err != nil {
		s.log.WithError(err).Warn("discarding unreadable topic subscriptions")
		return subs
	}
	for name, on := range saved {
		subs[domain.Category(name)] = on
	}
	return subs
}

// State returns a copy of the mapping.
func (s *Store) State() map[domain.Category]bool {
	return maps.Clone(s.subs)
}

// Subscribed reports the flag for one category.
func (s *Store) Subscribed(c domain.Category) bool {
	return s.subs[c]
}

// Toggle flips the flag for one category, persists the whole mapping and then
// asks the registrar to follow. A registrar failure is logged and the local
// flag is kept.
func (s *Store) Toggle(ctx context.Context, c domain.Category) (bool, error) {
	if !s.known(c) {
		return false, domain.ErrUnknownCategory
	}
	next, err := s.write(ctx, c)
	if err != nil {
		return s.subs[c], err
	}
	s.subs = next
	on := next[c]

	logger := s.log.WithField("category", c)
	if on {
		err = s.registrar.SubscribeToTopic(ctx, string(c))
	} else {
		err = s.registrar.UnsubscribeFromTopic(ctx, string(c))
	}
	switch {
	case err != nil:
		logger.WithError(err).Error("Error toggling topic subscription")
	case on:
		logger.Info("Subscribed to topic")
	default:
		logger.Info("Unsubscribed from topic")
	}
	return on, nil
}

// write persists the mapping with c flipped. With an Updater the flip is
// applied to the stored mapping, which may be newer than the loaded one.
func (s *Store) write(ctx context.Context, c domain.Category) (map[domain.Category]bool, error) {
	if u, ok := s.kv.(Updater); ok {
		var next map[domain.Category]bool
		err := u.Update(ctx, storageKey, func(current string, found bool) (string, error) {
			next = s.decode(current, found)
			next[c] = !next[c]
			return sonic.MarshalString(next)
		})
		return next, err
	}
	next := maps.Clone(s.subs)
	next[c] = !next[c]
	data, err := sonic.MarshalString(next)
	if err != nil {
		return nil, err
	}
	if err := s.kv.Set(ctx, storageKey, data); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Store) known(c domain.Category) bool {
	for _, k := range s.categories {
		if k == c {
			return true
		}
	}
	return false
}
