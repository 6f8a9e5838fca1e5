package gosession

import (
	"context"
	"errors"
	"time"

	"golang.org/x/exp/slog"

	"github.com/swfrench/gosession/sessionkey"
	"github.com/swfrench/gosession/store"
)

// keysTable is the logical namespace SessionKey rows are persisted under,
// kept distinct from the session-record table since the two have unrelated
// lifetimes and payload shapes.
func (s *Store) keysTable() string { return s.cfg.Database.TableName + "_keys" }

func (s *Store) keyEntryFor(id string, create bool) (*keyEntry, bool) {
	s.mapsMu.RLock()
	e, ok := s.keys[id]
	s.mapsMu.RUnlock()
	if ok || !create {
		return e, ok
	}
	s.mapsMu.Lock()
	defer s.mapsMu.Unlock()
	if e, ok := s.keys[id]; ok {
		return e, true
	}
	e = &keyEntry{}
	s.keys[id] = e
	return e, false
}

// getOrCreateSessionKey resolves the per-session encryption key named by id
// (when present and still live in the live set, in the backend, or
// otherwise mints a fresh one). Used only in config.PerSession mode.
func (s *Store) getOrCreateSessionKey(ctx context.Context, id string, idOK bool, now time.Time) (*sessionkey.Key, error) {
	if idOK {
		if ke, ok := s.keyEntryFor(id, false); ok {
			ke.mu.Lock()
			k := ke.key
			ke.mu.Unlock()
			if k != nil && k.Autoremove.After(now) {
				return k, nil
			}
		} else if s.backend != nil {
			serialized, err := s.backend.Load(ctx, id, s.keysTable())
			if err != nil {
				slog.Info("gosession: session key load failed, minting a fresh key", "id", id, "error", err)
			} else if serialized != nil {
				k, derr := sessionkey.DecryptAtRest(s.cfg.Database.DatabaseKey, id, *serialized, now.Add(s.cfg.MaxLifespan))
				if derr == nil {
					s.putKey(k)
					return k, nil
				}
				slog.Info("gosession: stored session key failed to decrypt, minting a fresh key", "id", id, "error", derr)
			}
		}
	}
	return s.createSessionKey(ctx, now)
}

func (s *Store) createSessionKey(ctx context.Context, now time.Time) (*sessionkey.Key, error) {
	id, err := s.generateUniqueID(ctx)
	if err != nil {
		return nil, err
	}
	k, err := sessionkey.New(id, now.Add(s.cfg.MaxLifespan))
	if err != nil {
		return nil, err
	}
	s.putKey(k)
	if s.backend != nil {
		sealed, err := k.EncryptAtRest(s.cfg.Database.DatabaseKey)
		if err != nil {
			return nil, err
		}
		if err := s.backend.Store(ctx, k.ID, sealed, k.Autoremove.Unix(), s.keysTable()); err != nil {
			slog.Error("gosession: failed to persist session key", "id", k.ID, "error", err)
		}
	}
	return k, nil
}

func (s *Store) putKey(k *sessionkey.Key) {
	ke, _ := s.keyEntryFor(k.ID, true)
	ke.mu.Lock()
	ke.key = k
	ke.mu.Unlock()
}

// rotateSessionKey implements the PerSession half of renewal: a fresh
// SessionKey is minted and the old one's row is durably deleted, so a
// renewed session's credentials are never sealed under a key an attacker
// may have observed prior to renewal. A nil old key (config.Simple mode)
// is a no-op.
func (s *Store) rotateSessionKey(ctx context.Context, old *sessionkey.Key, now time.Time) (*sessionkey.Key, error) {
	if old == nil {
		return nil, nil
	}
	fresh, err := s.createSessionKey(ctx, now)
	if err != nil {
		return nil, err
	}
	s.deleteSessionKey(ctx, old.ID)
	return fresh, nil
}

func (s *Store) deleteSessionKey(ctx context.Context, id string) {
	s.mapsMu.Lock()
	delete(s.keys, id)
	s.mapsMu.Unlock()
	if s.backend != nil {
		if err := s.backend.DeleteOneByID(ctx, id, s.keysTable()); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
			slog.Error("gosession: failed to delete pre-renewal session key", "id", id, "error", err)
		}
	}
}
