package gosession

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/exp/slog"

	"github.com/swfrench/gosession/config"
	"github.com/swfrench/gosession/sessionkey"
	"github.com/swfrench/gosession/store"
)

// sessionCookieGracePeriod pads the outbound cookie's lifetime (its Expires
// attribute) past the record's durable expiry, so a client clock slightly ahead of the server
// does not discard the cookie just before the server considers it dead.
const sessionCookieGracePeriod = 10 * time.Minute

// bufferedResponseWriter defers header emission until flush is called,
// letting Middleware finish post-processing (which decides what session
// credentials to emit) before anything is written to the wire. This mirrors
// the "one full response, then ship it" framing the pipeline is specified
// against.
type bufferedResponseWriter struct {
	underlying  http.ResponseWriter
	header      http.Header
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func newBufferedResponseWriter(w http.ResponseWriter) *bufferedResponseWriter {
	return &bufferedResponseWriter{underlying: w, header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedResponseWriter) Header() http.Header { return b.header }

func (b *bufferedResponseWriter) WriteHeader(status int) {
	if b.wroteHeader {
		return
	}
	b.status = status
	b.wroteHeader = true
}

func (b *bufferedResponseWriter) Write(p []byte) (int, error) {
	b.wroteHeader = true
	return b.body.Write(p)
}

// flush copies the buffered header, status, and body to the real
// ResponseWriter. Must be called exactly once, after any session credentials
// have been added to b.Header().
func (b *bufferedResponseWriter) flush() {
	dst := b.underlying.Header()
	for k, vs := range b.header {
		dst[k] = vs
	}
	b.underlying.WriteHeader(b.status)
	b.underlying.Write(b.body.Bytes())
}

// resolveSealKey implements the per-session-key half of Middleware Service
// step 1/2: in config.Simple mode, the single master key seals every token;
// in config.PerSession mode, the inbound session-key-ID token (itself always
// sealed under the master key) names the SessionKey whose secret seals the
// session-ID and storable tokens, minting one if absent.
func (s *Store) resolveSealKey(ctx context.Context, r *http.Request, now time.Time) ([]byte, *sessionkey.Key, error) {
	if s.cfg.SecurityMode != config.PerSession {
		return s.cfg.Cookie.Key, nil, nil
	}
	keyID, keyIDOK, _ := s.codec.Get(r, s.cfg.Cookie.KeyCookieName, s.cfg.Cookie.Key)
	key, err := s.getOrCreateSessionKey(ctx, keyID, keyIDOK, now)
	if err != nil {
		return nil, nil, err
	}
	return key.Secret, key, nil
}

// ensureRecord implements Middleware Service step 3: keeping a live record,
// adopting a loaded one, or synthesizing a fresh one. Middleware does not
// call it for a fresh ID in Manual mode, so no record exists until
// CreateData.
func (s *Store) ensureRecord(ctx context.Context, id string, attemptLoad bool, storableDefault bool, now time.Time) (created bool) {
	e, existed := s.entryFor(id, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec != nil {
		return false
	}
	if attemptLoad && s.backend != nil {
		serialized, err := s.backend.Load(ctx, id, s.cfg.Database.TableName)
		if err != nil {
			slog.Info("gosession: backend load failed, synthesizing fresh record", "id", id, "error", err)
		} else if serialized != nil {
			var rec Record
			if err := json.Unmarshal([]byte(*serialized), &rec); err != nil {
				slog.Error("gosession: stored record could not be decoded, synthesizing fresh record", "id", id, "error", err)
			} else {
				e.rec = &rec
				return !existed
			}
		}
	}
	e.rec = newRecord(id, storableDefault, now, s.cfg.Memory.MemoryLifespan)
	return true
}

// touchRecord implements Middleware Service step 4.
func (s *Store) touchRecord(id string, now time.Time) error {
	return s.withRecord(id, func(rec *Record) error {
		if s.cfg.ClearCheckOnLoad {
			rec.resetIfInvalid(now)
		}
		rec.Autoremove = now.Add(s.cfg.Memory.MemoryLifespan)
		rec.Requests++
		return nil
	})
}

func (s *Store) dropLive(id string) {
	s.mapsMu.Lock()
	delete(s.records, id)
	s.mapsMu.Unlock()
}

// rotateID implements the ID-rotation half of Middleware Service step 8. A
// failed delete of the pre-renewal backend row is logged, not returned.
func (s *Store) rotateID(ctx context.Context, oldID string) (string, error) {
	newID, err := s.generateUniqueID(ctx)
	if err != nil {
		return "", err
	}

	s.mapsMu.Lock()
	e, ok := s.records[oldID]
	if !ok {
		s.mapsMu.Unlock()
		return "", fmt.Errorf("%w: no live record for id %q", store.ErrSessionNotFound, oldID)
	}
	delete(s.records, oldID)
	s.records[newID] = e
	s.mapsMu.Unlock()

	e.mu.Lock()
	if e.rec != nil {
		e.rec.ID = newID
		e.rec.Renew = false
	}
	e.mu.Unlock()

	if s.backend != nil {
		if err := s.backend.DeleteOneByID(ctx, oldID, s.cfg.Database.TableName); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
			slog.Error("gosession: failed to delete pre-renewal backend row", "id", oldID, "error", err)
		}
	}
	if s.filter != nil {
		s.filter.remove(oldID)
	}
	return newID, nil
}

func (s *Store) persist(ctx context.Context, rec *Record) error {
	serialized, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidSessionData, err)
	}
	return s.backend.Store(ctx, rec.ID, string(serialized), rec.Expires.Unix(), s.cfg.Database.TableName)
}

// evict implements the unconditional-removal branch of Middleware Service
// step 8 (destroy, or opt-in retraction): the record leaves the live set,
// the filter, and the backend together, since the backend delete below
// happens synchronously right here. A failed backend delete is returned.
func (s *Store) evict(ctx context.Context, id string) error {
	s.dropLive(id)
	if s.filter != nil {
		s.filter.remove(id)
	}
	if s.backend != nil {
		if err := s.backend.DeleteOneByID(ctx, id, s.cfg.Database.TableName); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
			return fmt.Errorf("gosession: failed to delete backend row for %q: %w", id, err)
		}
	}
	return nil
}

// dropMemoryOnly implements the memory_lifespan==0 branch of step 8: the
// filter is reconciled only when there is no backend to later correct it via
// the durable sweep.
func (s *Store) dropMemoryOnly(id string) {
	s.dropLive(id)
	if s.filter != nil && s.backend == nil {
		s.filter.remove(id)
	}
}

// postOutcome summarizes the decisions of Middleware Service step 8, feeding
// step 9's credential emission.
type postOutcome struct {
	finalID  string
	key      *sessionkey.Key
	removed  bool
	storable bool
	longterm bool
}

// postProcess implements Middleware Service step 8. key is the SessionKey
// resolved for this request in config.PerSession mode (nil in
// config.Simple mode); on renewal it is rotated alongside the session ID,
// and the returned postOutcome.key must be used in place of key when
// sealing outbound credentials.
func (s *Store) postProcess(ctx context.Context, id string, now time.Time, key *sessionkey.Key) (postOutcome, error) {
	out := postOutcome{finalID: id, key: key}

	e, ok := s.entryFor(id, false)
	if !ok {
		// Manual mode with no record ever created (create_data was never
		// called): there is nothing to persist or link back to, so the
		// response must withdraw any stale credentials rather than mint new
		// ones for a record that doesn't exist.
		out.removed = true
		return out, nil
	}

	e.mu.Lock()
	rec := e.rec
	if rec == nil {
		e.mu.Unlock()
		out.removed = true
		return out, nil
	}
	renew, destroy := rec.Renew, rec.Destroy
	e.mu.Unlock()

	if renew && !destroy {
		newID, err := s.rotateID(ctx, id)
		if err != nil {
			slog.Error("gosession: id rotation failed", "id", id, "error", err)
		} else {
			id = newID
			out.finalID = newID
			e, ok = s.entryFor(id, false)
		}
		newKey, err := s.rotateSessionKey(ctx, key, now)
		if err != nil {
			slog.Error("gosession: session key rotation failed", "id", id, "error", err)
		} else if newKey != nil {
			out.key = newKey
		}
	}
	if !ok {
		return out, nil
	}

	e.mu.Lock()
	rec = e.rec
	if rec == nil {
		e.mu.Unlock()
		return out, nil
	}
	out.storable = rec.Storable || !s.cfg.SessionMode.IsStorable()
	out.longterm = rec.Longterm
	var snapshot *Record
	if !destroy && out.storable {
		// Without a backend the refreshed Expires still keeps the live
		// record valid for the next request's touchRecord check.
		if s.cfg.Database.AlwaysSave || rec.Update || rec.Expires.Before(now) {
			lifespan := s.cfg.Lifespan
			if rec.Longterm {
				lifespan = s.cfg.MaxLifespan
			}
			rec.Expires = now.Add(lifespan)
			rec.Update = false
			if s.backend != nil {
				snapshot = rec.clone()
			}
		}
	}

	if rec.Requests > 0 {
		rec.Requests--
	}
	requests := rec.Requests
	e.mu.Unlock()

	if snapshot != nil {
		if err := s.persist(ctx, snapshot); err != nil {
			return out, fmt.Errorf("gosession: write-back failed for %q: %w", id, err)
		}
	}

	switch {
	case requests == 0 && ((s.cfg.SessionMode.IsStorable() && !out.storable) || destroy):
		if err := s.evict(ctx, id); err != nil {
			return out, err
		}
		out.removed = true
	case requests == 0 && s.cfg.Memory.MemoryLifespan <= 0:
		s.dropMemoryOnly(id)
	}

	return out, nil
}

func (s *Store) cookieMaxAge(longterm bool) time.Duration {
	if s.cfg.Cookie.MaxAge > 0 {
		return s.cfg.Cookie.MaxAge
	}
	if longterm {
		return s.cfg.MaxLifespan + sessionCookieGracePeriod
	}
	return s.cfg.Lifespan + sessionCookieGracePeriod
}

// emit implements Middleware Service step 9. The session-id and storable
// tokens are sealed under out.key's secret when in config.PerSession mode
// (out.key reflects any rotation postProcess performed), or under the
// master key otherwise.
func (s *Store) emit(w http.ResponseWriter, r *http.Request, out postOutcome, now time.Time) {
	if out.removed {
		s.codec.Tombstone(w, s.cfg.Cookie.SessionName)
		if s.cfg.SessionMode.IsStorable() {
			s.codec.Tombstone(w, s.cfg.Cookie.StoreName)
		}
		if out.key != nil {
			s.codec.Tombstone(w, s.cfg.Cookie.KeyCookieName)
		}
		return
	}

	sealKey := s.cfg.Cookie.Key
	if out.key != nil {
		sealKey = out.key.Secret
	}

	maxAge := s.cookieMaxAge(out.longterm)
	if err := s.codec.Set(w, r, s.cfg.Cookie.SessionName, out.finalID, sealKey, maxAge, now); err != nil {
		slog.Error("gosession: failed to emit session credential", "error", err)
	}
	if s.cfg.SessionMode.IsStorable() {
		if err := s.codec.Set(w, r, s.cfg.Cookie.StoreName, strconv.FormatBool(out.storable), sealKey, maxAge, now); err != nil {
			slog.Error("gosession: failed to emit storable credential", "error", err)
		}
	}
	if out.key != nil {
		if err := s.codec.Set(w, r, s.cfg.Cookie.KeyCookieName, out.key.ID, s.cfg.Cookie.Key, maxAge, now); err != nil {
			slog.Error("gosession: failed to emit session-key credential", "error", err)
		}
	}
}

// Middleware implements the full request pipeline of the Middleware Service
// component: parse inbound credentials, resolve or mint a session ID,
// ensure a live record, install a Handle into the request context, run
// opportunistic sweeps, invoke next, then post-process the record's flags
// and emit outbound credentials.
func (s *Store) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := s.Clock()

		sealKey, skey, err := s.resolveSealKey(ctx, r, now)
		if err != nil {
			slog.Error("gosession: failed to resolve session key", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		sidIn, sidOK, _ := s.codec.Get(r, s.cfg.Cookie.SessionName, sealKey)
		storableIn, storableOK, _ := s.codec.Get(r, s.cfg.Cookie.StoreName, sealKey)
		inboundStorable := storableOK && storableIn == "true"

		var id string
		freshID := !sidOK || sidIn == ""
		if !freshID {
			id = sidIn
		} else {
			newID, err := s.generateUniqueID(ctx)
			if err != nil {
				slog.Error("gosession: session id generation exhausted", "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			id = newID
		}

		skipRecord := freshID && s.cfg.SessionMode.IsManual()
		if !skipRecord {
			s.ensureRecord(ctx, id, !freshID, inboundStorable, now)
			if err := s.touchRecord(id, now); err != nil {
				slog.Error("gosession: failed to validate session record", "id", id, "error", err)
			}
		}

		ctx = withHandle(ctx, Handle{store: s, id: id})
		s.maybeSweep(ctx, now)

		bw := newBufferedResponseWriter(w)
		next.ServeHTTP(bw, r.WithContext(ctx))

		// Always post-process, even when skipRecord held off ensureRecord:
		// the handler may have called Handle.CreateData, in which case a
		// live record now exists and must be persisted and linked back to.
		out, err := s.postProcess(ctx, id, now, skey)
		if err != nil {
			slog.Error("gosession: post-processing failed", "id", id, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		s.emit(bw, r, out, now)
		bw.flush()
	})
}
