// Package app wires the relay server runtime: config, logging, HTTP routes,
// and the realtime gateway with its stores.
package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"relay/cmd/internal/messaging"
	"relay/cmd/internal/realtime"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow backing resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the relay server runtime: it owns HTTP server wiring and the
// realtime gateway dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	ws *realtime.Gateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	stores, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	registry := realtime.NewRegistry(log)
	broadcaster := realtime.NewBroadcaster(log, registry)
	pipeline := messaging.NewPipeline(log, stores.messages, stores.statuses, stores.members)

	tokens := realtime.NewStaticTokenValidator()
	seedDevTokens(tokens, cfg.DevTokens, log)

	ws := realtime.NewGateway(log, realtime.GatewayDeps{
		Registry:    registry,
		Broadcaster: broadcaster,
		Pipeline:    pipeline,
		Messages:    stores.messages,
		Statuses:    stores.statuses,
		Members:     stores.members,
		Presence:    stores.presence,
		Tokens:      tokens,
	})

	return &App{
		cfg:       cfg,
		log:       log,
		store:     stores.lifecycle,
		dbPool:    stores.pool,
		dbEnabled: stores.pool != nil,
		ws:        ws,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// seedDevTokens loads "token:userID[:deviceID]" entries into the validator.
func seedDevTokens(v *realtime.StaticTokenValidator, entries []string, log Logger) {
	for _, e := range entries {
		parts := strings.SplitN(e, ":", 3)
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			log.Warn("config.dev_token.malformed", "entry", e)
			continue
		}
		id := realtime.Identity{UserID: strings.TrimSpace(parts[1])}
		if len(parts) == 3 {
			id.DeviceID = strings.TrimSpace(parts[2])
		}
		v.Add(strings.TrimSpace(parts[0]), id)
	}
}

// seedDevMembers loads "conversationID:userID:userID:..." entries into the
// in-memory membership store.
func seedDevMembers(s *messaging.MemoryMembershipStore, entries []string, log Logger) {
	for _, e := range entries {
		parts := strings.Split(e, ":")
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" {
			log.Warn("config.dev_member.malformed", "entry", e)
			continue
		}
		users := make([]string, 0, len(parts)-1)
		for _, u := range parts[1:] {
			if u = strings.TrimSpace(u); u != "" {
				users = append(users, u)
			}
		}
		s.SetMembers(strings.TrimSpace(parts[0]), users...)
	}
}

// appStores bundles every backing store the gateway needs plus the lifecycle
// handle that closes them.
type appStores struct {
	messages messaging.MessageStore
	statuses messaging.StatusStore
	members  messaging.MembershipStore
	presence realtime.PresenceStore

	pool      *pgxpool.Pool
	lifecycle Store
}

// newStores decides between Postgres-backed persistence and the in-memory dev
// stores, and between Redis-backed presence and the in-memory tracker.
func newStores(ctx context.Context, cfg Config, log Logger) (appStores, error) {
	var st appStores

	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		mem := messaging.NewMemoryMessageStore()
		members := messaging.NewMemoryMembershipStore()
		seedDevMembers(members, cfg.DevMembers, log)
		st.messages = mem
		st.statuses = messaging.NewMemoryStatusStore(mem)
		st.members = members
	} else {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return appStores{}, err
		}
		log.Info("db.enabled.postgres_store")

		var msgOpts []messaging.MessageStoreOption
		var stOpts []messaging.StatusStoreOption
		var memOpts []messaging.MembershipOption
		if cfg.DBSchema != "" {
			msgOpts = append(msgOpts, messaging.WithMessageSchema(cfg.DBSchema))
			stOpts = append(stOpts, messaging.WithStatusSchema(cfg.DBSchema))
			memOpts = append(memOpts, messaging.WithMembershipSchema(cfg.DBSchema))
		}

		// Ownership model:
		// - app owns pool lifecycle
		// - store Close() methods are no-ops
		messages, err := messaging.NewPostgresMessageStore(pool, msgOpts...)
		if err != nil {
			pool.Close()
			return appStores{}, err
		}
		statuses, err := messaging.NewPostgresStatusStore(pool, stOpts...)
		if err != nil {
			pool.Close()
			return appStores{}, err
		}
		members, err := messaging.NewPostgresMembershipStore(pool, memOpts...)
		if err != nil {
			pool.Close()
			return appStores{}, err
		}

		st.messages = messages
		st.statuses = statuses
		st.members = members
		st.pool = pool
	}

	var rdb *redis.Client
	if cfg.RedisURL == "" {
		log.Info("presence.inmemory")
		st.presence = realtime.NewMemoryPresence()
	} else {
		client, err := NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			if st.pool != nil {
				st.pool.Close()
			}
			return appStores{}, err
		}
		log.Info("presence.redis")

		presence, err := realtime.NewRedisPresence(client)
		if err != nil {
			_ = client.Close()
			if st.pool != nil {
				st.pool.Close()
			}
			return appStores{}, err
		}
		st.presence = presence
		rdb = client
	}

	if st.pool == nil && rdb == nil {
		st.lifecycle = nopStore{}
	} else {
		st.lifecycle = backingStore{pool: st.pool, rdb: rdb}
	}
	return st, nil
}

type backingStore struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

func (s backingStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}
