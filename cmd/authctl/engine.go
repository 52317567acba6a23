package main

import (
	"errors"

	"github.com/alicebob/miniredis/v2"
	authcore "github.com/eis-1/electrical-supplier-website-sub001"
	"github.com/eis-1/electrical-supplier-website-sub001/store"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// errEmbeddedSessions is returned by commands that must reach the sessions
// of a running server, which an embedded Redis does not share.
var errEmbeddedSessions = errors.New("REDIS_URL=embedded keeps sessions inside the server process; set REDIS_URL or SESSION_STORE=sql")

type backend struct {
	engine   *authcore.Engine
	db       *gorm.DB
	accounts *store.Accounts
	closers  []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackend builds an engine over the configured database and Redis. When
// needSharedSessions is set an embedded Redis is refused unless sessions are
// kept in SQL.
func openBackend(needSharedSessions bool) (*backend, error) {
	embedded := cfg.Redis.URL == "embedded"
	if needSharedSessions && embedded && cfg.DB.SessionStore != "sql" {
		return nil, errEmbeddedSessions
	}

	b := &backend{}
	db, err := store.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, err
	}
	b.db = db
	b.accounts = store.NewAccounts(db)
	b.closers = append(b.closers, func() { _ = store.Close(db) })

	var rdb *redis.Client
	if embedded {
		mr, err := miniredis.Run()
		if err != nil {
			b.Close()
			return nil, err
		}
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		b.closers = append(b.closers, mr.Close)
	} else {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			b.Close()
			return nil, err
		}
		rdb = redis.NewClient(opts)
	}
	b.closers = append(b.closers, func() { _ = rdb.Close() })

	builder := authcore.New().
		WithConfig(cfg.Auth).
		WithRedis(rdb).
		WithAccountStore(b.accounts).
		WithQuoteStore(store.NewQuotes(db))
	if cfg.DB.SessionStore == "sql" {
		builder = builder.WithSessionStore(store.NewSessions(db))
	}
	engine, err := builder.Build()
	if err != nil {
		b.Close()
		return nil, err
	}
	b.engine = engine
	b.closers = append(b.closers, engine.Close)
	return b, nil
}
