package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdslog "log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/gqlcache"
	"github.com/unkn0wn-root/gqlcache/codec"
	"github.com/unkn0wn-root/gqlcache/config"
	"github.com/unkn0wn-root/gqlcache/genstore"
	asynchook "github.com/unkn0wn-root/gqlcache/hooks/async"
	promhooks "github.com/unkn0wn-root/gqlcache/hooks/prom"
	gqllogrus "github.com/unkn0wn-root/gqlcache/log/logrus"
	gqlslog "github.com/unkn0wn-root/gqlcache/log/slog"
	gqlzap "github.com/unkn0wn-root/gqlcache/log/zap"
	"github.com/unkn0wn-root/gqlcache/persist"
	"github.com/unkn0wn-root/gqlcache/provider"
	"github.com/unkn0wn-root/gqlcache/provider/bigcache"
	"github.com/unkn0wn-root/gqlcache/provider/gocache"
	"github.com/unkn0wn-root/gqlcache/provider/leveldb"
	redisprov "github.com/unkn0wn-root/gqlcache/provider/redis"
	"github.com/unkn0wn-root/gqlcache/provider/ristretto"
	"github.com/unkn0wn-root/gqlcache/sloghooks"
)

var errNoPersistence = errors.New("persistence is not configured (persist.provider is empty)")

// app is a cache plus everything built around it from config.
type app struct {
	cache   gqlcache.Cache
	persist *persist.Persistor
	log     gqlcache.Logger
	metrics *prometheus.Registry
	closers []func(context.Context) error
}

// Close releases in reverse build order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *app) onClose(f func(context.Context) error) { a.closers = append(a.closers, f) }

// build wires logger, hooks, identifier policy and persistence from cfg.
// Logs go to logw.
func build(ctx context.Context, cfg *config.Config, logw io.Writer) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		_ = a.Close(ctx)
		return nil, err
	}

	var err error
	if a.log, err = newLogger(a, cfg.Log, logw); err != nil {
		return fail(err)
	}
	hooks := newHooks(a, cfg.Hooks, logw)

	a.cache = gqlcache.New(gqlcache.Options{
		Identify: newIdentify(cfg.Identify),
		Logger:   a.log,
		Hooks:    hooks,
	})
	// hooks outlive the cache so the close events are delivered
	a.onClose(a.cache.Close)

	if cfg.Persist.Provider != "" {
		if a.persist, err = newPersistor(ctx, a, cfg.Persist); err != nil {
			return fail(err)
		}
		a.onClose(a.persist.Close)
	}
	return a, nil
}

func newLogger(a *app, c config.Log, w io.Writer) (gqlcache.Logger, error) {
	switch c.Backend {
	case "zap":
		lvl, err := zapcore.ParseLevel(c.Level)
		if err != nil {
			return nil, err
		}
		enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		l := zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), lvl))
		a.onClose(func(context.Context) error {
			_ = l.Sync()
			return nil
		})
		return gqlzap.New(l), nil
	case "logrus":
		lvl, err := logrus.ParseLevel(c.Level)
		if err != nil {
			return nil, err
		}
		l := logrus.New()
		l.SetOutput(w)
		l.SetLevel(lvl)
		return gqllogrus.New(l), nil
	case "slog":
		var lvl stdslog.Level
		if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
			return nil, err
		}
		h := stdslog.NewTextHandler(w, &stdslog.HandlerOptions{Level: lvl})
		return gqlslog.Logger{L: stdslog.New(h)}, nil
	default:
		return gqlcache.NopLogger{}, nil
	}
}

func newHooks(a *app, c config.Hooks, w io.Writer) gqlcache.Hooks {
	var hs multiHooks
	if c.Slog {
		l := stdslog.New(stdslog.NewTextHandler(w, &stdslog.HandlerOptions{Level: stdslog.LevelDebug}))
		hs = append(hs, sloghooks.New(l, sloghooks.Options{WriteEvery: c.SlogSample, NotifyEvery: c.SlogSample}))
	}
	if c.Prometheus {
		a.metrics = prometheus.NewRegistry()
		hs = append(hs, promhooks.New(a.metrics, "gqlcache"))
	}

	var h gqlcache.Hooks
	switch len(hs) {
	case 0:
		return gqlcache.NopHooks{}
	case 1:
		h = hs[0]
	default:
		h = hs
	}
	if !c.Async {
		return h
	}
	ah := asynchook.New(h, c.Workers, c.Queue)
	a.onClose(func(context.Context) error {
		ah.Close()
		return nil
	})
	return ah
}

func newIdentify(c config.Identify) gqlcache.IdentifyFunc {
	if len(c.KeyFields) == 0 {
		return nil
	}
	policies := make(map[string]gqlcache.IdentifyFunc, len(c.KeyFields))
	for typ, keys := range c.KeyFields {
		policies[typ] = gqlcache.KeyFields(keys...)
	}
	return gqlcache.ByType(policies, nil)
}

func newPersistor(ctx context.Context, a *app, c config.Persist) (*persist.Persistor, error) {
	var rdb goredis.UniversalClient
	if c.Provider == "redis" || c.GenStore == "redis" {
		rdb = goredis.NewClient(&goredis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		// closed after the persistor, which closes provider and genstore
		a.onClose(func(context.Context) error { return rdb.Close() })
	}

	cd, err := newCodec(c.Codec, c.MaxPayload)
	if err != nil {
		return nil, err
	}

	var gs genstore.GenStore
	if c.GenStore == "redis" {
		if gs, err = genstore.NewRedisGenStore(genstore.RedisConfig{Client: rdb, Namespace: c.Namespace}); err != nil {
			return nil, err
		}
	} else {
		gs = genstore.NewLocalGenStore(time.Minute, time.Hour)
	}

	p, err := newProvider(ctx, c, rdb)
	if err != nil {
		_ = gs.Close(ctx)
		return nil, err
	}

	per, err := persist.New(persist.Options{
		Namespace: c.Namespace,
		Provider:  p,
		Codec:     cd,
		GenStore:  gs,
		TTL:       c.TTL,
		Logger:    a.log,
	})
	if err != nil {
		_ = gs.Close(ctx)
		_ = p.Close(ctx)
		return nil, err
	}
	return per, nil
}

func newProvider(ctx context.Context, c config.Persist, rdb goredis.UniversalClient) (provider.Provider, error) {
	switch c.Provider {
	case "bigcache":
		return bigcache.New(ctx, bigcache.Config{
			LifeWindow:         c.BigCache.LifeWindow,
			HardMaxCacheSizeMB: c.BigCache.MaxSizeMB,
		})
	case "ristretto":
		return ristretto.New(ristretto.ForBytes(c.Ristretto.MaxCost))
	case "redis":
		return redisprov.New(redisprov.Config{Client: rdb, Prefix: c.Redis.Prefix})
	case "leveldb":
		return leveldb.Open(leveldb.Config{Path: c.LevelDB.Path, NoSync: c.LevelDB.NoSync})
	case "gocache":
		return gocache.New(gocache.Config{CleanupInterval: time.Minute}), nil
	}
	return nil, fmt.Errorf("unknown provider %q", c.Provider)
}

func newCodec(name string, maxPayload int) (codec.Plain, error) {
	var c codec.Plain
	switch name {
	case "json":
		c = codec.JSON[map[string]any]{}
	case "cbor":
		cb, err := codec.NewCBOR[map[string]any](true)
		if err != nil {
			return nil, err
		}
		c = cb
	case "msgpack":
		c = codec.Msgpack[map[string]any]{}
	case "structpb":
		c = codec.StructPB{}
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
	if maxPayload > 0 {
		c = codec.Limit[map[string]any]{Inner: c, MaxDecode: maxPayload}
	}
	return c, nil
}

// multiHooks fans every event out in order.
type multiHooks []gqlcache.Hooks

func (m multiHooks) LayerPushed(tx gqlcache.TxID, n int) {
	for _, h := range m {
		h.LayerPushed(tx, n)
	}
}

func (m multiHooks) LayerRemoved(tx gqlcache.TxID, reason string) {
	for _, h := range m {
		h.LayerRemoved(tx, reason)
	}
}

func (m multiHooks) WriteApplied(op string, changed int) {
	for _, h := range m {
		h.WriteApplied(op, changed)
	}
}

func (m multiHooks) Notified(n int) {
	for _, h := range m {
		h.Notified(n)
	}
}

func (m multiHooks) CallbackPanicked(sub gqlcache.SubscriptionID, r any) {
	for _, h := range m {
		h.CallbackPanicked(sub, r)
	}
}
