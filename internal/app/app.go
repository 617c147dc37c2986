// Package app wires configuration into a running cart: session, HTTP
// transport, storefront client, notifiers and reconciler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"storefront/internal/cart"
	"storefront/internal/config"
	"storefront/internal/notify"
	"storefront/internal/session"
	"storefront/internal/storefront"
	"storefront/internal/transport"
)

// Options customise New.
type Options struct {
	ClientName    string
	ClientVersion string
	Logger        *slog.Logger

	// Notifier receives cart events in addition to the log and, when
	// configured, the AMQP exchange.
	Notifier notify.Notifier
}

// App is a wired cart for one session.
type App struct {
	Config  *config.Config
	Session *session.Session
	Client  *storefront.Client
	Cart    *cart.Reconciler

	logger  *slog.Logger
	closers []func(context.Context) error
}

// New opens the session and builds the reconciler. It does not load the
// cart; call Cart.Refresh.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ClientName == "" {
		opts.ClientName = "storefront"
	}
	a := &App{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := pinSession(ctx, store, cfg.SessionKey, cfg.SessionID); err != nil {
		return nil, err
	}

	sess, err := session.Open(ctx, store, cfg.SessionKey, logger)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	a.Session = sess
	// Prepended so the session is saved before its store closes.
	a.closers = append([]func(context.Context) error{sess.Close}, a.closers...)

	if token := cfg.Backend.AuthToken; token != "" && sess.Token() != token {
		if err := sess.SignIn(ctx, cfg.Backend.AuthUserID, token); err != nil {
			return nil, fmt.Errorf("applying configured credentials: %w", err)
		}
	}

	rt, err := transport.NewHeaderTransport(
		transport.New(cfg.HTTPTimeout, cfg.ChromeTLS),
		sess, opts.ClientName, opts.ClientVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("building transport: %w", err)
	}

	a.Client, err = storefront.New(storefront.Config{
		BaseURL:   cfg.Backend.APIBaseURL,
		Transport: rt,
		Timeout:   cfg.HTTPTimeout,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating storefront client: %w", err)
	}

	notifiers := notify.Multi{notify.NewLogNotifier(logger), opts.Notifier}
	if cfg.Backend.AMQPURL != "" {
		pub, err := notify.DialAMQP(cfg.Backend.AMQPURL, cfg.Backend.AMQPExchange, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to AMQP: %w", err)
		}
		notifiers = append(notifiers, pub)
		a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
	}

	a.Cart = cart.New(a.Client, cart.Options{
		Notifier:            notifiers,
		Logger:              logger,
		FenceStaleResponses: cfg.FenceStaleResponses,
	})

	sess.OnIdentityChange(func(ctx context.Context, prev, next session.State) {
		if err := a.Cart.IdentityChanged(ctx); err != nil {
			logger.WarnContext(ctx, "cart reload after identity change failed", slog.String("error", err.Error()))
		}
	})

	logger.Info("cart ready",
		slog.String("session_id", sess.SessionID()),
		slog.Bool("signed_in", sess.UserID() != ""),
		slog.Bool("chrome_tls", cfg.ChromeTLS),
		slog.Bool("amqp", cfg.Backend.AMQPURL != ""),
	)
	return a, nil
}

// openStore picks Redis when configured, memory otherwise.
func (a *App) openStore(ctx context.Context) (session.Store, error) {
	if a.Config.Backend.RedisURL == "" {
		return session.NewMemoryStore(), nil
	}
	rs, err := session.DialRedis(ctx, a.Config.Backend.RedisURL, session.DefaultTTL)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return rs.Close() })
	return rs, nil
}

// pinSession forces the stored session id. A changed id drops any identity.
func pinSession(ctx context.Context, store session.Store, key, id string) error {
	if id == "" {
		return nil
	}
	st, ok, err := store.Load(ctx, key)
	if err != nil {
		return fmt.Errorf("loading session %s: %w", key, err)
	}
	if ok && st.ID == id {
		return nil
	}
	if err := store.Save(ctx, key, session.State{ID: id}); err != nil {
		return fmt.Errorf("pinning session: %w", err)
	}
	return nil
}

// Close stops the reconciler and releases the session, publisher and store.
func (a *App) Close(ctx context.Context) error {
	if a.Cart != nil {
		a.Cart.Close()
	}
	var errs []error
	for _, fn := range a.closers {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
