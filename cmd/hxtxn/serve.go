package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pthm/hxtxn"
	"github.com/pthm/hxtxn/lib/config"
	"github.com/pthm/hxtxn/lib/logging"
	"github.com/pthm/hxtxn/lib/transport"
)

// mountPath is where the session handler is served.
const mountPath = "/txn"

type stringList []string

func (l *stringList) String() string     { return strings.Join(*l, ",") }
func (l *stringList) Set(v string) error { *l = append(*l, v); return nil }

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var configs stringList
	fs.Var(&configs, "config", "CUE settings file (repeatable)")
	listen := fs.String("listen", "", "listen address")
	token := fs.String("token", "", "transaction token")
	level := fs.String("log-level", "", "log level")
	back := fs.String("back", "", "URL offered once the transaction ends")
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings, err := config.Load(configs...)
	if err != nil {
		return err
	}
	if *listen != "" {
		settings.Listen = *listen
	}
	if *token != "" {
		settings.Host.Token = *token
	}
	if *level != "" {
		settings.Log.Level = *level
	}

	logger, err := logging.New(logging.Options{Level: settings.Log.Level, JSONPath: settings.Log.JSONPath})
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger.Logger)

	var sealer *hxtxn.Sealer
	if settings.SealKey != "" {
		if sealer, err = hxtxn.NewSealer([]byte(settings.SealKey)); err != nil {
			return fmt.Errorf("seal key: %w", err)
		}
	}

	opts := transport.Options{
		URL:       strings.TrimSuffix(settings.Host.URL, "/") + settings.Host.Path,
		Namespace: settings.Host.Namespace,
	}
	if settings.Host.Token != "" {
		opts.Auth = map[string]any{"token": settings.Host.Token}
	}
	client, err := transport.Dial(ctx, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	sess := hxtxn.NewSession(hxtxn.SessionOptions{
		Host:              client,
		Sealer:            sealer,
		EncryptViewTokens: settings.Table.EncryptViews,
		Logger:            logger.Logger,
		Debounce:          settings.Debounce(),
		PageSize:          settings.Table.PageSize,
		BasePath:          mountPath,
		BackURL:           *back,
		Preferences: hxtxn.Preferences{
			Theme:   settings.UI.Theme,
			Compact: settings.UI.Compact,
		},
	})
	defer sess.Close()
	client.Attach(sess)

	mux := http.NewServeMux()
	mux.Handle(mountPath+"/", http.StripPrefix(mountPath, sess.Handler()))
	mux.Handle("GET /{$}", http.RedirectHandler(mountPath+"/", http.StatusSeeOther))

	srv := &http.Server{
		Addr:              settings.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("serving transaction", "addr", settings.Listen, "session", sess.ID())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdown)
}
