/*
Copyright 2025 the fedibox authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// fedibox federates Ghost sites over ActivityPub: one process serves
// every tenant, selected by the request's host.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/fedibox/fedibox/bus"
	"github.com/fedibox/fedibox/cfg"
	"github.com/fedibox/fedibox/db"
	"github.com/fedibox/fedibox/fed"
	"github.com/fedibox/fedibox/inbox"
	"github.com/fedibox/fedibox/migrations"
	"github.com/fedibox/fedibox/outbox"
	"github.com/fedibox/fedibox/queue"
	"github.com/fedibox/fedibox/webhook"
)

var (
	cfgPath  = flag.String("cfg", "", "configuration file path")
	dsn      = flag.String("dsn", "", "database DSN, overrides the configuration file")
	addr     = flag.String("addr", "", "listen address, overrides the configuration file")
	register = flag.String("register", "", "register a tenant by host and exit")
	username = flag.String("username", "index", "username of the tenant's default account, with -register")
	logLevel = flag.Int("loglevel", int(slog.LevelInfo), "logging verbosity")
	queueLen = flag.Int("queuelen", 256, "in-process queue buffer size")
)

func main() {
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(*logLevel)})))

	if err := run(); err != nil {
		slog.Error("Failed to run", "error", err)
		os.Exit(1)
	}
}

func run() error {
	c, err := cfg.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *dsn != "" {
		c.DatabaseDSN = *dsn
	}
	if *addr != "" {
		c.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Open(c.DatabaseDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := migrations.Up(ctx, pool); err != nil {
		return err
	}

	if *register != "" {
		site, err := (&db.Sites{DB: pool}).Create(ctx, *register, *username)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", site.Host, site.WebhookSecret)
		return nil
	}

	watcher := cfg.NewWatcher(*cfgPath, c)
	go func() {
		if err := watcher.Watch(ctx); err != nil {
			slog.Warn("Configuration watcher failed", "error", err)
		}
	}()

	// A configuration reload tears the stack down and rebuilds it, so
	// every component sees the new settings.
	for ctx.Err() == nil {
		c := watcher.Current()
		if *dsn != "" {
			c.DatabaseDSN = *dsn
		}
		if *addr != "" {
			c.Addr = *addr
		}

		if err := serve(ctx, c, pool, watcher.Changed()); err != nil {
			return err
		}
	}

	return nil
}

// serve wires the components and runs the HTTP server and the queue
// worker until the parent context is cancelled or the configuration
// changes.
func serve(ctx context.Context, c *cfg.Config, pool *sql.DB, reload <-chan struct{}) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sites := &db.Sites{DB: pool}
	events := bus.New()
	accounts := &db.Accounts{DB: pool, Bus: events}
	posts := &db.Posts{DB: pool, Bus: events}
	follows := &db.Follows{DB: pool}
	feeds := &db.Feeds{DB: pool}
	notifications := &db.Notifications{DB: pool}
	kv := &db.KV{DB: pool}
	backoffs := &db.Backoffs{DB: pool}

	q := queue.NewMemory(*queueLen)
	q.Backoffs = backoffs

	client := &http.Client{
		Timeout: c.DeliveryTimeout,
		Transport: &http.Transport{
			MaxIdleConns:    c.ResolverMaxIdleConns,
			IdleConnTimeout: c.ResolverIdleConnTimeout,
		},
	}
	resolver := &fed.Resolver{Config: c, Client: client, KV: kv}
	deliverer := &fed.Deliverer{Config: c, Client: client}

	out := &outbox.Service{
		Config:    c,
		Accounts:  accounts,
		Posts:     posts,
		Follows:   follows,
		KV:        kv,
		Queue:     q,
		Resolver:  resolver,
		Sanitizer: bluemonday.UGCPolicy(),
	}

	hook := &webhook.Handler{
		Config:   c,
		Sites:    sites,
		Accounts: accounts,
		Outbox:   out,
	}

	dispatcher := &inbox.Dispatcher{
		Config:   c,
		Sites:    sites,
		Accounts: accounts,
		Posts:    posts,
		Graph:    follows,
		KV:       kv,
		Resolver: resolver,
		Acceptor: out,
	}

	events.Subscribe("feed", (&inbox.FeedProjector{
		Users:     accounts,
		Followers: follows,
		Posts:     posts,
		Feeds:     feeds,
	}).Handle)
	events.Subscribe("notify", (&inbox.NotifyProjector{
		Users:         accounts,
		Posts:         posts,
		Blocks:        follows,
		Notifications: notifications,
	}).Handle)

	listener := &fed.Listener{
		Config:   c,
		Sites:    sites,
		Accounts: accounts,
		Posts:    posts,
		Follows:  follows,
		Feeds:    feeds,
		Resolver: resolver,
		Queue:    q,
		Outbox:   out,
		Webhook:  hook,
	}

	worker := &fed.Worker{
		Accounts:   accounts,
		Dispatcher: dispatcher,
		Deliverer:  deliverer,
	}

	go func() {
		if err := q.Listen(ctx, worker.Handle); err != nil {
			slog.Error("Queue listener failed", "error", err)
		}
	}()

	server := &http.Server{
		Addr:    c.Addr,
		Handler: listener.Router(nil),
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-reload:
			slog.Info("Configuration changed, restarting")
			cancel()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second*30)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Failed to shut down server", "error", err)
		}
	}()

	slog.Info("Listening", "addr", c.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	events.Wait()
	return nil
}
