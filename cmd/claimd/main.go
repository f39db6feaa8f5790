// Command claimd serves a claim store: the Claims gRPC service on one
// listener and the WebSocket observation endpoint on another.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"xdao.co/claimstore/claimrpc"
	"xdao.co/claimstore/claimstore"
	"xdao.co/claimstore/config"
	"xdao.co/claimstore/rendezvous"
	"xdao.co/claimstore/snapshot"
	"xdao.co/claimstore/storage"
	"xdao.co/claimstore/storage/ipfs"
	"xdao.co/claimstore/storage/localfs"
	"xdao.co/claimstore/wsstream"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr, nil))
}

// addrs reports where the daemon is listening once both listeners are up.
type addrs struct {
	GRPC net.Addr
	WS   net.Addr
}

func run(ctx context.Context, args []string, errOut io.Writer, ready func(addrs)) int {
	cfg, code := loadConfig(args, errOut)
	if code >= 0 {
		return code
	}
	log := cfg.Log.NewLogger(errOut)

	if err := serve(ctx, cfg, log, ready); err != nil {
		log.Error("claimd stopped", "err", err)
		return 1
	}
	return 0
}

// loadConfig returns a negative code when the daemon should start.
func loadConfig(args []string, errOut io.Writer) (config.Config, int) {
	fs := pflag.NewFlagSet("claimd", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	path := fs.String("config", "", "YAML configuration file")
	grpcListen := fs.String("grpc-listen", "", "gRPC listen address")
	wsListen := fs.String("ws-listen", "", "WebSocket listen address")
	retention := fs.Duration("retention", 0, "idle window before an identity is evicted")
	buffer := fs.Int("observer-buffer", 0, "per-observer delivery queue length")
	pendingTTL := fs.Duration("pending-ttl", 0, "how long an announced stream waits for registration")
	snapDir := fs.String("snapshot-dir", "", "directory for state snapshots (empty disables)")
	snapInterval := fs.Duration("snapshot-interval", 0, "period between snapshots (0 saves only on shutdown)")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")
	logFormat := fs.String("log-format", "", "text or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return config.Config{}, 0
		}
		return config.Config{}, 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintf(errOut, "unexpected arguments: %v\n", fs.Args())
		return config.Config{}, 2
	}

	cfg := config.Default()
	if *path != "" {
		var err error
		if cfg, err = config.Load(*path); err != nil {
			fmt.Fprintln(errOut, err)
			return config.Config{}, 2
		}
	}

	if fs.Changed("grpc-listen") {
		cfg.GRPCListen = *grpcListen
	}
	if fs.Changed("ws-listen") {
		cfg.WSListen = *wsListen
	}
	if fs.Changed("retention") {
		cfg.Retention = *retention
	}
	if fs.Changed("observer-buffer") {
		cfg.ObserverBuffer = *buffer
	}
	if fs.Changed("pending-ttl") {
		cfg.Rendezvous.PendingTTL = *pendingTTL
	}
	if fs.Changed("snapshot-dir") {
		cfg.Snapshot.Dir = *snapDir
	}
	if fs.Changed("snapshot-interval") {
		cfg.Snapshot.Interval = *snapInterval
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = *logFormat
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(errOut, err)
		return config.Config{}, 2
	}
	return cfg, -1
}

func openSnapshots(cfg config.Snapshot) (storage.CAS, error) {
	var backends []storage.Backend
	for _, dir := range cfg.ObjectDirs() {
		cas, err := localfs.New(dir)
		if err != nil {
			return nil, err
		}
		backends = append(backends, storage.Backend{Name: dir, CAS: cas})
	}
	if cfg.IPFS != nil {
		backends = append(backends, storage.Backend{
			Name: "ipfs",
			CAS:  ipfs.New(ipfs.Options{Bin: cfg.IPFS.Bin, Repo: cfg.IPFS.Repo, Timeout: cfg.IPFS.Timeout}),
		})
	}
	if len(backends) == 1 {
		return backends[0].CAS, nil
	}
	return storage.Mirror{Backends: backends}, nil
}

func serve(ctx context.Context, cfg config.Config, log *slog.Logger, ready func(addrs)) error {
	store := claimstore.New(claimstore.Options{Logger: log, ObserverBuffer: cfg.ObserverBuffer})
	defer store.Close()

	var saver *snapshot.Saver
	if cfg.Snapshot.Enabled() {
		cas, err := openSnapshots(cfg.Snapshot)
		if err != nil {
			return err
		}
		id, err := snapshot.Restore(store, cas, cfg.Snapshot.Head())
		switch {
		case errors.Is(err, snapshot.ErrNoSnapshot):
			log.Info("no snapshot to restore", "dir", cfg.Snapshot.Dir)
		case err != nil:
			return err
		default:
			log.Info("snapshot restored", "cid", id.String())
		}
		saver = &snapshot.Saver{
			Store:    store,
			CAS:      cas,
			Head:     cfg.Snapshot.Head(),
			Interval: cfg.Snapshot.Interval,
			Logger:   log,
		}
	}

	table := rendezvous.NewTable(cfg.Rendezvous.PendingTTL, nil)

	grpcLis, err := net.Listen("tcp", cfg.GRPCListen)
	if err != nil {
		return err
	}
	defer grpcLis.Close()
	wsLis, err := net.Listen("tcp", cfg.WSListen)
	if err != nil {
		return err
	}
	defer wsLis.Close()

	gs := grpc.NewServer()
	claimrpc.RegisterClaimsServer(gs, &claimrpc.Server{
		Store:      store,
		Rendezvous: &rendezvous.Server{Store: store, Table: table, Logger: log},
		Logger:     log,
	})
	hs := &http.Server{
		Handler:           (&wsstream.Handler{Table: table, Store: store, Logger: log}).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("claimd listening", "grpc", grpcLis.Addr().String(), "ws", wsLis.Addr().String())
	if ready != nil {
		ready(addrs{GRPC: grpcLis.Addr(), WS: wsLis.Addr()})
	}

	// The saver outlives the servers so its final snapshot sees every
	// accepted claim.
	saverCtx, stopSaver := context.WithCancel(context.Background())
	defer stopSaver()
	saved := make(chan error, 1)
	if saver != nil {
		go func() { saved <- saver.Run(saverCtx) }()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gs.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := hs.Serve(wsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("websocket: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return ignoreCanceled((&claimstore.Sweeper{Store: store, Retention: cfg.Retention, Logger: log}).Run(gctx))
	})
	g.Go(func() error {
		return expirePending(gctx, table, cfg.Rendezvous.PendingTTL)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("claimd shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Stop gRPC first so no registration races the stream shutdown.
		gs.GracefulStop()
		store.Close()
		return hs.Shutdown(sctx)
	})

	err = g.Wait()
	if saver != nil {
		stopSaver()
		if serr := <-saved; serr != nil {
			err = errors.Join(err, fmt.Errorf("snapshot: %w", serr))
		}
	}
	return err
}

// expirePending closes streams whose nonce was never registered.
func expirePending(ctx context.Context, table *rendezvous.Table, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = rendezvous.DefaultPendingTTL
	}
	t := time.NewTicker(ttl)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			table.Expire()
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
