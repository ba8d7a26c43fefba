package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/eigerco/lottery/internal/address"
	"github.com/eigerco/lottery/internal/api"
	"github.com/eigerco/lottery/internal/chain"
	"github.com/eigerco/lottery/internal/config"
	"github.com/eigerco/lottery/internal/history"
	"github.com/eigerco/lottery/internal/refresh"
	"github.com/eigerco/lottery/internal/state"
	"github.com/eigerco/lottery/internal/store"
	"github.com/eigerco/lottery/pkg/db/pebble"
	"github.com/eigerco/lottery/pkg/log"
)

const (
	syncTimeout     = 20 * time.Second
	shutdownTimeout = 10 * time.Second
	// cachedHistory is how many snapshots are shown before the first sync.
	cachedHistory = 50
)

// main starts the lottery state service.
// go run ./cmd/lotteryd -program <id> [-config lotteryd.toml]
func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "lotteryd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	if err := initLogging(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deriver := address.NewDeriver(cfg.ProgramKey())
	reader := chain.NewReader(rpc.New(cfg.RPCEndpoint), deriver, rpc.CommitmentType(cfg.Commitment))

	kv, err := openKV(cfg.DataDir)
	if err != nil {
		return err
	}
	snapshots := store.NewSnapshots(kv)
	defer func() {
		if err := snapshots.Close(); err != nil {
			log.Root.Error().Err(err).Msg("closing snapshot store")
		}
	}()

	if dropped, err := snapshots.BindProgram(cfg.ProgramKey()); err != nil {
		return err
	} else if dropped > 0 {
		log.Root.Info().Int("dropped", dropped).Msg("snapshot cache belonged to another program")
	}

	builder := history.NewBuilder(reader,
		history.WithCache(snapshots),
		history.WithWorkers(cfg.HistoryWorkers),
	)

	opts := []state.Option{}
	if w := cfg.WalletKey(); w != nil {
		opts = append(opts, state.WithWallet(*w))
	}
	if cached, err := snapshots.Latest(cachedHistory); err != nil {
		log.Root.Warn().Err(err).Msg("reading cached history")
	} else if len(cached) > 0 {
		opts = append(opts, state.WithCachedHistory(cached))
	}
	// Transactions are signed by the wallet outside this process.
	st := state.NewStore(reader, builder, deriver, state.ReadOnly{}, opts...)

	if cfg.RefreshSchedule != "off" {
		sched, err := refresh.New(st, cfg.RefreshSchedule, syncTimeout)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	go func() {
		syncCtx, cancel := context.WithTimeout(ctx, syncTimeout)
		defer cancel()
		if err := st.Sync(syncCtx); err != nil && !errors.Is(err, state.ErrSuperseded) {
			log.Root.Warn().Err(err).Msg("initial sync failed")
		}
	}()

	if log.Root.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewRouter(st),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Root.Info().
			Str("listen", cfg.Listen).
			Str("rpc", cfg.RPCEndpoint).
			Str("program", cfg.ProgramID).
			Msg("lotteryd started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Root.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func initLogging(cfg config.Config) error {
	level, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	typ, err := log.ParseLoggerType(cfg.LogFormat)
	if err != nil {
		return err
	}
	log.Init(log.Options{LogLevel: level, Type: typ})
	return nil
}

func openKV(dir string) (*pebble.KVStore, error) {
	if dir == "" {
		return pebble.NewMemKVStore()
	}
	kv, err := pebble.NewKVStore(dir)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store at %s: %w", dir, err)
	}
	return kv, nil
}
