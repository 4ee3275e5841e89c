package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"sealchat-gateway/internal/config"
	"sealchat-gateway/internal/directory"
	"sealchat-gateway/internal/feedback"
	"sealchat-gateway/internal/handler"
	"sealchat-gateway/internal/hub"
	"sealchat-gateway/internal/inflight"
	"sealchat-gateway/internal/kv"
	"sealchat-gateway/internal/poller"
	"sealchat-gateway/internal/sdk/devnet"
	"sealchat-gateway/internal/seal"
	"sealchat-gateway/internal/server"
	"sealchat-gateway/internal/session"
	"sealchat-gateway/internal/timeline"
	"sealchat-gateway/internal/wallet"
)

func main() {
	cmd := &cli.Command{
		Name:  "sealchat-gateway",
		Usage: "wallet-gated chat gateway",
		Action: func(ctx context.Context, _ *cli.Command) error {
			return run(ctx)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func openKV(cfg config.Config) (kv.Store, error) {
	switch cfg.KVBackend {
	case "memory":
		return kv.NewMemory(), nil
	case "redis":
		store := kv.NewRedis(cfg.RedisAddr)
		if err := store.Ping(); err != nil {
			return nil, fmt.Errorf("redis at %s: %w", cfg.RedisAddr, err)
		}
		return store, nil
	default:
		return kv.NewFile(filepath.Join(cfg.DataDir, "state.json"))
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	gin.SetMode(cfg.GinMode)

	store, err := openKV(cfg)
	if err != nil {
		return err
	}

	w, err := wallet.NewLocal()
	if err != nil {
		return err
	}
	log.Printf("serving account %s", w.Address())

	certifier := seal.HMACCertifier{Secret: cfg.DevSecret, Issuer: "sealchat-gateway"}
	manager := session.NewManager(session.ManagerOptions{
		Store:     session.NewStore(store, certifier),
		Certifier: certifier,
		Signer:    w,
		PackageID: cfg.SealPackageID,
		TTLMin:    int(cfg.SessionTTL / time.Minute),
	})

	account := handler.NewAccount(w.Address())
	manager.EnsureLoaded(w.Address())

	net := devnet.New(devnet.Options{
		Secret:  cfg.DevSecret,
		Session: manager.Current,
	})

	requests := inflight.NewRegistry()
	dir := directory.New(net, account.Current, requests)
	sync := timeline.New(net, dir, account.Current, requests)
	dir.OnChannelSelected = sync.Reset

	wsHub := hub.New()
	sync.Notify = func(event, channelID string) {
		wsHub.Publish(event, gin.H{"channelId": channelID})
	}

	controller := feedback.NewController(feedback.Options{
		KV:         store,
		Directory:  dir,
		Timeline:   sync,
		Address:    account.Current,
		Recipient:  cfg.FeedbackRecipient,
		AppVersion: cfg.AppVersion,
	})

	p := poller.New(dir, sync, cfg.ChannelRefresh, cfg.MessageRefresh)

	router := server.NewRouter(server.Deps{
		Account:      account,
		Manager:      manager,
		Directory:    dir,
		Timeline:     sync,
		Feedback:     controller,
		Hub:          wsHub,
		GatewayToken: cfg.GatewayToken,
		AppVersion:   cfg.AppVersion,
		Staleness:    p,
	})

	srv := server.NewHTTPServer(cfg, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("listening on %s", srv.Addr)
		var err error
		if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := p.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
