package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"swifthaul/auth"
	"swifthaul/bid"
	"swifthaul/cancel"
	"swifthaul/db"
	"swifthaul/dispute"
	"swifthaul/escrow"
	"swifthaul/job"
	"swifthaul/outbox"
	"swifthaul/wallet"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.WithError(err).Fatal("bootstrap database pool")
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	commission := escrow.DefaultCommissionPercent
	if raw := os.Getenv("COMMISSION_PERCENT"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 100 {
			log.WithField("value", raw).Fatal("invalid COMMISSION_PERCENT")
		}
		commission = parsed
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	ledger := wallet.NewLedger()
	escrowManager := escrow.NewManager(pool, ledger, escrow.FlatRate(commission))
	outboxWriter := outbox.NewWriter()

	authService := auth.NewService(auth.NewRepository(pool), jwtSecret)
	jobRepo := job.NewRepository(pool)
	disputeRepo := dispute.NewRepository(pool)
	jobService := job.NewService(pool, jobRepo, escrowManager, disputeRepo, outboxWriter)
	bidRepo := bid.NewRepository(pool)
	bidService := bid.NewService(pool, bidRepo, jobRepo, escrowManager, outboxWriter)
	cancelService := cancel.NewCoordinator(pool, jobRepo, bidRepo, escrowManager, disputeRepo, outboxWriter)
	disputeService := dispute.NewService(pool, disputeRepo, jobRepo, escrowManager, outboxWriter)

	server := &Server{
		authService:    authService,
		jobService:     jobService,
		bidService:     bidService,
		cancelService:  cancelService,
		disputeService: disputeService,
		escrowService:  escrowManager,
		walletService:  wallet.NewRepository(pool),
		log:            log,
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatcher := outbox.NewDispatcher(pool, &outbox.LogSink{Log: log}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := dispatcher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.WithField("addr", addr).Info("api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("api terminated")
	}
}
