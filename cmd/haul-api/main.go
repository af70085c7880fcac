// README: Entry point; loads config, wires services, starts HTTP server and background workers.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"haul/internal/config"
	httptransport "haul/internal/http"
	"haul/internal/http/handlers"
	"haul/internal/infra"
	"haul/internal/logging"
	"haul/internal/maps"
	"haul/internal/modules/actor"
	"haul/internal/modules/booking"
	"haul/internal/modules/location"
	"haul/internal/modules/matching"
	"haul/internal/modules/pricing"
	"haul/internal/modules/realtime"
)

const (
	socketBuffer = 64
	fanoutWait   = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("haul-api exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	firebaseAuth, err := infra.NewFirebaseAuth(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		return err
	}

	if cfg.DB.Migrate {
		if err := infra.Migrate(cfg.DB.DSN); err != nil {
			return err
		}
		log.Info("schema migrated")
	}
	db, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		return err
	}
	defer rdb.Close()

	var distance booking.Distance = maps.StraightLine{}
	if cfg.Maps.APIKey != "" {
		ds, err := maps.NewDistanceService(cfg.Maps.APIKey)
		if err != nil {
			return err
		}
		distance = ds
	} else {
		log.Warn("no maps api key, using straight-line distances")
	}

	actorStore := actor.NewStore(db)
	actorSvc := actor.NewService(actorStore, firebaseAuth)

	locationSvc := location.NewService(location.NewStore(rdb, cfg.Dispatch.LocationTTL))
	matchingSvc := matching.NewService(actorStore, locationSvc)

	bookingStore := booking.NewStore(db)
	pricingSvc := pricing.NewService(bookingStore)
	queue := booking.NewQueue(cfg.Realtime.EventBuffer, log)
	bookingSvc := booking.NewService(booking.Deps{
		Store:          bookingStore,
		Drivers:        actorStore,
		Distance:       distance,
		Pricer:         pricingSvc,
		Locator:        locationSvc,
		Events:         queue,
		Log:            log,
		DriverSpeedKmh: cfg.Dispatch.DriverSpeedKmh,
	})

	hub := realtime.NewHub()
	var publisher realtime.Publisher
	if cfg.Realtime.RedisFanout {
		fanout := realtime.NewRedisFanout(rdb, hub, log)
		publisher = fanout
		ready := make(chan struct{})
		go fanout.Run(ctx, ready)
		select {
		case <-ready:
		case <-time.After(fanoutWait):
			return errors.New("realtime fan-out did not subscribe in time")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	bus := realtime.NewBus(hub, locationSvc, publisher, log)

	var journal realtime.Journal
	if len(cfg.Realtime.KafkaBrokers) > 0 {
		w := infra.NewKafkaWriter(cfg.Realtime.KafkaBrokers, cfg.Realtime.KafkaTopic)
		defer w.Close()
		journal = w
	}
	relay := realtime.NewRelay(bus, matchingSvc, journal, log)

	go relay.Run(ctx, queue.Events())
	go bookingSvc.RunScheduler(ctx, cfg.Scheduler.Tick)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Log:      log,
		Verifier: firebaseAuth,
		Bookings: handlers.NewBookingHandler(bookingSvc, locationSvc),
		Drivers:  handlers.NewDriverHandler(bookingSvc, bus),
		Pricing:  handlers.NewPricingHandler(pricingSvc, distance),
		Admin:    handlers.NewAdminHandler(bookingSvc, actorSvc, cfg.Scheduler.Lookahead),
		Accounts: handlers.NewAccountHandler(actorSvc),
		Realtime: handlers.NewRealtimeHandler(realtime.NewServer(bus, bookingSvc, socketBuffer, log)),
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
