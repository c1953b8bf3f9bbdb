// README: Entry point; loads config, wires services, starts HTTP server, dispatch consumer and offline sync.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"namma/internal/backend"
	"namma/internal/config"
	"namma/internal/dispatch"
	httptransport "namma/internal/http"
	"namma/internal/infra"
	"namma/internal/maps"
	"namma/internal/modules/booking"
	"namma/internal/modules/location"
	"namma/internal/modules/pricing"
	"namma/internal/modules/vehicle"
	"namma/internal/realtime"
	"namma/internal/types"
)

// broker is the dispatch transport: inbound status events, outbound booking updates.
type broker interface {
	Consume(ctx context.Context, h *dispatch.Handler) error
	Publish(travelerID types.ID, b booking.Booking)
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	log := infra.NewLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		log.Fatal("NAMMA_FIREBASE_PROJECT_ID is required")
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		log.WithError(err).Fatal("firebase init")
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.WithError(err).Fatal("db init")
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()

	baseURL := backend.Discover(ctx, cfg.Backend.DiscoveryURL, cfg.Backend.BaseURL, cfg.Backend.Timeout, log)
	client := backend.New(baseURL, cfg.Backend.Timeout, log)

	locDeps := location.Deps{
		Backend: client,
		Store:   location.NewStore(redisClient),
		Log:     log,
	}
	if cfg.Maps.APIKey != "" {
		places, err := maps.NewPlacesService(cfg.Maps.APIKey)
		if err != nil {
			log.WithError(err).Fatal("places init")
		}
		geocoder, err := maps.NewGeocodeService(cfg.Maps.APIKey)
		if err != nil {
			log.WithError(err).Fatal("geocoder init")
		}
		locDeps.Places, locDeps.Geocoder = places, geocoder
	}
	locationSvc := location.NewService(locDeps)

	vehicleSvc := vehicle.NewService(client, vehicle.NewStore(redisClient), log)
	pricingSvc := pricing.NewService(pricing.PolicyFromConfig(cfg.Fare), client, log)

	bookingStore := booking.NewStore(dbPool)
	if err := bookingStore.EnsureSchema(ctx); err != nil {
		log.WithError(err).Fatal("booking schema")
	}

	hub := realtime.NewHub(cfg.HTTP.AllowedOrigins, log)
	notifiers := booking.Notifiers{hub}

	var bus broker
	switch cfg.Dispatch.Broker {
	case "rabbitmq":
		mq, err := dispatch.NewRabbitMQ(cfg.Dispatch.RabbitMQURL, log)
		if err != nil {
			log.WithError(err).Fatal("rabbitmq init")
		}
		bus = mq
	case "kafka":
		bus = dispatch.NewKafka(cfg.Dispatch.KafkaBroker, cfg.Dispatch.KafkaTopic, cfg.Dispatch.KafkaGroup, log)
	case "":
		log.Info("dispatch broker disabled")
	default:
		log.WithField("broker", cfg.Dispatch.Broker).Fatal("unknown dispatch broker")
	}
	if bus != nil {
		defer bus.Close()
		notifiers = append(notifiers, bus)
	}

	policy, ok := booking.ParseOfflinePolicy(cfg.Booking.OfflinePolicy)
	if !ok {
		log.WithField("policy", cfg.Booking.OfflinePolicy).Warn("unknown offline policy, queueing")
		policy = booking.PolicyQueue
	}
	bookingSvc := booking.NewService(booking.Deps{
		Backend:      client,
		Pricer:       pricingSvc,
		Journal:      bookingStore,
		Queue:        booking.NewRedisQueue(redisClient),
		Notifier:     notifiers,
		Policy:       policy,
		SyncInterval: cfg.Booking.SyncInterval,
		Log:          log,
	})

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Verifier:       verifier,
		Location:       locationSvc,
		Vehicles:       vehicleSvc,
		Pricing:        pricingSvc,
		Bookings:       bookingSvc,
		Hub:            hub,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Log:            log,
	})
	server := httptransport.NewServer(cfg.HTTP.Addr, router, log)

	if policy == booking.PolicyQueue {
		go bookingSvc.RunSyncTicker(ctx)
	}
	if bus != nil {
		go func() {
			if err := bus.Consume(ctx, dispatch.NewHandler(bookingSvc, log)); err != nil {
				log.WithError(err).Error("dispatch consumer stopped")
			}
		}()
	}

	if err := server.Run(ctx); err != nil {
		log.WithError(err).Fatal("http server")
	}
}
