package main

import (
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pokerroom/internal/config"
	"pokerroom/internal/domain"
	"pokerroom/internal/handlers"
	"pokerroom/internal/middleware"
	"pokerroom/internal/redis"
	"pokerroom/internal/registry"
	"pokerroom/internal/router"
	"pokerroom/internal/socket"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}
	setupLogger()

	cfg := config.Load()
	log := slog.Default()

	store := redis.NewStore(
		cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
		time.Duration(cfg.HistoryTTLSeconds)*time.Second, cfg.HistoryMaxRounds,
	)
	defer store.Close()

	bus := redis.NewBus(store.Client(), log)
	defer bus.Close()

	writer := redis.NewHistoryWriter(store, redis.HistoryWriterConfig{
		QueueSize: cfg.WriterQueueSize,
		Workers:   cfg.WriterWorkers,
	}, log)

	metrics := socket.NewMetrics()
	reg := registry.New(bus, log)
	bus.Local = reg

	fan := &socket.Fanout{Reg: reg, Pub: bus, Metrics: metrics}
	rooms := domain.NewService()

	// Round state is process-local; dropping it must be atomic with the
	// room's eviction so a concurrent join never loses a live round.
	reg.OnRoomEmpty = rooms.Forget

	rt := router.New(log)
	for _, h := range handlers.All(handlers.Deps{
		Rooms:   rooms,
		Roles:   store,
		Out:     fan,
		History: writer,
		Log:     log,
	}) {
		rt.Register(h)
	}

	joins := socket.NewJoinWatch()
	sweeper := socket.NewSweeper(reg, joins, metrics, cfg, log)
	sweeper.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/room/", socket.Handler(socket.Deps{
		Cfg:     cfg,
		Reg:     reg,
		Router:  rt,
		Fan:     fan,
		Joins:   joins,
		Tokens:  store,
		RoomDir: store,
		Roles:   store,
		Metrics: metrics,
		Log:     log,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", socket.MetricsHandler(metrics, reg, rooms, writer, bus))

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           middleware.Recovery(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("room session server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	sweeper.Stop()
	_ = server.Close()
	writer.Shutdown()
}

func setupLogger() {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}
