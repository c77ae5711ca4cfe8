package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"smartfarm/internal/config"
	"smartfarm/internal/db"
	"smartfarm/internal/dispatch"
	"smartfarm/internal/ingest"
	"smartfarm/internal/logger"
	"smartfarm/internal/mqtt"
	"smartfarm/internal/reconcile"
	"smartfarm/internal/redis"
	"smartfarm/internal/schedule"
	"smartfarm/internal/scheduler"
	"smartfarm/internal/taskqueue"
	"smartfarm/internal/web"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	dbConn, err := db.NewDB(cfg.DBURL, zlog)
	if err != nil {
		zlog.Fatal("failed to connect to database", zap.Error(err))
	}
	defer dbConn.Close()

	redisClient := redis.NewRedisClient(cfg.RedisAddr)

	mqttClient, err := mqtt.NewClient(mqtt.Options{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
	})
	if err != nil {
		zlog.Fatal("failed to connect to MQTT broker", zap.Error(err))
	}
	defer mqttClient.Disconnect()

	dispatcher := dispatch.New(mqttClient, dbConn, cfg.MQTTAccount, zlog)
	reconciler := reconcile.New(reconcile.NewRedisKVStore(redisClient), dispatcher, zlog)
	dispatcher.SetObserver(reconciler)

	if devices, err := dbConn.Devices(context.Background()); err != nil {
		zlog.Warn("skipping device state hydration", zap.Error(err))
	} else {
		ids := make([]string, 0, len(devices))
		for _, dev := range devices {
			ids = append(ids, dev.ID)
		}
		reconciler.Hydrate(context.Background(), ids)
	}

	engine := schedule.NewEngine(dbConn, dispatcher, zlog)
	if err := engine.Start(context.Background()); err != nil {
		zlog.Fatal("failed to start schedule engine", zap.Error(err))
	}

	taskqueue.SetGlobalInstances(dbConn, engine, zlog)
	// the enqueue client must exist before the first telemetry message
	// can arrive on the subscription below
	taskqueue.Init(cfg.RedisAddr)
	go taskqueue.StartWorkers(cfg.RedisAddr)

	ingestor := ingest.New(dbConn, reconciler, taskqueue.Enqueuer{}, zlog)
	feedTopic := cfg.MQTTAccount + "/feeds/+"
	if err := mqttClient.Subscribe(feedTopic, 1, ingestor.HandleMessage); err != nil {
		zlog.Fatal("failed to subscribe to feeds", zap.String("topic", feedTopic), zap.Error(err))
	}
	zlog.Info("subscribed to telemetry", zap.String("topic", feedTopic))

	sched := scheduler.NewScheduler(zlog)
	if err := sched.ScheduleEngineTick(engine.TickAll); err != nil {
		zlog.Fatal("failed to register engine tick", zap.Error(err))
	}
	sched.Start()

	webServer := web.NewWebServer(dbConn, engine, reconciler, mqttClient)
	go func() {
		if err := webServer.Start(cfg.HTTPAddr); err != nil {
			zlog.Fatal("web server stopped", zap.Error(err))
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	engine.Stop()
	sched.Stop()
	taskqueue.StopWorkers()
	zlog.Info("shutdown complete")
}
