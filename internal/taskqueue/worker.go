package taskqueue

import (
	"go.uber.org/zap"

	"github.com/hibiken/asynq"
)

var (
	asynqClient *asynq.Client
	asynqMux    = asynq.NewServeMux()
	asynqSrv    *asynq.Server
)

// Init creates the enqueue client. Must complete before any producer
// (the MQTT subscriber in particular) can enqueue work, so it runs
// synchronously during startup, not inside the worker goroutine.
func Init(redisAddr string) {
	asynqClient = asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
}

// StartWorkers starts Asynq workers
func StartWorkers(redisAddr string) {
	log.Info("starting workers", zap.String("redis", redisAddr))
	asynqMux.HandleFunc(TypeEvaluateReading, evaluateReadingTask)
	asynqMux.HandleFunc(TypeNotify, notifyTask)
	asynqSrv = asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{Concurrency: 10})
	if err := asynqSrv.Run(asynqMux); err != nil {
		log.Fatal("failed to start workers", zap.Error(err))
	}
}

// StopWorkers stops workers
func StopWorkers() {
	asynqSrv.Stop()
	asynqClient.Close()
	log.Info("workers stopped")
}
