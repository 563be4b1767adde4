package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-lifecycle/config"
	"order-lifecycle/internal/api"
	"order-lifecycle/internal/broker"
	"order-lifecycle/internal/models"
	"order-lifecycle/internal/notify"
	"order-lifecycle/internal/payout"
	"order-lifecycle/internal/queue"
	"order-lifecycle/internal/redisclient"
	"order-lifecycle/internal/rpc"
	"order-lifecycle/internal/service"
	"order-lifecycle/internal/signature"
	"order-lifecycle/internal/store"
	"order-lifecycle/internal/util"
	"order-lifecycle/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel, "order-lifecycle"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting order lifecycle service")

	tp, err := util.InitTracer("order-lifecycle", cfg.Observ.JaegerEndpoint, cfg.Observ.TraceSampleRatio)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)
	jobQueue := queue.New(redisClient, cfg.Queue.Name)

	rpcClient := rpc.NewClient(rpc.NewRedisTransport(redisClient.GetClient()), rpc.Options{
		Timeout: cfg.RPC.Timeout,
		Retries: cfg.RPC.Retries,
	})

	verifier := signature.NewVerifier(cfg.Gateway.ChecksumKey)
	payouts := payout.NewOrchestrator(db, payout.NewClient(cfg.Gateway))

	notifyPolicy := models.DefaultRetryPolicy(cfg.Queue.Attempts, cfg.Queue.BackoffDelay)

	inventoryClient := service.NewInventoryClient(redisClient)
	rejectionCoordinator := service.NewRejectionCoordinator(db, payouts, inventoryClient, eventPublisher)
	paymentService := service.NewPaymentService(db, verifier, jobQueue, eventPublisher, notifyPolicy)
	orderService := service.NewOrderService(db, jobQueue, rejectionCoordinator, cfg.Business.UnpaidOrderTTL)
	notificationService := service.NewNotificationService(
		rpcClient,
		cfg.RPC.UserService,
		jobQueue,
		redisClient,
		notifyPolicy,
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	rpcServer := rpc.NewServer(redisClient.GetClient(), cfg.RPC.ServiceName)
	api.RegisterRPCHandlers(rpcServer, orderService, orderService)
	go func() {
		if err := rpcServer.Serve(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("RPC server error", zap.Error(err))
		}
	}()

	eventConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(eventConsumer, notificationService)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	jobWorker := worker.NewJobWorker(jobQueue, cfg.Queue.PollInterval)
	jobWorker.Register(models.JobSendMail, worker.MailHandler(notify.NewMailer(cfg.Mail)))
	jobWorker.Register(models.JobSendChat, worker.ChatHandler(notify.NewChatNotifier(cfg.Chat)))
	jobWorker.Register(models.JobExpireOrder, worker.ExpireOrderHandler(orderService))
	jobWorker.Register(models.JobNotifyAdmins, worker.NotifyAdminsHandler(notificationService))
	go func() {
		if err := jobWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Job worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(paymentService, rejectionCoordinator, orderService, db, redisClient)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Error("Error stopping notification worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
