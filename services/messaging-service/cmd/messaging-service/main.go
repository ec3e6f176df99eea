package main

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/valleyweightloss/messaging/libs/config"
	"github.com/valleyweightloss/messaging/libs/db"
	"github.com/valleyweightloss/messaging/libs/httpx"
	"github.com/valleyweightloss/messaging/libs/kafkax"
	otelx "github.com/valleyweightloss/messaging/libs/otel"
	"github.com/valleyweightloss/messaging/libs/redisx"
	"github.com/valleyweightloss/messaging/libs/runtime"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/appointments"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/cascade"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/channels"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/chatbot"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/consumer"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/dispatch"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/handlers"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/inbox"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/lifecycle"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/outbox"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/queue"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/tracker"
)

func main() {
	service := config.String("SERVICE_NAME", "messaging-service")
	port, err := config.Port("PORT", "8090")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	redisURL, err := config.RequiredString("REDIS_URL")
	if err != nil {
		panic(err)
	}
	rdb, err := redisx.Open(ctx, redisURL)
	if err != nil {
		logger.Error("redis connection failed", "err", err)
		panic(err)
	}
	defer rdb.Close()

	clinicTZ, err := time.LoadLocation(config.String("CLINIC_TZ", "America/Phoenix"))
	if err != nil {
		logger.Warn("invalid CLINIC_TZ, using UTC", "err", err)
		clinicTZ = time.UTC
	}

	inboxRepo := inbox.NewRepository(pool)
	trackerRepo := tracker.NewRepository(pool)
	apptRepo := appointments.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	conversations := chatbot.NewConversationRepository(pool)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	var sms channels.SMSSender
	var voice channels.VoiceCaller
	twilioSID := config.String("TWILIO_ACCOUNT_SID", "")
	if twilioSID == "" {
		logger.Warn("twilio not configured, sms and voice run in noop mode")
		sms = channels.NewNoopSMSSender()
		voice = channels.NewNoopVoiceCaller()
	} else {
		twilioSMS := channels.NewTwilioSMSSender(
			twilioSID,
			config.String("TWILIO_AUTH_TOKEN", ""),
			config.String("TWILIO_FROM_NUMBER", ""),
		)
		sms = twilioSMS
		voice = channels.NewTwilioVoiceCaller(twilioSMS)
	}

	email := channels.NewSMTPEmailSender(
		config.String("SMTP_HOST", "localhost"),
		config.String("SMTP_PORT", "1025"),
		config.String("EMAIL_FROM", "care@valleyweightloss.com"),
		config.String("EMAIL_FROM_NAME", "Valley Weight Loss"),
	)

	assistant := chatbot.NewClient(
		config.String("CHATBOT_URL", "http://localhost:8091"),
		config.String("CHATBOT_TOKEN", ""),
		conversations,
	)

	baseURL := config.String("BASE_URL", "http://localhost:"+port)
	rescheduleLink := config.String("RESCHEDULE_LINK", "https://valleyweightloss.com/reschedule")
	maxAttempts := config.Int("MESSAGE_MAX_ATTEMPTS", 3)

	messageQueue := queue.New(rdb, config.String("QUEUE_PREFIX", "msgq"))
	scheduler := cascade.NewScheduler(messageQueue, trackerRepo, logger, clinicTZ)
	canceller := cascade.NewCanceller(messageQueue, trackerRepo, logger)

	worker := dispatch.NewWorker(pool, apptRepo, trackerRepo, outboxRepo, sms, voice, email, assistant, logger, dispatch.Config{
		BaseURL:         baseURL,
		ConsultLink:     config.String("CONSULT_LINK", "https://valleyweightloss.com/consult"),
		RescheduleLink:  rescheduleLink,
		EscalationPhone: config.String("ESCALATION_PHONE", ""),
		EscalationEmail: config.String("ESCALATION_EMAIL", "care@valleyweightloss.com"),
		MaxAttempts:     maxAttempts,
		ClinicTZ:        clinicTZ,
	})

	queueConsumer := queue.NewConsumer(messageQueue, logger, queue.ConsumerConfig{
		Concurrency: config.Int("WORKER_CONCURRENCY", 5),
		PollEvery:   config.Duration("QUEUE_POLL_INTERVAL", 1*time.Second),
		BatchSize:   50,
		MaxAttempts: maxAttempts,
		BackoffBase: config.Duration("RETRY_BACKOFF_BASE", 1*time.Minute),
		StallAfter:  config.Duration("QUEUE_STALL_AFTER", 5*time.Minute),
	}, worker.Handle)
	go queueConsumer.Run(ctx)

	lifecycleHandler := lifecycle.NewHandler(scheduler, canceller, apptRepo, logger)
	eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "messaging-service"),
		Topics:  lifecycle.Topics(),
	}, lifecycleHandler.Handle)
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	voiceHandler := handlers.NewVoiceHandler(apptRepo, sms, logger, baseURL, rescheduleLink, clinicTZ)
	voiceHandler.Register(mux)
	messageLogHandler := handlers.NewMessageLogHandler(trackerRepo, logger)
	messageLogHandler.Register(mux)

	limiter := httpx.NewRedisRateLimiter(rdb, config.Int("RATE_LIMIT_PER_MINUTE", 120), time.Minute, "msgrl")
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		limiter.Middleware(logger, true),
	)
	handler = otelhttp.NewHandler(handler, "messaging")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
