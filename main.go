package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"messaging-service/internal/config"
	"messaging-service/internal/db"
	"messaging-service/internal/handlers"
	"messaging-service/internal/hub"
	"messaging-service/internal/messaging"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/profile"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

func main() {
	cfg := config.Load()

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	otlpConn, err := grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to connect to otlp collector: %v", err)
	}
	defer otlpConn.Close()

	shutdownTracing, err := observability.InitTracing(context.Background(), "messaging-service", cfg.Environment, otlpConn)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	log.Printf("event publisher mode=%s", rabbitmq.PublisherMode(publisher))

	if eventPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange); err == nil {
		observability.SetPublisher(eventPublisher)
		defer eventPublisher.Close()
	} else {
		log.Printf("ws event publisher disabled: %v", err)
	}

	emitter := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, "messaging-service", cfg.Environment)

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	profileClient := profile.NewClient(cfg.ProfileBaseURL, cfg.ProfileAPIKey)
	liveHub := hub.NewHub()

	service := messaging.NewService(conversationRepo, messageRepo, liveHub, profileClient, publisher)

	messagingHandler := handlers.NewMessagingHandler(service, emitter)
	conversationWS := ws.NewConversationWebSocketHandler(service, cfg.JWTSecret)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("messaging-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.Auth(cfg.JWTSecret)

	router.GET("/conversations", authMiddleware, messagingHandler.ListConversations)
	router.POST("/conversations/resolve", authMiddleware, messagingHandler.ResolveConversation)
	router.GET("/conversations/:conversation_id/messages", authMiddleware, messagingHandler.GetMessages)
	router.POST("/conversations/:conversation_id/messages", authMiddleware, messagingHandler.PostMessage)
	router.POST("/conversations/:conversation_id/read", authMiddleware, messagingHandler.MarkRead)

	router.GET("/ws/conversations/:conversation_id", conversationWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, emitter, cfg.DebugRoutes)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
