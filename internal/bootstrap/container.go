package bootstrap

import (
	"context"
	"log"
	"time"

	"random-chat-be/internal/config"
	"random-chat-be/internal/constant"
	"random-chat-be/internal/controller"
	"random-chat-be/internal/handler"
	"random-chat-be/internal/pkg/logger"
	"random-chat-be/internal/repository/memory"
	"random-chat-be/internal/repository/unitofwork"
	"random-chat-be/internal/service"
	"random-chat-be/internal/websocket"
	"random-chat-be/pkg/dialogue"
	"random-chat-be/pkg/llm/factory"
	pktNats "random-chat-be/pkg/nats"
	pairingEvents "random-chat-be/pkg/pairing/events"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	ChatController controller.IChatController
	ChatHandler    *handler.ChatHandler

	// Domain
	StateStore        service.IStateStore
	SessionController *service.SessionController

	// Background Services (Exposed for main.go to run)
	Dispatcher     *service.InboundDispatcher
	LifecycleAudit *service.LifecycleAuditService

	// WebSockets
	WebSocketHub *websocket.Hub

	Logger logger.ILogger

	natsPub *pktNats.Publisher
	natsSub *pktNats.Subscriber
	rdb     *redis.Client
}

// NewContainer wires the application. A nil db selects the in-memory store, which
// only works for a single instance.
func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	var uowFactory unitofwork.RepositoryFactory
	if db != nil {
		uowFactory = unitofwork.NewRepositoryFactory(db)
	} else {
		log.Printf("[WARN] No database configured, using in-memory state store")
		uowFactory = memory.NewChatUserStore()
	}

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{BlockPublishUntilSubscriberAck: true},
		watermillLogger,
	)

	// 3. Automation backend (optional)
	var automation service.Automation
	llmProvider, err := factory.NewLLMProvider(cfg.Ai, cfg.Keys)
	if err != nil {
		log.Printf("[WARN] Automation disabled, failed to initialize LLM Provider: %v", err)
	} else {
		automation = dialogue.NewBackend(llmProvider, constant.AutomationPersonaPrompt)
		log.Printf("[INFO] Using LLM Provider: %s (%s)", cfg.Ai.LLMProvider, cfg.Ai.LLMModel)
	}

	// 4. Infrastructure
	// NATS
	var natsPub *pktNats.Publisher
	var natsSub *pktNats.Subscriber
	if cfg.App.NatsURL != "" {
		natsPub, err = pktNats.NewPublisher(cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
		}
		natsSub, err = pktNats.NewSubscriber(cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
		}
	}

	// Redis
	var rdb *redis.Client
	if cfg.App.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
			opt = &redis.Options{
				Addr: cfg.App.RedisURL,
			}
		}
		rdb = redis.NewClient(opt)
		if _, err := rdb.Ping(context.Background()).Result(); err != nil {
			log.Printf("[WARN] Failed to connect to Redis: %v", err)
		}
	}

	// WebSocket Hub
	wsHub := websocket.NewHub(rdb, sysLogger)
	go wsHub.Run()

	// 5. Services
	stateStore := service.NewStateStore(uowFactory, cfg.Match.StoreMaxRetries, sysLogger)
	timers := service.NewTimerRegistry(sysLogger)
	conversations := memory.NewConversationRepository(conversationTTL(cfg.Match))
	pairingPublisher := pairingEvents.NewNatsPublisher(natsPub, sysLogger)

	sessionController := service.NewSessionController(
		stateStore,
		timers,
		conversations,
		wsHub, // Hub implements Transport
		automation,
		pairingPublisher,
		cfg.Match,
		sysLogger,
	)

	dispatcher := service.NewInboundDispatcher(pubSub, cfg.App.InboundWorkers, sessionController, sysLogger)
	audit := service.NewLifecycleAuditService(natsSub, sysLogger)

	// 6. Controllers
	return &Container{
		ChatController:    controller.NewChatController(stateStore, timers, conversations, dispatcher),
		ChatHandler:       handler.NewChatHandler(dispatcher, wsHub, sysLogger),
		StateStore:        stateStore,
		SessionController: sessionController,
		Dispatcher:        dispatcher,
		LifecycleAudit:    audit,
		WebSocketHub:      wsHub,
		Logger:            sysLogger,
		natsPub:           natsPub,
		natsSub:           natsSub,
		rdb:               rdb,
	}
}

// Start runs the background consumers.
func (c *Container) Start(ctx context.Context) error {
	if err := c.Dispatcher.Consume(ctx); err != nil {
		return err
	}
	if err := c.LifecycleAudit.Start(ctx); err != nil {
		log.Printf("[WARN] Lifecycle audit not running: %v", err)
	}
	return nil
}

// Close stops intake first, then drains in-flight work, then releases connections.
func (c *Container) Close() {
	c.WebSocketHub.Stop()
	if err := c.Dispatcher.Close(); err != nil {
		log.Printf("[WARN] Dispatcher close: %v", err)
	}
	c.SessionController.Shutdown()

	if c.natsSub != nil {
		c.natsSub.Close()
	}
	if c.natsPub != nil {
		c.natsPub.Close()
	}
	if c.rdb != nil {
		_ = c.rdb.Close()
	}
	_ = c.Logger.Sync()
}

// conversationTTL outlives the longest inactivity escalation so only orphaned
// sessions ever expire.
func conversationTTL(cfg config.MatchConfig) time.Duration {
	ttl := 30 * time.Minute
	if n := len(cfg.InactivityStages); n > 0 && 2*cfg.InactivityStages[n-1] > ttl {
		ttl = 2 * cfg.InactivityStages[n-1]
	}
	return ttl
}
