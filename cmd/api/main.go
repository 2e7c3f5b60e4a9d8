package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"google.golang.org/api/option"

	fbapp "firebase.google.com/go/v4"

	"dealroom/internal/adapter/api"
	"dealroom/internal/adapter/api/handler"
	apimiddleware "dealroom/internal/adapter/api/middleware"
	"dealroom/internal/adapter/api/router"
	"dealroom/internal/adapter/repository"
	domainrepo "dealroom/internal/domain/repository"
	"dealroom/internal/infrastructure/auth"
	"dealroom/internal/infrastructure/firebase"
	"dealroom/internal/infrastructure/ratelimit"
	"dealroom/internal/infrastructure/websocket"
	"dealroom/internal/usecase"
	"dealroom/pkg/config"
	"dealroom/pkg/logger"
)

// stores is the selected backend's repositories plus its lifecycle hooks.
type stores struct {
	conversations domainrepo.ConversationRepository
	messages      domainrepo.MessageRepository
	users         domainrepo.UserRepository
	listings      domainrepo.ListingRepository
	ping          handler.PingFunc
	close         func(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.SetDebug(cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var firebaseApp *fbapp.App
	if cfg.StorageBackend == config.BackendFirestore || cfg.AuthProvider == config.AuthProviderFirebase {
		firebaseApp, err = fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, firebaseOptions(cfg)...)
		if err != nil {
			log.Fatalf("Failed to initialize Firebase: %v", err)
		}
	}

	st, err := openStores(ctx, cfg, firebaseApp)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.StorageBackend, err)
	}

	if cfg.IsDevelopment() && cfg.StorageBackend == config.BackendSQLite {
		if err := seedDemoData(ctx, st.users, st.listings); err != nil {
			logger.Warn("Failed to seed demo data: %v", err)
		}
	}

	sessions := auth.NewSessionManager(cfg.SessionSecret, cfg.SessionTTL)
	var verifier usecase.SessionVerifier = sessions
	var devTokenHandler *handler.DevTokenHandler
	switch cfg.AuthProvider {
	case config.AuthProviderFirebase:
		authClient, err := firebaseApp.Auth(ctx)
		if err != nil {
			log.Fatalf("Failed to initialize Firebase Auth: %v", err)
		}
		verifier = firebase.NewFirebaseAuthClient(authClient, st.users)
	default:
		devTokenHandler = handler.NewDevTokenHandler(sessions, st.users)
	}

	rateLimiter := ratelimit.NewRateLimiter(cfg.RateMessagesPerMinute, cfg.RateBurst)
	stopCleanup := make(chan struct{})
	rateLimiter.StartCleanupRoutine(10*time.Minute, stopCleanup)

	wsManager := websocket.NewManager()
	broadcaster := websocket.NewRouter(wsManager)

	ledger := usecase.NewLedger(st.conversations, st.messages, broadcaster)
	negotiationUseCase := usecase.NewNegotiationUseCase(st.conversations, st.listings, ledger, broadcaster, rateLimiter)
	chatUseCase := usecase.NewChatUseCase(st.conversations, st.messages, st.users, st.listings, ledger, negotiationUseCase, broadcaster, rateLimiter)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.Validator = api.NewValidator()

	router.Setup(e, router.Handlers{
		Chat:        handler.NewChatHandler(chatUseCase),
		Negotiation: handler.NewNegotiationHandler(negotiationUseCase),
		User:        handler.NewUserHandler(chatUseCase),
		WebSocket:   handler.NewWebSocketHandler(wsManager, verifier, chatUseCase, negotiationUseCase, e.Validator, cfg.WSAllowedOrigins),
		Health:      handler.NewHealthHandler(cfg.StorageBackend, st.ping),
		DevToken:    devTokenHandler,
	}, apimiddleware.NewAuthMiddleware(verifier), rateLimiter, cfg.Environment)

	go func() {
		log.Printf("Starting server on port %s (storage=%s, auth=%s)...", cfg.ServerPort, cfg.StorageBackend, cfg.AuthProvider)
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// hijacked websocket connections are not tracked by the HTTP server
	wsManager.Close()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error: %v", err)
	}
	close(stopCleanup)
	if err := st.close(shutdownCtx); err != nil {
		logger.Error("Store close error: %v", err)
	}
	log.Printf("Server stopped")
}

func openStores(ctx context.Context, cfg *config.Config, firebaseApp *fbapp.App) (*stores, error) {
	switch cfg.StorageBackend {
	case config.BackendFirestore:
		client, err := firebaseApp.Firestore(ctx)
		if err != nil {
			return nil, err
		}
		return &stores{
			conversations: repository.NewFirestoreConversationRepository(client),
			messages:      repository.NewFirestoreMessageRepository(client),
			users:         repository.NewFirestoreUserRepository(client),
			listings:      repository.NewFirestoreListingRepository(client),
			close:         func(context.Context) error { return client.Close() },
		}, nil

	case config.BackendMongo:
		store, err := repository.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := store.CreateIndexes(ctx); err != nil {
			store.Close(context.Background())
			return nil, err
		}
		return &stores{
			conversations: repository.NewMongoConversationRepository(store.Conversations()),
			messages:      repository.NewMongoMessageRepository(store.Messages()),
			users:         repository.NewMongoUserRepository(store.Users()),
			listings:      repository.NewMongoListingRepository(store.Listings()),
			ping:          store.Ping,
			close:         store.Close,
		}, nil

	default:
		db, err := repository.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &stores{
			conversations: repository.NewSQLiteConversationRepository(db),
			messages:      repository.NewSQLiteMessageRepository(db),
			users:         repository.NewSQLiteUserRepository(db),
			listings:      repository.NewSQLiteListingRepository(db),
			ping:          db.PingContext,
			close:         func(context.Context) error { return db.Close() },
		}, nil
	}
}

// firebaseOptions prefers inline service account JSON (production) over a file
// path (local development). With neither, application default credentials apply.
func firebaseOptions(cfg *config.Config) []option.ClientOption {
	if cfg.FirebaseServiceAccountJSON != "" {
		log.Printf("Using Firebase service account from environment variable")
		return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.FirebaseServiceAccountJSON))}
	}
	if cfg.FirebaseServiceAccountPath != "" {
		if _, err := os.Stat(cfg.FirebaseServiceAccountPath); os.IsNotExist(err) {
			log.Fatalf("Service account file does not exist: %s", cfg.FirebaseServiceAccountPath)
		}
		log.Printf("Using Firebase service account from file: %s", cfg.FirebaseServiceAccountPath)
		return []option.ClientOption{option.WithCredentialsFile(cfg.FirebaseServiceAccountPath)}
	}
	log.Printf("Using application default credentials for Firebase")
	return nil
}
