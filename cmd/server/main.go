package main

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"linkup/internal/cache"
	"linkup/internal/chat"
	"linkup/internal/config"
	"linkup/internal/db"
	"linkup/internal/friend"
	myMiddleware "linkup/internal/middleware"
	"linkup/internal/realtime"
	"linkup/internal/user"
)

func main() {
	// 1. Config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("❌ DATABASE_URL is not set")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("❌ JWT_SECRET is not set")
	}

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}
	log.Println("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	log.Println("✅ Database Schema Initialized")

	// 3. Read cache: Redis when configured, in-process otherwise
	var readCache cache.Store
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		log.Println("✅ Connected to Redis")
		readCache = cache.NewRedis(redisClient, cfg.CacheTTL)
	} else {
		log.Println("⚠️ REDIS_ADDR not set, using in-process cache")
		readCache = cache.NewMemory(cfg.CacheTTL)
	}

	// 4. User Feature
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService)

	// 5. Chat Feature
	chatStore := chat.NewPostgresStore(database.Conn)
	chatService := chat.NewService(chatStore, readCache, cfg.CacheTTL)
	chatHandler := chat.NewHandler(chatService)

	// 6. Friend Feature (friendship confirmation owns conversation setup)
	friendStore := friend.NewPostgresStore(database.Conn)
	friendService := friend.NewService(friendStore, chatService)
	friendHandler := friend.NewHandler(friendService)

	// 7. Realtime Hub
	hub := realtime.NewHub(friendService, chatService, cfg.HandlerTimeout)

	authMiddleware := myMiddleware.NewAuth(userService)

	// 8. Define Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Get("/api/users/{id}", userHandler.GetByID)

		r.Get("/api/me/friends", friendHandler.ListFriends)
		r.Get("/api/me/requests", friendHandler.ListRequests)

		r.Get("/api/conversations", chatHandler.ListConversations)
		r.Get("/api/conversations/{id}/messages", chatHandler.GetMessages)

		// WebSocket (Real-time)
		r.Get("/ws", realtime.ServeWs(hub))
	})

	log.Printf("🚀 Server starting on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		log.Fatal(err)
	}
}
