package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/literanusa/backend/docs"
	"github.com/literanusa/backend/internal/database"
	"github.com/literanusa/backend/internal/handlers"
	mW "github.com/literanusa/backend/internal/middleware"
	"github.com/literanusa/backend/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title LiteraNusa Library API
// @version 1.0
// @description API for library catalog, loans and wishlist recommendations
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	// Set environment variable prefix
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")
	viper.BindEnv("loans.sweep_interval_minutes", "LOAN_SWEEP_INTERVAL_MINUTES")

	viper.SetDefault("jwt.expiry_hours", 24)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)
	viper.SetDefault("loans.sweep_interval_minutes", 60)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "LiteraNusa Library API"
	docs.SwaggerInfo.Description = "API for library catalog, loans and wishlist recommendations"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	if err := database.InitSchema(db); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	authService := services.NewAuthService(db, redisClient)
	catalogService := services.NewCatalogService(db, redisClient)
	loanService := services.NewLoanService(db)
	wishlistService := services.NewWishlistService(db, redisClient)
	pickupService := services.NewPickupService(db, redisClient)
	pickupHandler := handlers.NewPickupHandler(pickupService)
	voiceService := services.NewVoiceSearchService(catalogService)
	defer voiceService.Close()

	authenticator := mW.NewAuthenticator(viper.GetString("jwt.secret_key"), redisClient)

	// Background overdue sweep. Borrow/Return never mutate OVERDUE state
	// themselves, so the sweep is the single writer for it.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go runOverdueSweep(sweepCtx, loanService, pickupService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Static file server for book covers
	r.Handle("/static/covers/*", http.StripPrefix("/static/covers/",
		mW.CoverFileServer("./static/covers")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)
		r.Get("/books", catalogService.ListBooks)
		r.Get("/books/search", catalogService.SearchBooks)
		r.Get("/books/share/resolve", catalogService.ResolveShareCode)
		r.Get("/books/{bookId}", catalogService.GetBook)
		r.Get("/books/{bookId}/share", catalogService.ShareBook)

		// Desk terminal endpoint, authenticated by physical presence
		r.Post("/pickup/redeem", pickupHandler.RedeemCode)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(authenticator.RequireAuth)

			r.Get("/auth/account", authService.GetUserAccount)
			r.Put("/auth/profile", authService.UpdateProfile)
			r.Post("/auth/change-password", authService.ChangePassword)

			// Loan lifecycle
			r.Post("/loans", loanService.BorrowBook)
			r.Get("/loans", loanService.GetMyLoans)
			r.Post("/loans/{loanId}/return", loanService.ReturnBook)

			// Wishlist and recommendations
			r.Get("/wishlist", wishlistService.GetWishlist)
			r.Delete("/wishlist", wishlistService.ClearWishlist)
			r.Get("/wishlist/recommendations", wishlistService.GetRecommendations)
			r.Post("/wishlist/{bookId}", wishlistService.AddToWishlist)
			r.Delete("/wishlist/{bookId}", wishlistService.RemoveFromWishlist)
			r.Post("/wishlist/{bookId}/toggle", wishlistService.ToggleWishlist)

			// Pickup codes
			r.Post("/pickup/generate", pickupHandler.GenerateCode)
			r.Get("/pickup/codes", pickupHandler.GetUserCodes)

			// Voice catalog search
			r.Post("/books/voice-search", voiceService.SearchByVoice)

			// Admin endpoints
			r.Group(func(r chi.Router) {
				r.Use(authenticator.RequireAdmin)

				r.Get("/users", authService.GetAllUsers)
				r.Post("/books", catalogService.AddBook)
				r.Put("/books/{bookId}", catalogService.UpdateBook)
				r.Get("/books/{bookId}/ledger-check", loanService.LedgerCheckHandler)
				r.Get("/loans/all", loanService.GetAllLoans)
				r.Post("/loans/sweep-overdue", loanService.SweepOverdue)
				r.Get("/wishlist/stats", wishlistService.GetWishlistStats)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopSweep()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}

// runOverdueSweep periodically marks overdue loans and prunes expired
// pickup codes. The sweep is idempotent so overlapping runs are harmless.
func runOverdueSweep(ctx context.Context, loanService *services.LoanService, pickupService *services.PickupService) {
	interval := time.Duration(viper.GetInt("loans.sweep_interval_minutes")) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			marked, err := loanService.Ledger().RecomputeOverdue(ctx, time.Now())
			if err != nil {
				log.Printf("[SWEEP] Overdue sweep failed: %v", err)
			} else if marked > 0 {
				log.Printf("[SWEEP] Marked %d loans overdue", marked)
			}

			if err := pickupService.CleanupExpiredCodes(ctx); err != nil {
				log.Printf("[SWEEP] Pickup code cleanup failed: %v", err)
			}
		}
	}
}
