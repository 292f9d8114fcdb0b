package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"sparlo_go_backend/cmd/api/config"
	"sparlo_go_backend/internal/api"
	"sparlo_go_backend/internal/auth"
	"sparlo_go_backend/internal/database"
	"sparlo_go_backend/internal/services"
	"sparlo_go_backend/internal/utils/broker"
	"sparlo_go_backend/internal/wsocket"

	"github.com/gorilla/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.NewConfig()

	genaiAPIKey := os.Getenv("GOOGLE_AI_STUDIO_API_KEY")
	if genaiAPIKey == "" {
		log.Fatal("GOOGLE_AI_STUDIO_API_KEY is not set in the environment")
	}

	ctx := context.Background()

	database.InitDB()

	// Initialize external services clients
	stripePublicKey := os.Getenv("STRIPE_PUBLIC_KEY")
	stripeSecretKey := os.Getenv("STRIPE_SECRET_KEY")
	stripeWebhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	stripeService := services.NewStripeService(database.DB, stripePublicKey, stripeSecretKey, stripeWebhookSecret)

	genaiClient, err := genai.NewClient(ctx, option.WithAPIKey(genaiAPIKey))
	if err != nil {
		log.Fatalf("Failed to create GenAI client: %v", err)
	}
	defer genaiClient.Close()

	// Initialize internal services
	llmClient := services.NewGeminiClient(genaiClient, cfg.GeminiModel)
	userService := services.NewUserService(database.DB)
	usageService := services.NewUsageService(database.DB, cfg.DefaultMonthlyQuota)
	chatStore := services.NewChatStore(database.DB)
	events := broker.NewBroker[services.ReportEvent]()
	reportService := services.NewReportService(
		database.DB,
		usageService,
		llmClient,
		chatStore,
		events,
		cfg.DefaultReserveEstimate,
	)

	cleaner := services.NewUsageEventCleaner(database.DB, cfg.EventRetentionDays)
	cleaner.Start(ctx)

	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173" // Default to your local frontend
	}

	// CORS middleware configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(allowedOrigins, ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// WebSocket upgrader
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // TODO: Implement a more secure check in production
		},
	}

	wsHandler := wsocket.NewHandler(reportService, events, upgrader, cfg.WSPingInterval)

	api.SetupRoutes(r, reportService, usageService, chatStore, stripeService, userService)
	auth.SetupRoutes(r, userService)

	r.GET("/ws", auth.AuthMiddleware(userService), func(c *gin.Context) {
		user, _ := c.Get("user")
		wsHandler.HandleWebSocket(c.Writer, c.Request, user)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	log.Printf("Server starting on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
