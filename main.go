package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stylo-battle-system/handlers"
	"stylo-battle-system/middleware"
	"stylo-battle-system/models"
	"stylo-battle-system/services"
	"stylo-battle-system/utils"
	"stylo-battle-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 25 * 1024 * 1024, // entry images
	})

	// 🔐 GLOBAL: only Gateway requests allowed
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Service-Token, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Tournament{},
		&models.Participant{},
		&models.Match{},
		&models.VoteRecord{},
		&models.EngineEvent{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	bracketService := services.NewBracketService(db)
	engineService := services.NewEngineService(db, bracketService)
	tournamentService := services.NewTournamentService(db, engineService)
	voteService := services.NewVoteService(db)
	streamService := services.NewStreamService(db)

	authServiceURL := os.Getenv("AUTH_SERVICE_URL")
	if authServiceURL == "" {
		log.Fatal("AUTH_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("STYLO_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("STYLO_SERVICE_TOKEN environment variable not set")
	}
	authClient := services.NewAuthServiceClient(authServiceURL, serviceToken)

	syncServiceURL := os.Getenv("SYNC_SERVICE_URL")
	if syncServiceURL == "" {
		log.Fatal("SYNC_SERVICE_URL environment variable not set")
	}
	profileSyncWorker := workers.NewProfileSyncWorker(db, syncServiceURL, "/api/v1/public/profiles", serviceToken)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Println("Starting Profile Sync Worker...")
		profileSyncWorker.Start(ctx)
	}()

	engineService.StartTickScheduler(15 * time.Second)

	handlers.SetupTournamentRoutes(app, tournamentService, voteService, streamService, authClient)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Engine tick scheduler running (every 15s)")
	log.Println("✅ Profile Sync Worker running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
