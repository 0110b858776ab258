package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/nimamh/delivery-chat/internal/chat"
	"github.com/nimamh/delivery-chat/internal/config"
	"github.com/nimamh/delivery-chat/internal/database"
	"github.com/nimamh/delivery-chat/internal/handler"
	"github.com/nimamh/delivery-chat/internal/queue"
	"github.com/nimamh/delivery-chat/internal/repository"
	"github.com/nimamh/delivery-chat/internal/router"
)

func main() {
	_ = godotenv.Load() // optional .env for local development
	cfg := config.Load()

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Print("redis unavailable: rate limiting and presence disabled")
	}

	bookings := repository.NewBookingRepo(db)
	users := repository.NewUserRepo(db)
	messages := repository.NewMessageRepo(db, cfg.ChatMaxMessageLen)

	presence := chat.NewPresence(rdb)
	hub := chat.NewHub(bookings, messages, users, presence, chat.Options{
		ReplayLimit: cfg.ChatReplayLimit,
		AdminWrite:  cfg.AdminChatWrite,
	})
	defer hub.Close()

	// Background consumer feeding the status-history log for dashboards.
	go func() {
		if err := queue.StartStatusConsumer(); err != nil {
			log.Printf("status-consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterBooking(e,
		handler.NewBookingHandler(bookings, users, hub),
		handler.NewChatHandler(hub, messages, bookings, presence, cfg.AllowedOrigins),
		cfg, config.LoadRateLimitConfig(), rdb)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
