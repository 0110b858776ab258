// Package router wires HTTP routes to their handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/nimamh/delivery-chat/internal/config"
	"github.com/nimamh/delivery-chat/internal/handler"
	"github.com/nimamh/delivery-chat/internal/middleware"
	"github.com/nimamh/delivery-chat/internal/model"
)

// RegisterRoutes registers routes that do not require authentication.
// Currently that is only the health check used by load balancers.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterBooking registers the booking lifecycle and chat endpoints. All
// of them require a verified bearer token; per-route role middleware
// narrows who may call each mutation. The rate limiter is applied to the
// websocket join and the booking mutations, keyed per participant.
func RegisterBooking(e *echo.Echo, b *handler.BookingHandler, ch *handler.ChatHandler, cfg config.Config, rlCfg config.RateLimitConfig, rdb *redis.Client) {
	v1 := e.Group("/v1")
	v1.Use(middleware.JWTAuth(cfg.JWTSecret))
	v1.Use(middleware.RequireRole(model.RoleCustomer, model.RoleDeliveryPartner, model.RoleAdmin))

	limited := middleware.NewTokenBucket(rlCfg, rdb)

	v1.POST("/bookings", b.Create, middleware.RequireRole(model.RoleCustomer), limited)
	v1.GET("/bookings/:id", b.Get)
	v1.GET("/bookings/:id/history", b.History)
	v1.POST("/bookings/:id/assign", b.Assign, middleware.RequireRole(model.RoleAdmin), limited)
	v1.POST("/bookings/:id/status", b.UpdateStatus, middleware.RequireRole(model.RoleDeliveryPartner, model.RoleAdmin), limited)
	v1.POST("/bookings/:id/cancel", b.Cancel, middleware.RequireRole(model.RoleCustomer, model.RoleAdmin), limited)

	v1.GET("/bookings/:id/messages", ch.Messages)
	v1.GET("/bookings/:id/chat/online", ch.Online)
	v1.GET("/bookings/:id/chat/ws", ch.ServeWS, limited)
}
