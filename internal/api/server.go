package api

import (
	"github.com/fathima-sithara/chat-sync/internal/auth"
	"github.com/fathima-sithara/chat-sync/internal/composer"
	"github.com/fathima-sithara/chat-sync/internal/logger"
	"github.com/fathima-sithara/chat-sync/internal/metrics"
	"github.com/fathima-sithara/chat-sync/internal/store"
	"github.com/fathima-sithara/chat-sync/internal/ws"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

type Server struct {
	store store.Store
	pub   composer.EventPublisher
	log   *zap.SugaredLogger
}

// NewServer builds the HTTP shell. wsrv may be nil to serve REST only.
func NewServer(st store.Store, jv *auth.JWTValidator, wsrv *ws.Server, pub composer.EventPublisher, log *zap.SugaredLogger) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: errorHandler})
	s := &Server{store: st, pub: pub, log: logger.OrNop(log)}

	app.Use(recover.New())
	app.Use(fiberlogger.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	v1 := app.Group("/v1", auth.JWTMiddleware(jv))
	v1.Post("/session", s.registerSelf)
	v1.Get("/roster", s.listRoster)
	v1.Get("/roster/search", s.searchRoster)
	v1.Get("/users/:id", s.findUser)
	v1.Get("/conversations/:peer/messages", s.listMessages)
	v1.Post("/conversations/:peer/messages", s.sendMessage)

	if wsrv != nil {
		v1.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		v1.Get("/ws", websocket.New(wsrv.Handler()))
	}
	return app
}
