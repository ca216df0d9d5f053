package routes

import (
	"errors"
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/darkwinzo/queen-mini-go/internal/models"
	"github.com/darkwinzo/queen-mini-go/internal/services"
	"github.com/darkwinzo/queen-mini-go/internal/storage"
)

// SetupRoutes mounts the dashboard entry points. Requests arriving here are
// already authorized upstream; there is no auth middleware by design.
func SetupRoutes(app *fiber.App, store storage.Store, manager *services.BotManager, broadcaster *services.Broadcaster) {

	api := app.Group("/api")
	bot := api.Group("/bot")

	// Create new bot
	bot.Post("/create", func(c *fiber.Ctx) error {
		var req struct {
			UserID      string `json:"userId"`
			PhoneNumber string `json:"phoneNumber"`
			BotName     string `json:"botName"`
		}
		if err := c.BodyParser(&req); err != nil || req.UserID == "" || req.PhoneNumber == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "userId and phoneNumber are required",
			})
		}

		created, err := manager.CreateBot(req.UserID, req.PhoneNumber, req.BotName)
		if errors.Is(err, services.ErrBotExists) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"message": "Bot with this phone number already exists",
			})
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Failed to create bot")
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"success": true,
			"message": "Bot created successfully",
			"data":    created,
		})
	})

	// Get user's bots
	bot.Get("/my-bots/:userId", func(c *fiber.Ctx) error {
		bots, err := store.GetBotsByUser(c.Params("userId"))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch bots")
		}
		return c.JSON(fiber.Map{
			"success": true,
			"data":    bots,
		})
	})

	// Request a pairing code
	bot.Post("/pair", startPairingHandler(manager, services.MethodPair))

	// Request a QR code
	bot.Post("/qr", startPairingHandler(manager, services.MethodQR))

	// Force-disconnect a bot
	bot.Post("/disconnect", func(c *fiber.Ctx) error {
		var req struct {
			BotID string `json:"botId"`
		}
		if err := c.BodyParser(&req); err != nil || req.BotID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "botId is required",
			})
		}

		if err := manager.ForceDisconnect(req.BotID); err != nil {
			return botError(c, err)
		}
		return c.JSON(fiber.Map{
			"success": true,
			"message": "Bot disconnected",
		})
	})

	// Update bot settings
	bot.Put("/settings", func(c *fiber.Ctx) error {
		var req struct {
			BotID    string             `json:"botId"`
			Settings models.BotSettings `json:"settings"`
		}
		if err := c.BodyParser(&req); err != nil || req.BotID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "botId is required",
			})
		}

		if err := manager.UpdateSettings(req.BotID, req.Settings); err != nil {
			return botError(c, err)
		}
		return c.JSON(fiber.Map{
			"success": true,
			"message": "Settings updated",
		})
	})

	// Delete a bot
	bot.Delete("/:botId", func(c *fiber.Ctx) error {
		if err := manager.DeleteSession(c.Params("botId")); err != nil {
			return botError(c, err)
		}
		return c.JSON(fiber.Map{
			"success": true,
			"message": "Bot deleted successfully",
		})
	})

	// Get bot status, including live connection state and statistics
	bot.Get("/status/:botId", func(c *fiber.Ctx) error {
		botID := c.Params("botId")

		record, err := store.GetBot(botID)
		if err != nil {
			return botError(c, err)
		}

		snap, err := manager.Status(botID)
		if err != nil {
			return botError(c, err)
		}

		return c.JSON(fiber.Map{
			"success": true,
			"data": fiber.Map{
				"bot": record,
				"liveStatus": fiber.Map{
					"status": snap.Status,
					"online": snap.Online,
				},
			},
		})
	})

	// Real-time updates for the dashboard
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/:userId", websocket.New(func(conn *websocket.Conn) {
		userID := conn.Params("userId")
		sub := broadcaster.Subscribe(userID)
		defer broadcaster.Unsubscribe(sub)

		log.Printf("Dashboard client connected: user %s", userID)

		// Reader goroutine only detects the client going away
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case evt, ok := <-sub.C:
				if !ok {
					return
				}
				if err := conn.WriteJSON(evt); err != nil {
					log.Printf("Dashboard client disconnected: user %s", userID)
					return
				}
			case <-done:
				log.Printf("Dashboard client disconnected: user %s", userID)
				return
			}
		}
	}))
}

func startPairingHandler(manager *services.BotManager, method string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			BotID string `json:"botId"`
		}
		if err := c.BodyParser(&req); err != nil || req.BotID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "botId is required",
			})
		}

		result, err := manager.StartPairing(c.Context(), req.BotID, method)
		if err != nil {
			return botError(c, err)
		}

		return c.JSON(fiber.Map{
			"success": true,
			"data":    result,
		})
	}
}

// botError maps service errors onto HTTP responses
func botError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, storage.ErrBotNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Bot not found",
		})
	case errors.Is(err, services.ErrInvalidState):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	case errors.Is(err, services.ErrPairingFailed):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"success": false,
			"message": "Failed to obtain pairing code, please try again",
		})
	default:
		log.Printf("Bot operation error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Internal server error",
		})
	}
}
