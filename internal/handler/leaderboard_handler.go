package handler

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/upskill-api/internal/observability"
	"github.com/noah-isme/upskill-api/internal/service"
	"github.com/noah-isme/upskill-api/internal/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// LeaderboardHandler serves leaderboard snapshots, exports and the live stream.
type LeaderboardHandler struct {
	service service.RankingService
	logger  zerolog.Logger
}

// NewLeaderboardHandler constructs a leaderboard handler.
func NewLeaderboardHandler(service service.RankingService, logger zerolog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		service: service,
		logger:  logger.With().Str("component", "leaderboard_handler").Logger(),
	}
}

// Register binds leaderboard routes under the provided router group.
func (h *LeaderboardHandler) Register(router fiber.Router) {
	router.Use("/ws", h.upgrade)
	router.Get("/ws", websocket.New(h.handleConnection))
	router.Get("/export", h.export)
	router.Get("", h.get)
}

func (h *LeaderboardHandler) get(c *fiber.Ctx) error {
	board, err := h.service.Leaderboard(requestContext(c), userIDStringFromContext(c), c.Query("scope"))
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "leaderboard", board)
}

func (h *LeaderboardHandler) export(c *fiber.Ctx) error {
	file, err := h.service.Export(requestContext(c), userIDStringFromContext(c), c.Query("scope"))
	if err != nil {
		return handleError(c, h.logger, err)
	}

	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Attachment(file.FileName)
	return c.Send(file.Content)
}

// upgrade authorizes the requested scope before the websocket handshake so refusals stay plain HTTP errors.
func (h *LeaderboardHandler) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	scope, err := h.service.AuthorizeLive(requestContext(c), userIDStringFromContext(c), c.Query("scope"))
	if err != nil {
		return handleError(c, h.logger, err)
	}

	c.Locals("leaderboard_scope", scope)
	c.Locals("request_ctx", requestContext(c))
	return c.Next()
}

func (h *LeaderboardHandler) handleConnection(conn *websocket.Conn) {
	scope, ok := conn.Locals("leaderboard_scope").(service.Scope)
	if !ok {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "scope missing"))
		_ = conn.Close()
		return
	}

	baseCtx, _ := conn.Locals("request_ctx").(context.Context)
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	userID, _ := conn.Locals("user_id").(string)
	logger := h.logger.With().Str("user_id", strings.TrimSpace(userID)).Str("scope", scope.String()).Logger()

	gauge := observability.LeaderboardStreamsActive()
	gauge.Inc()
	defer gauge.Dec()

	logger.Info().Msg("leaderboard websocket connected")
	defer logger.Info().Msg("leaderboard websocket disconnected")

	// Clients only listen; a read error means the peer went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for snapshot := range h.service.Watch(ctx, scope) {
		if err := conn.WriteJSON(snapshot); err != nil {
			logger.Debug().Err(err).Msg("failed to write leaderboard snapshot")
			return
		}
	}
}
