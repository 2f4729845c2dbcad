package handler

import (
	"errors"
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/upskill-api/internal/dto"
	"github.com/noah-isme/upskill-api/internal/middleware"
	"github.com/noah-isme/upskill-api/internal/service"
	"github.com/noah-isme/upskill-api/internal/utils"
)

// SubmissionHandler manages submission endpoints.
type SubmissionHandler struct {
	service service.SubmissionService
	reviews service.ReviewService
	logger  zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(service service.SubmissionService, reviews service.ReviewService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
		reviews: reviews,
		logger:  logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group. writeLimit throttles the mutating routes.
func (h *SubmissionHandler) Register(router fiber.Router, writeLimit fiber.Handler) {
	if writeLimit == nil {
		writeLimit = func(c *fiber.Ctx) error { return c.Next() }
	}

	router.Post("", writeLimit, middleware.WithAuth(h.create, middleware.AuthOptions{Role: middleware.AuthRoleSubmitter}))
	router.Get("/mine", h.listMine)
	router.Get("/pending", middleware.WithAuth(h.listPending, middleware.AuthOptions{Role: middleware.AuthRoleReviewer}))
	router.Get("/:id", h.get)
	router.Post("/:id/review", writeLimit, h.review)
}

func (h *SubmissionHandler) create(c *fiber.Ctx) error {
	var payload dto.SubmissionCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	var file *multipart.FileHeader
	if strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEMultipartForm) {
		header, err := c.FormFile("file")
		switch {
		case err == nil:
			file = header
		case errors.Is(err, fiber.ErrUnprocessableEntity), errors.Is(err, multipart.ErrMessageTooLarge):
			return utils.SendError(c, fiber.StatusBadRequest, "invalid attachment")
		}
	}

	submission, err := h.service.Submit(requestContext(c), userIDStringFromContext(c), payload, file)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission created", submission)
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	submission, err := h.service.Get(requestContext(c), userIDStringFromContext(c), c.Params("id"))
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *SubmissionHandler) listMine(c *fiber.Ctx) error {
	query, err := cursorQueryFromContext(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	page, err := h.service.ListMine(requestContext(c), userIDStringFromContext(c), query)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.OK(c, page.Items, "submissions retrieved", pageMeta(page.NextCursor))
}

func (h *SubmissionHandler) listPending(c *fiber.Ctx) error {
	query, err := cursorQueryFromContext(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	page, err := h.service.ListPendingForReviewer(requestContext(c), userIDStringFromContext(c), query)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.OK(c, page.Items, "pending submissions", pageMeta(page.NextCursor))
}

// review has no route guard; the workflow checks the reviewer's role before looking up the submission.
func (h *SubmissionHandler) review(c *fiber.Ctx) error {
	var payload dto.ReviewRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.reviews.Review(requestContext(c), c.Params("id"), userIDStringFromContext(c), payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	event := requestLogger(h.logger, c).Info().
		Str("submission_id", submission.ID).
		Str("status", submission.Status)
	if principal, ok := middleware.PrincipalFromContext(c); ok {
		event = event.Str("reviewer_role", principal.Role)
	}
	event.Msg("review recorded")

	return utils.SendSuccess(c, "submission reviewed", submission)
}
