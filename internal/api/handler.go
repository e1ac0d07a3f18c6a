package api

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/georgeshao/o2c-triage/internal/dispatcher"
	"github.com/georgeshao/o2c-triage/internal/drafts"
	"github.com/georgeshao/o2c-triage/internal/storage"
	"github.com/georgeshao/o2c-triage/pkg/types"
)

const (
	maxListLimit     = 1000
	unknownRecipient = "unknown@email.com"
)

var validate = validator.New()

type Handler struct {
	store  storage.Store
	runner *dispatcher.Runner
	drafts *drafts.Generator
	logger *slog.Logger

	// batchCtx outlives any single request; background batches run under it.
	batchCtx context.Context
	now      func() time.Time
}

// NewHandler wires the review API. runner may be nil when no credentials are
// configured, in which case batch submission is unavailable.
func NewHandler(batchCtx context.Context, store storage.Store, runner *dispatcher.Runner, gen *drafts.Generator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    store,
		runner:   runner,
		drafts:   gen,
		logger:   logger,
		batchCtx: batchCtx,
		now:      time.Now,
	}
}

// resolveBatch returns the batch named in the query, or the latest one.
func (h *Handler) resolveBatch(c *fiber.Ctx) (string, error) {
	if batchID := c.Query("batch"); batchID != "" {
		return batchID, nil
	}
	return h.store.LatestBatchID(c.Context())
}

func (h *Handler) GetQueues(c *fiber.Ctx) error {
	batchID, err := h.resolveBatch(c)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(types.ErrorResponse{Error: "Failed to resolve batch"})
	}

	counts := map[types.Queue]int{}
	if batchID != "" {
		counts, err = h.store.QueueCounts(c.Context(), batchID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(types.ErrorResponse{Error: "Failed to count cases"})
		}
	}

	return c.JSON(queueSummary(batchID, counts))
}

func (h *Handler) ListCases(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", storage.DefaultListLimit)
	if limit < 1 || limit > maxListLimit {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{Error: "Limit must be between 1 and 1000"})
	}

	filter := storage.CaseFilter{Limit: limit}

	if queue := c.Query("queue"); queue != "" {
		q, ok := parseQueue(queue)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{Error: "Unknown queue"})
		}
		filter.Queue = &q
	}

	if after := c.Query("after"); after != "" {
		seq, err := strconv.Atoi(after)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{Error: "Invalid after cursor"})
		}
		filter.AfterSeq = &seq
	}

	batchID, err := h.resolveBatch(c)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(types.ErrorResponse{Error: "Failed to resolve batch"})
	}

	resp := types.ListCasesResponse{Cases: []types.Case{}, BatchID: batchID, Limit: limit}
	if batchID == "" {
		return c.JSON(resp)
	}
	filter.BatchID = batchID

	records, err := h.store.ListCases(c.Context(), filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(types.ErrorResponse{Error: "Failed to list cases"})
	}

	for _, record := range records {
		resp.Cases = append(resp.Cases, recordToCase(record))
	}

	// Next cursor is the last seq when the page is full
	if len(records) == limit {
		next := records[len(records)-1].Seq
		resp.NextAfter = &next
	}

	return c.JSON(resp)
}

func (h *Handler) getCase(c *fiber.Ctx) (*storage.CaseRecord, error) {
	id := c.Params("id")
	if id == "" {
		return nil, c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{Error: "Case ID is required"})
	}

	record, err := h.store.GetCase(c.Context(), id)
	if err != nil {
		return nil, c.Status(fiber.StatusInternalServerError).JSON(types.ErrorResponse{Error: "Failed to get case"})
	}
	if record == nil {
		return nil, c.Status(fiber.StatusNotFound).JSON(types.ErrorResponse{Error: "Case not found"})
	}
	return record, nil
}

func (h *Handler) GetCase(c *fiber.Ctx) error {
	record, err := h.getCase(c)
	if record == nil {
		return err
	}
	return c.JSON(recordToCase(record))
}

func (h *Handler) GenerateDraft(c *fiber.Ctx) error {
	record, err := h.getCase(c)
	if record == nil {
		return err
	}

	draft, generated, err := h.drafts.Generate(c.UserContext(), record)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(types.ErrorResponse{Error: "Draft generation unavailable"})
	}

	return c.JSON(types.DraftResponse{Draft: *draft, Generated: generated})
}

func (h *Handler) SendEmail(c *fiber.Ctx) error {
	var req types.SendEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{Error: "Invalid request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{Error: "Subject and body are required"})
	}

	record, err := h.getCase(c)
	if record == nil {
		return err
	}

	to := record.From
	if to == "" {
		to = unknownRecipient
	}

	sent := &storage.SentRecord{
		ID:      uuid.New().String(),
		CaseID:  record.ID,
		EmailID: record.EmailID,
		To:      to,
		Subject: req.Subject,
		Body:    req.Body,
		SentAt:  h.now(),
	}

	if err := h.store.AppendSent(c.Context(), sent); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(types.ErrorResponse{Error: "Failed to record sent email"})
	}

	h.logger.Info("Email sent", "case_id", record.ID, "sent_id", sent.ID)
	return c.Status(fiber.StatusCreated).JSON(recordToSent(sent))
}

func (h *Handler) ListSent(c *fiber.Ctx) error {
	record, err := h.getCase(c)
	if record == nil {
		return err
	}

	records, err := h.store.ListSent(c.Context(), record.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(types.ErrorResponse{Error: "Failed to list sent emails"})
	}

	resp := types.ListSentResponse{Sent: make([]types.SentEmail, len(records))}
	for i, r := range records {
		resp.Sent[i] = recordToSent(r)
	}
	return c.JSON(resp)
}

func (h *Handler) TriggerBatch(c *fiber.Ctx) error {
	if h.runner == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(types.ErrorResponse{Error: "No inference credentials configured"})
	}

	var req types.BatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{Error: "Invalid request body"})
	}

	batchID := uuid.New().String()
	if len(req.Emails) == 0 {
		return c.Status(fiber.StatusOK).JSON(types.BatchResponse{
			BatchID: batchID,
			Status:  "no_emails",
		})
	}

	err := h.runner.Start(h.batchCtx, batchID, req.Emails, func(summary *types.BatchSummary, err error) {
		if err != nil {
			h.logger.Error("Batch stopped", "batch_id", batchID, "error", err)
		}
	})
	if errors.Is(err, dispatcher.ErrBatchInProgress) {
		return c.Status(fiber.StatusConflict).JSON(types.ErrorResponse{Error: "A batch is already running"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(types.ErrorResponse{Error: "Failed to start batch"})
	}

	return c.Status(fiber.StatusAccepted).JSON(types.BatchResponse{
		BatchID:     batchID,
		QueuedCount: len(req.Emails),
		Status:      "dispatching",
	})
}
