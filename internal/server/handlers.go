package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/AMFarhan21/fres"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/abhisek/tierkit/internal/catalog"
	"github.com/abhisek/tierkit/internal/classify"
	"github.com/abhisek/tierkit/internal/engine"
	"github.com/abhisek/tierkit/internal/ingest"
	"github.com/abhisek/tierkit/internal/reconcile"
	"github.com/abhisek/tierkit/internal/report"
	"github.com/abhisek/tierkit/internal/service"
	"github.com/abhisek/tierkit/internal/store"
)

type handler struct {
	svc        *service.Service
	validator  *validator.Validate
	timeout    time.Duration
	maxRecords int
	mode       string
	parallel   int
	log        *slog.Logger
}

// DomainSummary is one entry of GET /domains.
type DomainSummary struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description,omitempty"`
	Source      string          `json:"source"`
	Factors     []string        `json:"factors"`
	Tiers       []classify.Tier `json:"tiers"`
}

func summarize(def *catalog.Definition) DomainSummary {
	return DomainSummary{
		Name:        def.Domain.Name(),
		Version:     def.Domain.Version(),
		Description: def.Domain.Description(),
		Source:      def.Document.Source,
		Factors:     def.Domain.Registry().Names(),
		Tiers:       def.Domain.Tiers(),
	}
}

// ClassifyRequest is the body of POST /domains/:name/classify.
type ClassifyRequest struct {
	// Records is a JSON array of objects, each carrying IDColumn.
	Records    json.RawMessage      `json:"records" validate:"required"`
	IDColumn   string               `json:"id_column,omitempty"`
	Constants  map[string]float64   `json:"constants,omitempty"`
	Mode       string               `json:"mode,omitempty" validate:"omitempty,oneof=skip fail-fast"`
	Reconcile  bool                 `json:"reconcile,omitempty"`
	Capacities []reconcile.Capacity `json:"capacities,omitempty" validate:"omitempty,dive"`
	Save       bool                 `json:"save,omitempty"`
	Publish    bool                 `json:"publish,omitempty"`
}

func (h *handler) listDomains(c echo.Context) error {
	defs := h.svc.Catalog().Definitions()
	out := make([]DomainSummary, 0, len(defs))
	for _, def := range defs {
		out = append(out, summarize(def))
	}
	return c.JSON(http.StatusOK, fres.Response.StatusOK(out))
}

func (h *handler) getDomain(c echo.Context) error {
	def, err := h.svc.Catalog().Get(c.Param("name"))
	if err != nil {
		return c.JSON(http.StatusNotFound, ResponseError{Message: err.Error()})
	}
	return c.JSON(http.StatusOK, fres.Response.StatusOK(def.Document))
}

func (h *handler) classify(c echo.Context) error {
	var req ClassifyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, fres.Response.StatusBadRequest("invalid request body"))
	}
	if err := h.validator.Struct(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	records, err := ingest.ReadRecords(bytes.NewReader(req.Records), ingest.Options{
		Format:   ingest.FormatJSON,
		IDColumn: req.IDColumn,
		Source:   "request",
	})
	if err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}
	if h.maxRecords > 0 && len(records) > h.maxRecords {
		return c.JSON(http.StatusRequestEntityTooLarge, ResponseError{
			Message: fmt.Sprintf("%d records exceeds the limit of %d", len(records), h.maxRecords),
		})
	}

	mode := req.Mode
	if mode == "" {
		mode = h.mode
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	out, err := h.svc.Classify(ctx, service.Request{
		Domain:     c.Param("name"),
		Records:    records,
		Constants:  req.Constants,
		Mode:       engine.Mode(mode),
		Parallel:   h.parallel,
		Source:     "http",
		Reconcile:  req.Reconcile,
		Capacities: req.Capacities,
		Save:       req.Save,
		Publish:    req.Publish,
	})
	if err != nil {
		h.log.Warn("classify failed", slog.String("domain", c.Param("name")), slog.String("error", err.Error()))
		return c.JSON(classifyStatus(err), ResponseError{Message: err.Error()})
	}
	if out.PublishErr != nil {
		return c.JSON(http.StatusBadGateway, PublishFailure{
			Message: "classified but publish failed: " + out.PublishErr.Error(),
			Saved:   out.Saved,
			Data:    out.Document(),
		})
	}

	if out.Saved {
		return c.JSON(http.StatusCreated, fres.Response.StatusCreated(out.Document()))
	}
	return c.JSON(http.StatusOK, fres.Response.StatusOK(out.Document()))
}

// PublishFailure carries the classification whose publication failed, so the
// caller still receives the results.
type PublishFailure struct {
	Message string           `json:"message"`
	Saved   bool             `json:"saved"`
	Data    *report.Document `json:"data"`
}

func classifyStatus(err error) int {
	var recErr *engine.RecordError
	switch {
	case errors.Is(err, catalog.ErrUnknownDomain):
		return http.StatusNotFound
	case errors.As(err, &recErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrNoStore), errors.Is(err, service.ErrNoPublisher):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadRequest
}

func (h *handler) listRuns(c echo.Context) error {
	runs := h.svc.Runs()
	if runs == nil {
		return c.JSON(http.StatusNotImplemented, ResponseError{Message: service.ErrNoStore.Error()})
	}
	opts := store.ListOpts{Domain: c.QueryParam("domain"), Limit: 50}
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, fres.Response.StatusBadRequest("limit must be a non-negative integer"))
		}
		opts.Limit = n
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	list, err := runs.List(ctx, opts)
	if err != nil {
		h.log.Error("list runs", slog.String("error", err.Error()))
		return c.JSON(http.StatusInternalServerError, ResponseError{Message: err.Error()})
	}
	if list == nil {
		list = []store.RunSummary{}
	}
	return c.JSON(http.StatusOK, fres.Response.StatusOK(list))
}

func (h *handler) getRun(c echo.Context) error {
	runs := h.svc.Runs()
	if runs == nil {
		return c.JSON(http.StatusNotImplemented, ResponseError{Message: service.ErrNoStore.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	id, err := runs.Resolve(ctx, c.Param("id"))
	if err != nil {
		var amb *store.AmbiguousRunError
		if errors.As(err, &amb) {
			return c.JSON(http.StatusConflict, ResponseError{Message: err.Error()})
		}
		return c.JSON(http.StatusNotFound, ResponseError{Message: err.Error()})
	}
	run, err := runs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return c.JSON(http.StatusNotFound, ResponseError{Message: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, ResponseError{Message: err.Error()})
	}

	doc := report.New(run.Batch(), run.Reconciliation)
	doc.RunID = run.ID.String()
	return c.JSON(http.StatusOK, fres.Response.StatusOK(doc))
}
