// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/mia-platform/normalizer/internal/logger"
	"github.com/mia-platform/normalizer/internal/normalization"
	"github.com/mia-platform/normalizer/internal/output"
	"github.com/mia-platform/normalizer/internal/pipeline"
)

const (
	ndjsonContentType = "application/x-ndjson"
)

type normalizationRequest struct {
	Destination       string         `json:"destination"`
	JobID             string         `json:"jobId"`
	Attempt           int            `json:"attempt"`
	DestinationConfig map[string]any `json:"destinationConfig"`
	Catalog           map[string]any `json:"catalog"`
}

type statusRecord struct {
	Status      pipeline.Status `json:"status"`
	ExitCode    int             `json:"exitCode"`
	Lines       int             `json:"lines"`
	ArchivedLog string          `json:"archivedLog,omitempty"`
	Error       string          `json:"error,omitempty"`
}

func normalizationRoutes(ctx context.Context, app *fiber.App, jobs *pipeline.Pipeline) {
	app.Get("/destinations", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(normalization.Mappings())
	})

	app.Post("/normalizations", func(c *fiber.Ctx) error {
		return startNormalization(ctx, c, jobs)
	})
}

func startNormalization(serverCtx context.Context, c *fiber.Ctx, jobs *pipeline.Pipeline) error {
	requestLogger := logger.FromContext(c.UserContext()).WithName(loggerName)

	request := new(normalizationRequest)
	decoder := json.NewDecoder(bytes.NewReader(c.Body()))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(request); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	// runs outlive the request handler and stop only when the server context is done
	runCtx := logger.WithContext(serverCtx, requestLogger)
	execution, err := jobs.Prepare(runCtx, pipeline.Job{
		Destination: request.Destination,
		Input: normalization.Input{
			JobID:             request.JobID,
			Attempt:           request.Attempt,
			DestinationConfig: request.DestinationConfig,
			Catalog:           request.Catalog,
		},
	})
	if err != nil {
		requestLogger.Debug("normalization request rejected", "destination", request.Destination, "error", err)
		return errorResponse(c, statusCodeForError(err), err.Error())
	}

	c.Set(fiber.HeaderContentType, ndjsonContentType)
	c.Status(http.StatusOK)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer execution.Close()

		result := execution.Run(runCtx, output.NewJSONWriter(w))
		record := statusRecord{
			Status:      result.Status,
			ExitCode:    result.ExitCode,
			Lines:       result.Lines,
			ArchivedLog: result.ArchivedLog,
		}
		if result.Err != nil {
			record.Error = result.Err.Error()
		}

		if err := json.NewEncoder(w).Encode(record); err != nil {
			requestLogger.Warn("failed to write normalization status", "error", err)
			return
		}
		if err := w.Flush(); err != nil {
			requestLogger.Warn("failed to write normalization status", "error", err)
		}
	})

	return nil
}

func statusCodeForError(err error) int {
	switch {
	case errors.Is(err, normalization.ErrUnsupportedDestination):
		return http.StatusUnprocessableEntity
	case errors.Is(err, normalization.ErrMalformedIdentifier), errors.Is(err, normalization.ErrConfiguration):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(c *fiber.Ctx, statusCode int, message string) error {
	return c.Status(statusCode).JSON(fiber.Map{
		"statusCode": statusCode,
		"error":      http.StatusText(statusCode),
		"message":    message,
	})
}
