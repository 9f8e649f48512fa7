// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package logger

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	forwardedHostHeaderKey = "x-forwarded-host"
	forwardedForHeaderKey  = "x-forwarded-for"
	requestIDHeaderName    = "x-request-id"
	userAgentHeaderName    = "user-agent"

	IncomingRequestMessage  = "incoming request"
	RequestCompletedMessage = "request completed"
)

type loggingContext interface {
	GetHeader(string) string
	URI() string
	Host() string
	Method() string
	BodySize() int
	StatusCode() int
}

// http is the structured payload attached to request log lines.
type http struct {
	Request  *request  `json:"request,omitempty"`
	Response *response `json:"response,omitempty"`
}

type userAgent struct {
	Original string `json:"original,omitempty"`
}

type request struct {
	Method    string    `json:"method,omitempty"`
	UserAgent userAgent `json:"userAgent"`
}

type responseBody struct {
	Bytes int `json:"bytes,omitempty"`
}

type response struct {
	StatusCode int          `json:"statusCode,omitempty"`
	Body       responseBody `json:"body"`
}

type host struct {
	Hostname      string `json:"hostname,omitempty"`
	ForwardedHost string `json:"forwardedHost,omitempty"`
	IP            string `json:"ip,omitempty"`
}

type url struct {
	Path string `json:"path,omitempty"`
}

func removePort(host string) string {
	return strings.Split(host, ":")[0]
}

// RequestID returns the request id propagated by the caller or a fresh random one.
func RequestID(ctx loggingContext) string {
	if requestID := ctx.GetHeader(requestIDHeaderName); requestID != "" {
		return requestID
	}

	return uuid.NewString()
}

func requestFields(ctx loggingContext) []any {
	return []any{
		"url", url{Path: ctx.URI()},
		"host", host{
			ForwardedHost: ctx.GetHeader(forwardedHostHeaderKey),
			Hostname:      removePort(ctx.Host()),
			IP:            ctx.GetHeader(forwardedForHeaderKey),
		},
	}
}

func logIncomingRequest(ctx loggingContext, logger Logger) {
	fields := append([]any{
		"http", http{
			Request: &request{
				Method:    ctx.Method(),
				UserAgent: userAgent{Original: ctx.GetHeader(userAgentHeaderName)},
			},
		},
	}, requestFields(ctx)...)

	logger.WithName("incoming_request").Trace(IncomingRequestMessage, fields...)
}

func logRequestCompleted(ctx loggingContext, logger Logger, startTime time.Time) {
	fields := append([]any{
		"http", http{
			Request: &request{
				Method:    ctx.Method(),
				UserAgent: userAgent{Original: ctx.GetHeader(userAgentHeaderName)},
			},
			Response: &response{
				StatusCode: ctx.StatusCode(),
				Body:       responseBody{Bytes: ctx.BodySize()},
			},
		},
	}, requestFields(ctx)...)
	fields = append(fields, "responseTime", float64(time.Since(startTime).Milliseconds()))

	logger.WithName("request_completed").Info(RequestCompletedMessage, fields...)
}

// fiberLoggingContext adapts a fiber request to loggingContext.
type fiberLoggingContext struct {
	c          *fiber.Ctx
	handlerErr error
}

func (flc *fiberLoggingContext) GetHeader(key string) string {
	return flc.c.Get(key, "")
}

func (flc *fiberLoggingContext) URI() string {
	return string(flc.c.Request().URI().RequestURI())
}

func (flc *fiberLoggingContext) Host() string {
	return string(flc.c.Request().Host())
}

func (flc *fiberLoggingContext) Method() string {
	return flc.c.Method()
}

func (flc *fiberLoggingContext) fiberError() *fiber.Error {
	if fiberErr, ok := flc.handlerErr.(*fiber.Error); ok {
		return fiberErr
	}
	return nil
}

func (flc *fiberLoggingContext) BodySize() int {
	if fiberErr := flc.fiberError(); fiberErr != nil {
		return len(fiberErr.Error())
	}

	if content := flc.c.GetRespHeader(fiber.HeaderContentLength); content != "" {
		if length, err := strconv.Atoi(content); err == nil {
			return length
		}
	}
	return len(flc.c.Response().Body())
}

func (flc *fiberLoggingContext) StatusCode() int {
	if fiberErr := flc.fiberError(); fiberErr != nil {
		return fiberErr.Code
	}

	return flc.c.Response().StatusCode()
}

// RequestMiddlewareLogger is a fiber middleware that logs every request not matching
// excludedPrefix, injects a request scoped logger in the user context and echoes the
// request id back to the caller.
func RequestMiddlewareLogger(logger Logger, excludedPrefix []string) fiber.Handler {
	return func(fiberCtx *fiber.Ctx) error {
		loggingCtx := &fiberLoggingContext{c: fiberCtx}

		for _, prefix := range excludedPrefix {
			if strings.HasPrefix(loggingCtx.URI(), prefix) {
				return fiberCtx.Next()
			}
		}

		start := time.Now()
		requestID := RequestID(loggingCtx)
		requestLogger := logger.With("requestId", requestID)

		fiberCtx.Set(requestIDHeaderName, requestID)
		fiberCtx.SetUserContext(WithContext(fiberCtx.UserContext(), requestLogger))

		logIncomingRequest(loggingCtx, requestLogger)
		err := fiberCtx.Next()
		loggingCtx.handlerErr = err

		logRequestCompleted(loggingCtx, requestLogger, start)
		return err
	}
}
