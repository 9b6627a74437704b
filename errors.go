/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Seednode/audiencebox/identity"
	"github.com/Seednode/audiencebox/model"
	"github.com/sirupsen/logrus"
)

func newLogger(cfg *Config, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.Formatter = &logrus.TextFormatter{
		DisableLevelTruncation: true,
		PadLevelText:           true,
		TimestampFormat:        logDate,
		FullTimestamp:          true,
	}

	logger.SetLevel(logrus.InfoLevel)
	if cfg.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	return logger
}

// statusFor maps an error to the HTTP status the director API answers with.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, identity.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrSubmission):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrTransientStore),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error string `json:"error"`
}

// httpError logs err and answers with its status. Internal errors are not
// echoed to the client.
func httpError(log logrus.FieldLogger, w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	entry := log.WithError(err).WithFields(logrus.Fields{
		"status": status,
		"path":   r.URL.Path,
		"remote": realIP(r),
	})

	msg := err.Error()
	switch {
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && status != http.StatusBadGateway:
		entry.Error("SERVE: request failed")
		msg = http.StatusText(status)
	case status >= http.StatusInternalServerError:
		entry.Warn("SERVE: request failed")
	default:
		entry.Debug("SERVE: request rejected")
	}

	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

const maxBodySize = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("request body: %v: %w", err, model.ErrValidation)
	}
	return nil
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}
