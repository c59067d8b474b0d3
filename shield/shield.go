// Package shield provides the HTTP middleware applied in front of the
// cablesync API: security headers, upload body limits, request ids and a
// per-request structured logger.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultAPIStack(idgen.Prefixed("req_", idgen.Default), 50<<20) {
//	    r.Use(mw)
//	}
package shield

import (
	"net/http"

	"github.com/hazyhaar/cablesync/idgen"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultAPIStack returns the middleware stack for a JSON API.
// Order: SecurityHeaders → MaxBody → TraceID.
func DefaultAPIStack(reqIDs idgen.Generator, maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		SecurityHeaders(APIHeaders()),
		MaxBody(maxBody),
		TraceID(reqIDs),
	}
}
