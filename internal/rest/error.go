// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pvmflow/pvm/internal/log"
	"github.com/pvmflow/pvm/pkg/bpmn"
	"github.com/pvmflow/pvm/pkg/storage"
)

type ApiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// errorStatus maps engine errors to a response status and error type
func errorStatus(err error) (int, string) {
	var engineErr *bpmn.BpmnEngineError
	var exprErr *bpmn.ExpressionEvaluationError
	var unmarshalErr *bpmn.BpmnEngineUnmarshallingError
	var unhandled *bpmn.UnhandledBpmnError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, storage.ErrConflict), errors.Is(err, bpmn.ErrInstanceBusy):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, bpmn.ErrSuspended):
		return http.StatusConflict, "SUSPENDED"
	case errors.Is(err, bpmn.ErrInstanceEnded):
		return http.StatusConflict, "ENDED"
	case errors.Is(err, bpmn.ErrTaskAlreadyClaimed):
		return http.StatusConflict, "ALREADY_CLAIMED"
	case errors.Is(err, bpmn.ErrNoCorrelation):
		return http.StatusNotFound, "NO_CORRELATION"
	case errors.Is(err, bpmn.ErrAmbiguousCorrelation):
		return http.StatusConflict, "AMBIGUOUS_CORRELATION"
	case errors.As(err, &unmarshalErr):
		return http.StatusBadRequest, "INVALID_DEFINITION"
	case errors.As(err, &exprErr):
		return http.StatusUnprocessableEntity, "EXPRESSION"
	case errors.As(err, &unhandled):
		return http.StatusUnprocessableEntity, "UNHANDLED_BPMN_ERROR"
	case errors.As(err, &engineErr):
		return http.StatusUnprocessableEntity, "ENGINE"
	}
	return http.StatusInternalServerError, "ERROR"
}

func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, errType := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Errorf(r.Context(), "request %s %s failed: %s", r.Method, r.URL.Path, err)
	}
	writeError(w, r, status, ApiError{
		Type:    errType,
		Message: err.Error(),
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, resp ApiError) {
	writeJson(w, status, resp)
}

func writeJson(w http.ResponseWriter, status int, resp any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body, err := json.Marshal(resp)
	if err != nil {
		log.Error("Server error: %s", err)
		return
	}
	_, _ = w.Write(body)
}
