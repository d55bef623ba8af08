// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pvmflow/pvm/internal/config"
	"github.com/pvmflow/pvm/internal/log"
	"github.com/pvmflow/pvm/internal/rest/middleware"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
	"github.com/pvmflow/pvm/pkg/ptr"
	"github.com/pvmflow/pvm/pkg/storage"
)

// maxDeploymentSize limits the size of deployed BPMN documents
const maxDeploymentSize = 10 << 20

// Engine is the part of bpmn.Engine exposed to operators
type Engine interface {
	Deploy(ctx context.Context, xmlData []byte, resourceName string, tenantId string) ([]runtime.ProcessDefinition, error)
	FindProcessDefinitions(ctx context.Context, tenantId string) ([]runtime.ProcessDefinition, error)
	FindProcessDefinition(ctx context.Context, definitionKey int64) (runtime.ProcessDefinition, error)
	StartProcessInstanceByKey(ctx context.Context, bpmnProcessId string, tenantId string, businessKey string, variables map[string]any) (runtime.ProcessInstance, error)
	FindProcessInstance(ctx context.Context, processInstanceKey int64) (runtime.ProcessInstance, error)
	SuspendProcessInstance(ctx context.Context, processInstanceKey int64) error
	ActivateProcessInstance(ctx context.Context, processInstanceKey int64) error
	DeleteProcessInstance(ctx context.Context, processInstanceKey int64, reason string) error
	GetVariables(ctx context.Context, executionKey int64) (map[string]any, error)
	FindHistoricProcessInstance(ctx context.Context, processInstanceKey int64) (runtime.HistoricProcessInstance, error)
	FindHistoricActivityInstances(ctx context.Context, processInstanceKey int64) ([]runtime.HistoricActivityInstance, error)
	SignalEventReceived(ctx context.Context, signalName string, tenantId string, variables map[string]any) error
	CorrelateMessage(ctx context.Context, messageName string, tenantId string, processInstanceKey int64, variables map[string]any) error
	Trigger(ctx context.Context, executionKey int64, variables map[string]any) error
	FindTasks(ctx context.Context, filter storage.TaskFilter) ([]runtime.Task, error)
	ClaimTask(ctx context.Context, taskKey int64, userId string) error
	CompleteTask(ctx context.Context, taskKey int64, variables map[string]any) error
	FindJobs(ctx context.Context, processInstanceKey int64) ([]runtime.Job, error)
	SetJobRetries(ctx context.Context, jobKey int64, retries int) error
	FindIncidents(ctx context.Context, processInstanceKey int64) ([]runtime.Incident, error)
	ResolveIncident(ctx context.Context, incidentKey int64) error
}

type Server struct {
	engine Engine
	addr   string
	server *http.Server
	router chi.Router
}

func NewServer(engine Engine, conf config.Config) *Server {
	r := chi.NewRouter()
	s := Server{
		engine: engine,
		addr:   conf.Server.Addr,
		router: r,
		server: &http.Server{
			ReadHeaderTimeout: 3 * time.Second,
			Handler:           r,
			Addr:              conf.Server.Addr,
		},
	}
	r.Use(middleware.Cors(conf.Server.AllowedOrigins))
	r.Use(middleware.Opentelemetry(conf))
	r.Use(middleware.StripEmptyQueryParams())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/process-definitions", s.deploy)
		r.Get("/process-definitions", s.getProcessDefinitions)
		r.Get("/process-definitions/{key}", s.getProcessDefinition)

		r.Post("/process-instances", s.startProcessInstance)
		r.Route("/process-instances/{key}", func(r chi.Router) {
			r.Get("/", s.getProcessInstance)
			r.Delete("/", s.deleteProcessInstance)
			r.Post("/suspend", s.suspendProcessInstance)
			r.Post("/activate", s.activateProcessInstance)
			r.Get("/history", s.getProcessInstanceHistory)
			r.Get("/jobs", s.getJobs)
			r.Get("/incidents", s.getIncidents)
		})
		r.Post("/executions/{key}/trigger", s.triggerExecution)

		r.Post("/signals", s.throwSignal)
		r.Post("/messages", s.correlateMessage)

		r.Get("/tasks", s.getTasks)
		r.Post("/tasks/{key}/claim", s.claimTask)
		r.Post("/tasks/{key}/complete", s.completeTask)

		r.Post("/jobs/{key}/retries", s.setJobRetries)
		r.Post("/incidents/{key}/resolve", s.resolveIncident)
	})
	// register system endpoints
	r.Route("/system", func(r chi.Router) {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJson(w, http.StatusOK, map[string]string{"status": "UP"})
		})
	})
	return &s
}

// Handler returns the router, tests serve it through httptest
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() net.Listener {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		log.Error("failed to listen: %v", err)
		return nil
	}
	log.Info("PVM REST server listening on %s", s.addr)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("Error starting server: %s", err)
		}
	}()
	return listener
}

func (s *Server) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		log.Error("Error stopping server: %s", err)
	}
}

type StartProcessInstanceRequest struct {
	BpmnProcessId string         `json:"bpmnProcessId"`
	TenantId      string         `json:"tenantId"`
	BusinessKey   string         `json:"businessKey"`
	Variables     map[string]any `json:"variables"`
}

type ProcessInstanceResponse struct {
	runtime.ProcessInstance
	Variables map[string]any `json:"variables"`
}

type SignalRequest struct {
	Name      string         `json:"name"`
	TenantId  string         `json:"tenantId"`
	Variables map[string]any `json:"variables"`
}

type MessageRequest struct {
	Name               string         `json:"name"`
	TenantId           string         `json:"tenantId"`
	ProcessInstanceKey int64          `json:"processInstanceKey"`
	Variables          map[string]any `json:"variables"`
}

type VariablesRequest struct {
	Variables map[string]any `json:"variables"`
}

type ClaimTaskRequest struct {
	UserId string `json:"userId"`
}

type JobRetriesRequest struct {
	Retries int `json:"retries"`
}

type HistoryResponse struct {
	ProcessInstance runtime.HistoricProcessInstance    `json:"processInstance"`
	Activities      []runtime.HistoricActivityInstance `json:"activities"`
}

func (s *Server) deploy(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxDeploymentSize))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ApiError{Type: "BAD_REQUEST", Message: err.Error()})
		return
	}
	resourceName := r.URL.Query().Get("resourceName")
	if resourceName == "" {
		resourceName = "deployment.bpmn"
	}
	definitions, err := s.engine.Deploy(r.Context(), data, resourceName, r.URL.Query().Get("tenantId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, http.StatusCreated, definitions)
}

func (s *Server) getProcessDefinitions(w http.ResponseWriter, r *http.Request) {
	definitions, err := s.engine.FindProcessDefinitions(r.Context(), r.URL.Query().Get("tenantId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, definitions)
}

func (s *Server) getProcessDefinition(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	definition, err := s.engine.FindProcessDefinition(r.Context(), key)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, definition)
}

func (s *Server) startProcessInstance(w http.ResponseWriter, r *http.Request) {
	var req StartProcessInstanceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BpmnProcessId == "" {
		writeError(w, r, http.StatusBadRequest, ApiError{Type: "BAD_REQUEST", Message: "bpmnProcessId is required"})
		return
	}
	instance, err := s.engine.StartProcessInstanceByKey(r.Context(), req.BpmnProcessId, req.TenantId, req.BusinessKey, req.Variables)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, http.StatusCreated, instance)
}

func (s *Server) getProcessInstance(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	instance, err := s.engine.FindProcessInstance(r.Context(), key)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	resp := ProcessInstanceResponse{ProcessInstance: instance}
	if !instance.State.IsEnded() {
		// the root execution shares the key of its instance
		resp.Variables, err = s.engine.GetVariables(r.Context(), instance.Key)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
	}
	writeJson(w, http.StatusOK, resp)
}

func (s *Server) deleteProcessInstance(w http.ResponseWriter, r *http.Request) {
	s.instanceAction(w, r, func(ctx context.Context, key int64) error {
		reason := r.URL.Query().Get("reason")
		if reason == "" {
			reason = "deleted through the api"
		}
		return s.engine.DeleteProcessInstance(ctx, key, reason)
	})
}

func (s *Server) suspendProcessInstance(w http.ResponseWriter, r *http.Request) {
	s.instanceAction(w, r, s.engine.SuspendProcessInstance)
}

func (s *Server) activateProcessInstance(w http.ResponseWriter, r *http.Request) {
	s.instanceAction(w, r, s.engine.ActivateProcessInstance)
}

func (s *Server) instanceAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, key int64) error) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	if err := action(r.Context(), key); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getProcessInstanceHistory(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	historic, err := s.engine.FindHistoricProcessInstance(r.Context(), key)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	activities, err := s.engine.FindHistoricActivityInstances(r.Context(), key)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, HistoryResponse{ProcessInstance: historic, Activities: activities})
}

func (s *Server) getJobs(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	jobs, err := s.engine.FindJobs(r.Context(), key)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, jobs)
}

func (s *Server) getIncidents(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	incidents, err := s.engine.FindIncidents(r.Context(), key)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, incidents)
}

func (s *Server) triggerExecution(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	var req VariablesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.Trigger(r.Context(), key, req.Variables); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) throwSignal(w http.ResponseWriter, r *http.Request) {
	var req SignalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.SignalEventReceived(r.Context(), req.Name, req.TenantId, req.Variables); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) correlateMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.CorrelateMessage(r.Context(), req.Name, req.TenantId, req.ProcessInstanceKey, req.Variables); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.TaskFilter{
		Assignee:       q.Get("assignee"),
		CandidateUser:  q.Get("candidateUser"),
		CandidateGroup: q.Get("candidateGroup"),
		ElementId:      q.Get("elementId"),
	}
	if q.Has("tenantId") {
		filter.TenantId = ptr.To(q.Get("tenantId"))
	}
	if q.Has("processInstanceKey") {
		key, err := strconv.ParseInt(q.Get("processInstanceKey"), 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, ApiError{Type: "BAD_REQUEST", Message: fmt.Sprintf("invalid processInstanceKey: %s", err)})
			return
		}
		filter.ProcessInstanceKey = key
	}
	tasks, err := s.engine.FindTasks(r.Context(), filter)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, tasks)
}

func (s *Server) claimTask(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	var req ClaimTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.ClaimTask(r.Context(), key, req.UserId); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	var req VariablesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.CompleteTask(r.Context(), key, req.Variables); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setJobRetries(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	var req JobRetriesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.SetJobRetries(r.Context(), key, req.Retries); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resolveIncident(w http.ResponseWriter, r *http.Request) {
	s.instanceAction(w, r, s.engine.ResolveIncident)
}

func keyParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	key, err := strconv.ParseInt(chi.URLParam(r, "key"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ApiError{Type: "BAD_REQUEST", Message: fmt.Sprintf("invalid key: %s", err)})
		return 0, false
	}
	return key, true
}

// decodeBody reads the JSON body, an empty body leaves v untouched
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && err != io.EOF {
		writeError(w, r, http.StatusBadRequest, ApiError{Type: "BAD_REQUEST", Message: err.Error()})
		return false
	}
	return true
}
