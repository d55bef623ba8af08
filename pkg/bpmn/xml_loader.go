// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pvmflow/pvm/pkg/bpmn/exporter"
	"github.com/pvmflow/pvm/pkg/bpmn/model/bpmn20"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
	"github.com/pvmflow/pvm/pkg/storage"
)

// processDefinitionInfo is a deployed definition together with its parsed graph
type processDefinitionInfo struct {
	definition  runtime.ProcessDefinition
	definitions *bpmn20.TDefinitions
	process     *bpmn20.TProcess
}

func parseDefinitions(xmlData []byte) (*bpmn20.TDefinitions, error) {
	var definitions bpmn20.TDefinitions
	if err := xml.Unmarshal(xmlData, &definitions); err != nil {
		return nil, &BpmnEngineUnmarshallingError{Msg: "failed to unmarshal xml data", Err: err}
	}
	return &definitions, nil
}

// loadDefinition returns the parsed definition from the cache or parses the stored XML
func (engine *Engine) loadDefinition(ctx context.Context, definitionKey int64) (*processDefinitionInfo, error) {
	if info, ok := engine.definitions.Get(definitionKey); ok {
		return info, nil
	}
	definition, err := engine.persistence.FindProcessDefinitionByKey(ctx, definitionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find process definition %d: %w", definitionKey, err)
	}
	definitions, err := parseDefinitions([]byte(definition.BpmnData))
	if err != nil {
		return nil, err
	}
	process, ok := definitions.FindProcess(definition.BpmnProcessId)
	if !ok {
		return nil, newEngineErrorf("process %s not found in definition %d", definition.BpmnProcessId, definitionKey)
	}
	info := &processDefinitionInfo{
		definition:  definition,
		definitions: definitions,
		process:     process,
	}
	engine.definitions.Add(definitionKey, info)
	return info, nil
}

// LoadFromFile deploys a given BPMN file by filename for the default tenant
// and returns the definition of the first executable process
func (engine *Engine) LoadFromFile(ctx context.Context, filename string) (runtime.ProcessDefinition, error) {
	xmlData, err := os.ReadFile(filename)
	if err != nil {
		return runtime.ProcessDefinition{}, fmt.Errorf("failed to load from file: %w", err)
	}
	definitions, err := engine.Deploy(ctx, xmlData, filepath.Base(filename), "")
	if err != nil {
		return runtime.ProcessDefinition{}, err
	}
	return definitions[0], nil
}

// Deploy parses the XML and stores a new version of every executable process it contains.
// A process whose latest version has the same checksum is not deployed again, the existing definition is returned.
// Start event registrations (message and signal subscriptions, timer start jobs) of the previous version are replaced.
func (engine *Engine) Deploy(ctx context.Context, xmlData []byte, resourceName string, tenantId string) ([]runtime.ProcessDefinition, error) {
	definitions, err := parseDefinitions(xmlData)
	if err != nil {
		return nil, err
	}
	md5sum := md5.Sum(xmlData)

	engine.deployMu.Lock()
	defer engine.deployMu.Unlock()

	res := make([]runtime.ProcessDefinition, 0, len(definitions.Processes))
	err = engine.runCommand(ctx, "deploy", func(cc *commandContext) error {
		for i := range definitions.Processes {
			process := &definitions.Processes[i]
			if !process.Executable() {
				continue
			}
			definition, err := cc.deployProcess(definitions, process, xmlData, md5sum, resourceName, tenantId)
			if err != nil {
				return err
			}
			res = append(res, definition)
		}
		if len(res) == 0 {
			return newEngineErrorf("%s contains no executable process", resourceName)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (cc *commandContext) deployProcess(definitions *bpmn20.TDefinitions, process *bpmn20.TProcess, xmlData []byte, md5sum [16]byte, resourceName string, tenantId string) (runtime.ProcessDefinition, error) {
	ctx := cc.ctx
	persistence := cc.engine.persistence
	definition := runtime.ProcessDefinition{
		Key:              cc.engine.generateKey(),
		BpmnProcessId:    process.Id,
		Version:          1,
		TenantId:         tenantId,
		BpmnData:         string(xmlData),
		BpmnResourceName: resourceName,
		BpmnChecksum:     md5sum,
		DeployedAt:       cc.now,
	}
	latest, err := persistence.FindLatestProcessDefinitionById(ctx, process.Id, tenantId)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return definition, fmt.Errorf("failed to load processes by id %s: %w", process.Id, err)
	case latest.BpmnChecksum == md5sum:
		return latest, nil
	default:
		definition.Version = latest.Version + 1
		if err := cc.removeStartRegistrations(latest.Key); err != nil {
			return definition, err
		}
	}

	info := &processDefinitionInfo{
		definition:  definition,
		definitions: definitions,
		process:     process,
	}
	if err := cc.registerStartEvents(info); err != nil {
		return definition, err
	}
	cc.definitions = append(cc.definitions, definition)
	cc.addPostFlushAction(func() {
		cc.engine.definitions.Add(definition.Key, info)
		cc.engine.exportNewProcessEvent(definition, xmlData, hex.EncodeToString(md5sum[:]))
		cc.engine.logger.Info("process deployed", "processId", definition.BpmnProcessId, "version", definition.Version, "key", definition.Key)
	})
	return definition, nil
}

func (cc *commandContext) removeStartRegistrations(definitionKey int64) error {
	subscriptions, err := cc.engine.persistence.FindProcessDefinitionEventSubscriptions(cc.ctx, definitionKey)
	if err != nil {
		return fmt.Errorf("failed to find start subscriptions of definition %d: %w", definitionKey, err)
	}
	for _, s := range subscriptions {
		cc.subscriptions.load(s.Key, s)
		cc.subscriptions.remove(s.Key)
	}
	jobs, err := cc.engine.persistence.FindProcessDefinitionJobs(cc.ctx, definitionKey)
	if err != nil {
		return fmt.Errorf("failed to find start timers of definition %d: %w", definitionKey, err)
	}
	for _, j := range jobs {
		cc.jobs.load(j.Key, j)
		cc.removeJob(&j)
	}
	return nil
}

func (cc *commandContext) registerStartEvents(info *processDefinitionInfo) error {
	definition := info.definition
	for _, se := range info.process.ScopeStartEvents("") {
		var eventType runtime.EventType
		var eventName string
		switch se.GetEventDefinitionType() {
		case bpmn20.EventDefinitionMessage:
			eventType = runtime.EventTypeMessage
			eventName = info.definitions.MessageName(se.MessageEventDefinition.MessageRef)
		case bpmn20.EventDefinitionSignal:
			eventType = runtime.EventTypeSignal
			eventName = info.definitions.SignalName(se.SignalEventDefinition.SignalRef)
		case bpmn20.EventDefinitionTimer:
			due, repeat, err := cc.evaluateTimer(nil, se.TimerEventDefinition)
			if err != nil {
				return fmt.Errorf("failed to schedule timer start event %s: %w", se.Id, err)
			}
			cc.createJob(runtime.Job{
				Type:                 runtime.JobTypeTimerStart,
				ProcessDefinitionKey: definition.Key,
				ElementId:            se.Id,
				TenantId:             definition.TenantId,
				DueAt:                due,
				RepeatCycle:          repeat,
			})
			continue
		default:
			continue
		}
		sub := &runtime.EventSubscription{
			Key:                  cc.engine.generateKey(),
			EventType:            eventType,
			EventName:            eventName,
			ProcessDefinitionKey: definition.Key,
			ElementId:            se.Id,
			TenantId:             definition.TenantId,
			CreatedAt:            cc.now,
		}
		cc.subscriptions.add(sub.Key, sub)
	}
	return nil
}

func (engine *Engine) exportNewProcessEvent(definition runtime.ProcessDefinition, xmlData []byte, checksum string) {
	event := exporter.ProcessEvent{
		ProcessId:    definition.BpmnProcessId,
		ProcessKey:   definition.Key,
		Version:      definition.Version,
		TenantId:     definition.TenantId,
		XmlData:      xmlData,
		ResourceName: definition.BpmnResourceName,
		Checksum:     checksum,
	}
	for _, exp := range engine.exporters {
		exp.NewProcessEvent(&event)
	}
}
