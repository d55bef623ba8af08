// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package otel

const (
	Prefix                        = "pvm-"
	AttributeProcessInstanceKey   = Prefix + "instance-key"
	AttributeProcessId            = Prefix + "process-id"
	AttributeProcessDefinitionKey = Prefix + "definition-key"
	AttributeExecutionKey         = Prefix + "execution-key"
	AttributeElementId            = Prefix + "element-id"
	AttributeElementType          = Prefix + "element-type"
	AttributeJobKey               = Prefix + "job-key"
	AttributeJobType              = Prefix + "job-type"
	AttributeTenantId             = Prefix + "tenant-id"
	AttributeEventName            = Prefix + "event-name"
	AttributeCommand              = Prefix + "command"
	AttributeLockOwner            = Prefix + "lock-owner"
)
