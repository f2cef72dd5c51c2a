package mcpserver

import "encoding/json"

func rawSchema(s string) json.RawMessage { return json.RawMessage(s) }

var toolSchemas = []toolSchema{
	{
		Name:        "get_sub_agent",
		Description: "Look up one sub-agent's catalog entry by id.",
		InputSchema: rawSchema(`{"type":"object","properties":{"agent_id":{"type":"string"}},"required":["agent_id"]}`),
	},
	{
		Name:        "suggest_sub_agent",
		Description: "Pick the best-matching sub-agent for a task, using an LLM assist when a model is configured.",
		InputSchema: rawSchema(`{"type":"object","properties":{"task":{"type":"string"},"category":{"type":"string"},"skills":{"type":"array","items":{"type":"string"}},"query":{"type":"string"},"command_id":{"type":"string"}},"required":["task"]}`),
	},
	{
		Name:        "run_sub_agent",
		Description: "Run a sub-agent synchronously and return its output.",
		InputSchema: rawSchema(`{"type":"object","properties":{"agent_id":{"type":"string"},"command_id":{"type":"string"},"task":{"type":"string"},"category":{"type":"string"},"skills":{"type":"array","items":{"type":"string"}},"query":{"type":"string"}},"required":["agent_id","task"]}`),
	},
	{
		Name:        "start_sub_agent_async",
		Description: "Start a sub-agent run as a tracked background job and return immediately.",
		InputSchema: rawSchema(`{"type":"object","properties":{"agent_id":{"type":"string"},"command_id":{"type":"string"},"task":{"type":"string"},"category":{"type":"string"},"skills":{"type":"array","items":{"type":"string"}},"query":{"type":"string"}},"required":["agent_id","task"]}`),
	},
	{
		Name:        "get_sub_agent_status",
		Description: "Fetch the current status and result of a job owned by the current session.",
		InputSchema: rawSchema(`{"type":"object","properties":{"job_id":{"type":"string"}},"required":["job_id"]}`),
	},
	{
		Name:        "cancel_sub_agent_job",
		Description: "Cancel a running job owned by the current session.",
		InputSchema: rawSchema(`{"type":"object","properties":{"job_id":{"type":"string"}},"required":["job_id"]}`),
	},
}
