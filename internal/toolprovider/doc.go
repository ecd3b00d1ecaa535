// Package toolprovider is the production subagent.ToolProvider: it lists
// declarations straight off internal/tool.Registry and gates dispatch of
// bash/edit calls through internal/permission.Checker, surfacing
// pending approvals as the shared event bus's TOOL_WAITING_APPROVAL event
// (see internal/permission.Checker.Ask).
package toolprovider
