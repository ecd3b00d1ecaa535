// Package toolprovider adapts the runtime's tool registry (internal/tool)
// and permission checker (internal/permission) to the subagent.ToolProvider
// interface the interactive scope (package subagent) depends on.
package toolprovider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opencode-ai/agentcore/internal/permission"
	"github.com/opencode-ai/agentcore/internal/subagent"
	"github.com/opencode-ai/agentcore/internal/tool"
)

// permissionFor maps a tool ID to the permission type that gates it.
// Tools absent from this table run unchecked (read-only tools such as
// read, and the Task delegation tool, which is gated by its own
// maxDepth check instead).
var permissionFor = map[string]permission.PermissionType{
	"bash":  permission.PermBash,
	"edit":  permission.PermEdit,
	"Write": permission.PermEdit,
}

// Provider adapts one tool.Registry + permission.Checker pair to
// subagent.ToolProvider. AgentPermissions controls which action (allow,
// deny, ask) a gated tool resolves to before Dispatch runs it.
type Provider struct {
	registry *tool.Registry
	checker  *permission.Checker
	perms    permission.AgentPermissions
	workDir  string
}

// New builds a Provider. checker may be nil, in which case every gated
// tool call is allowed outright (used by hosts that opt out of the
// approval gate entirely).
func New(registry *tool.Registry, checker *permission.Checker, perms permission.AgentPermissions, workDir string) *Provider {
	return &Provider{registry: registry, checker: checker, perms: perms, workDir: workDir}
}

// Declarations implements subagent.ToolProvider.
func (p *Provider) Declarations() []subagent.ToolDeclaration {
	tools := p.registry.List()
	out := make([]subagent.ToolDeclaration, 0, len(tools))
	for _, t := range tools {
		out = append(out, toDeclaration(t))
	}
	return out
}

// DeclarationsFiltered implements subagent.ToolProvider.
func (p *Provider) DeclarationsFiltered(names []string) []subagent.ToolDeclaration {
	out := make([]subagent.ToolDeclaration, 0, len(names))
	for _, name := range names {
		if t, ok := p.registry.Get(name); ok {
			out = append(out, toDeclaration(t))
		}
	}
	return out
}

func toDeclaration(t tool.Tool) subagent.ToolDeclaration {
	return subagent.ToolDeclaration{
		Name:        t.ID(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
	}
}

// Dispatch implements subagent.ToolProvider. It never panics: a missing
// tool, a denied permission, or an execution error all come back as a
// non-success ToolResult rather than an error return.
func (p *Provider) Dispatch(ctx context.Context, call subagent.ToolCall, sessionID string) subagent.ToolResult {
	t, ok := p.registry.Get(call.Name)
	if !ok {
		return subagent.ToolResult{CallID: call.ID, Name: call.Name, Success: false, Err: fmt.Sprintf("unknown tool %q", call.Name)}
	}

	if err := p.checkPermission(ctx, call, sessionID); err != nil {
		return subagent.ToolResult{CallID: call.ID, Name: call.Name, Success: false, Err: err.Error()}
	}

	abortCh := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(abortCh)
	}()

	toolCtx := &tool.Context{
		SessionID: sessionID,
		CallID:    call.ID,
		WorkDir:   p.workDir,
		AbortCh:   abortCh,
	}

	result, err := t.Execute(ctx, call.Args, toolCtx)
	if err != nil {
		return subagent.ToolResult{CallID: call.ID, Name: call.Name, Success: false, Err: err.Error()}
	}
	return subagent.ToolResult{CallID: call.ID, Name: call.Name, Success: true, Output: result.Output}
}

func (p *Provider) checkPermission(ctx context.Context, call subagent.ToolCall, sessionID string) error {
	permType, gated := permissionFor[call.Name]
	if !gated || p.checker == nil {
		return nil
	}

	action := p.actionFor(permType, call)
	req := permission.Request{
		Type:      permType,
		SessionID: sessionID,
		CallID:    call.ID,
		Title:     call.Name,
	}
	if permType == permission.PermBash {
		if pattern, ok := bashPattern(call.Args); ok {
			req.Pattern = []string{pattern}
		}
	}
	return p.checker.Check(ctx, req, action)
}

func (p *Provider) actionFor(permType permission.PermissionType, call subagent.ToolCall) permission.PermissionAction {
	switch permType {
	case permission.PermBash:
		if command, ok := bashPattern(call.Args); ok {
			if cmds, err := permission.ParseBashCommand(command); err == nil && len(cmds) > 0 {
				action := permission.ActionAllow
				for _, c := range cmds {
					switch permission.MatchBashPermission(c, p.perms.Bash) {
					case permission.ActionDeny:
						return permission.ActionDeny
					case permission.ActionAsk:
						action = permission.ActionAsk
					}
				}
				return action
			}
		}
		if action, ok := p.perms.Bash["*"]; ok {
			return action
		}
		return permission.ActionAsk
	case permission.PermEdit:
		if p.perms.Edit != "" {
			return p.perms.Edit
		}
	}
	return permission.ActionAsk
}

func bashPattern(args json.RawMessage) (string, bool) {
	var payload struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(args, &payload); err != nil || payload.Command == "" {
		return "", false
	}
	return payload.Command, true
}

var _ subagent.ToolProvider = (*Provider)(nil)
