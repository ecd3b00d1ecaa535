package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentcore/internal/chatclient"
	"github.com/opencode-ai/agentcore/internal/config"
	"github.com/opencode-ai/agentcore/internal/delegate"
	"github.com/opencode-ai/agentcore/internal/event"
	"github.com/opencode-ai/agentcore/internal/permission"
	"github.com/opencode-ai/agentcore/internal/provider"
	"github.com/opencode-ai/agentcore/internal/session"
	"github.com/opencode-ai/agentcore/internal/subagent"
	"github.com/opencode-ai/agentcore/internal/tool"
	"github.com/opencode-ai/agentcore/internal/toolprovider"
	"github.com/opencode-ai/agentcore/pkg/types"
)

var (
	runDir         string
	runAgent       string
	runMaxDepth    int
	runAutoApprove bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive root session",
	Long: `run starts one root interactive session bound to the terminal:
lines typed at the prompt are delivered via SendUserMessage, and streamed
text, final replies, tool calls and results, errors, and session
start/completion/abort events are printed as they happen. Ctrl-C (or the
end of standard input) cancels the root session and exits; there is no key
that cancels only the current round.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runDir, "directory", "d", "", "Working directory (defaults to cwd)")
	runCmd.Flags().StringVarP(&runAgent, "agent", "a", "build", "Primary agent to drive the root session")
	runCmd.Flags().IntVar(&runMaxDepth, "max-depth", 4, "Maximum session-tree depth for delegated subtasks")
	runCmd.Flags().BoolVar(&runAutoApprove, "auto-approve", false, "Approve every gated tool call without prompting")
}

func runRun(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(runDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if globalModel != "" {
		cfg.Model = globalModel
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providerRegistry, err := provider.InitializeProviders(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize providers: %w", err)
	}
	model, err := providerRegistry.DefaultModel()
	if err != nil {
		return fmt.Errorf("resolve default model: %w", err)
	}
	prov, err := providerRegistry.Get(model.ProviderID)
	if err != nil {
		return fmt.Errorf("resolve provider %q: %w", model.ProviderID, err)
	}

	primary, ok := cfg.Agent[runAgent]
	if !ok {
		primary = types.AgentConfig{}
	}

	toolRegistry := tool.DefaultRegistry(workDir)

	bus := event.NewBus()
	log := rootLog
	bus.SetPanicHandler(func(t event.EventType, recovered any) {
		log.Error("event subscriber panicked", fmt.Errorf("%v", recovered), map[string]any{"eventType": string(t)}, nil)
	})

	checker := permission.NewChecker(bus)
	if runAutoApprove {
		bus.Subscribe(event.SubagentToolWaitApprove, func(evt event.Event) {
			data, ok := evt.Data.(event.SubagentToolWaitApproveData)
			if !ok {
				return
			}
			checker.Respond(data.CallID, "always")
		})
	} else {
		bus.Subscribe(event.SubagentToolWaitApprove, func(evt event.Event) {
			data, ok := evt.Data.(event.SubagentToolWaitApproveData)
			if !ok {
				return
			}
			fmt.Printf("\n[approval requested] %s %s — approving once (run with --auto-approve to silence)\n", data.Name, data.Pattern)
			checker.Respond(data.CallID, "once")
		})
	}

	tp := toolprovider.New(toolRegistry, checker, agentPermissions(primary), workDir)

	manager := session.NewManager(bus, log)

	chatFactory := func(ctx context.Context, initialCtx *session.Context) (subagent.ChatClient, error) {
		return chatclient.New(chatclient.Config{
			Provider:     prov,
			ModelID:      model.ID,
			MaxTokens:    4096,
			Temperature:  0.7,
			SystemPrompt: primary.Prompt,
		})
	}

	executor := delegate.New(delegate.Dependencies{
		Manager:     manager,
		Bus:         bus,
		Log:         log,
		ChatFactory: chatFactory,
		Tools:       tp,
		MaxDepth:    runMaxDepth,
	})
	toolRegistry.SetTaskExecutor(executor)

	printEvents(bus)

	rootID, err := manager.CreateSession(session.CreateSessionParams{
		Name: "root",
		Config: session.SubagentSessionConfig{
			Interactive: true,
			MaxDepth:    runMaxDepth,
			AutoSwitch:  true,
		},
	})
	if err != nil {
		return fmt.Errorf("create root session: %w", err)
	}

	scope := subagent.NewScope(subagent.Config{
		SessionID:        rootID,
		SubagentID:       runAgent,
		AllowNestedTasks: true,
		DelegationTool:   subagent.ToolDeclaration{Name: "Task", Description: "Delegate a subtask to a subagent"},
	}, chatFactory, tp, manager, bus, log)

	scopeDone := make(chan struct{})
	go func() {
		scope.RunInteractive(ctx)
		close(scopeDone)
	}()

	fmt.Printf("orchestrator: root session %s ready (agent=%s, model=%s/%s). Ctrl-C to exit.\n", rootID, runAgent, model.ProviderID, model.ID)
	fmt.Print("> ")

	reader := bufio.NewScanner(os.Stdin)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for reader.Scan() {
			lines <- reader.Text()
		}
	}()

readLoop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				stop()
				break readLoop
			}
			text := strings.TrimSpace(line)
			if text == "" {
				fmt.Print("> ")
				continue
			}
			if err := manager.SendUserMessage(rootID, text); err != nil {
				fmt.Fprintf(os.Stderr, "send message: %v\n", err)
			}
			fmt.Print("> ")
		case <-ctx.Done():
			break readLoop
		}
	}

	<-scopeDone
	return nil
}

// agentPermissions translates a configured agent's permission block into the
// permission package's AgentPermissions, defaulting to "ask" for anything
// left unconfigured.
func agentPermissions(a types.AgentConfig) permission.AgentPermissions {
	perms := permission.DefaultAgentPermissions()
	if a.Permission == nil {
		return perms
	}

	if act, ok := parsePermissionAction(a.Permission.Edit); ok {
		perms.Edit = act
	}
	if act, ok := parsePermissionAction(a.Permission.WebFetch); ok {
		perms.WebFetch = act
	}
	if act, ok := parsePermissionAction(a.Permission.ExternalDir); ok {
		perms.ExternalDir = act
	}
	if act, ok := parsePermissionAction(a.Permission.DoomLoop); ok {
		perms.DoomLoop = act
	}

	switch bash := a.Permission.Bash.(type) {
	case string:
		if act, ok := parsePermissionAction(bash); ok {
			for pattern := range perms.Bash {
				perms.Bash[pattern] = act
			}
			perms.Bash["*"] = act
		}
	case map[string]any:
		for pattern, v := range bash {
			if s, ok := v.(string); ok {
				if act, ok := parsePermissionAction(s); ok {
					perms.Bash[pattern] = act
				}
			}
		}
	}

	return perms
}

func parsePermissionAction(s string) (permission.PermissionAction, bool) {
	switch permission.PermissionAction(s) {
	case permission.ActionAllow, permission.ActionDeny, permission.ActionAsk:
		return permission.PermissionAction(s), true
	default:
		return "", false
	}
}

func printEvents(bus *event.Bus) {
	bus.SubscribeAll(func(evt event.Event) {
		switch evt.Type {
		case event.SubagentStreamText:
			data := evt.Data.(event.SubagentStreamTextData)
			fmt.Print(data.Text)
		case event.SubagentMessageToUser:
			data := evt.Data.(event.SubagentMessageToUserData)
			if data.IsFinal {
				fmt.Printf("\n[%s] %s\n", evt.SessionID, data.FinalText)
			}
		case event.SubagentToolCall:
			data := evt.Data.(event.SubagentToolCallData)
			fmt.Printf("\n[%s] -> %s\n", evt.SessionID, data.Name)
		case event.SubagentToolResult:
			data := evt.Data.(event.SubagentToolResultData)
			status := "ok"
			if !data.Success {
				status = "failed: " + data.Err
			}
			fmt.Printf("[%s] <- %s (%s)\n", evt.SessionID, data.Name, status)
		case event.SubagentError:
			data := evt.Data.(event.SubagentErrorData)
			fmt.Fprintf(os.Stderr, "[%s] error: %s\n", evt.SessionID, data.Err)
		case event.SessionStarted:
			data := evt.Data.(event.SessionStartedData)
			fmt.Printf("[session] started %s (%s) depth=%d\n", data.Node.ID, data.Node.Name, data.Node.Depth)
		case event.SessionCompleted, event.SessionAborted:
			fmt.Printf("[session] %s %s\n", evt.SessionID, evt.Type)
		}
	})
}
