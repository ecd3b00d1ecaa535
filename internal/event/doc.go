/*
Package event provides a type-safe pub/sub event bus used to fan out session
and subagent lifecycle notifications to any number of listeners (a CLI
renderer, a log sink, a test harness) without coupling the session manager or
the interactive subagent scope to any of them.

# Architecture

Subscribe/Publish/PublishSync dispatch directly to registered subscriber
functions; an Event is never serialized, so a subscriber gets the exact Go
value a publisher built.

# Event Types

Session events, emitted by the session manager (component C6):

  - session.started: a session node was created (a push onto the active
    stack, when configured, is reported separately by session.switched)
  - session.switched: the active session changed
  - session.paused: a session's status changed to paused
  - session.resumed: a paused session's status changed back to active
  - session.completed: a session reached a terminal state with a result
  - session.aborted: a session was torn down early
  - session.user_message: a user message was routed to a session
  - session.subagent_message: a subagent's reply was routed to the user
    (published by the interactive subagent scope, not the manager)

Subagent events, emitted by the interactive subagent scope (component C7):

  - subagent.start, subagent.round_start, subagent.stream_text,
    subagent.tool_call, subagent.tool_result, subagent.tool_waiting_approval,
    subagent.round_end, subagent.finish, subagent.error

# Basic Usage

Publishing events:

	// Asynchronous publishing (non-blocking)
	event.Publish(event.Event{
		Type:      event.SessionStarted,
		SessionID: node.ID,
		Data:      event.SessionStartedData{Node: view},
	})

	// Synchronous publishing (blocking until all subscribers complete)
	event.PublishSync(event.Event{
		Type:      event.SubagentStreamText,
		SessionID: node.ID,
		Data:      event.SubagentStreamTextData{Text: chunk},
	})

Subscribing to specific events:

	unsubscribe := event.Subscribe(event.SessionStarted, func(e event.Event) {
		data := e.Data.(event.SessionStartedData)
		log.Printf("session started: %s", data.Node.ID)
	})
	defer unsubscribe()

Subscribing to all events:

	unsubscribe := event.SubscribeAll(func(e event.Event) {
		log.Printf("event: %s", e)
	})
	defer unsubscribe()

# Subscriber Safety Guidelines

PublishSync calls subscribers synchronously, in subscription order, on the
publisher's goroutine — this is the delivery mode the session manager and
subagent scope rely on for ordering. Subscribers MUST therefore:

  - Complete quickly (avoid long-running operations)
  - Use non-blocking channel sends (select with a default case)
  - Never call Publish/PublishSync from within a subscriber
  - Never acquire locks the publisher might already hold

A subscriber that panics does not abort the rest of the fan-out: dispatch
recovers the panic and reports it to the bus's PanicHandler (see
SetPanicHandler), then continues with the remaining subscribers.

# Custom Event Bus

A host typically owns one Bus, shared across a session manager and every
subagent scope it binds, rather than using the process-wide global:

	bus := event.NewBus()
	defer bus.Close()
	bus.SetPanicHandler(func(t event.EventType, r any) {
		log.Printf("listener panicked handling %s: %v", t, r)
	})

	unsubscribe := bus.Subscribe(event.SessionStarted, handler)
	bus.PublishSync(event.Event{Type: event.SessionStarted, Data: data})

# Testing

	// Reset global bus state (use in test cleanup)
	event.Reset()

# Thread Safety

The event bus is safe for concurrent use. Publishing and subscribing are both
protected by internal synchronization.
*/
package event
