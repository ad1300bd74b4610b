package broker

import (
	"time"

	"github.com/google/uuid"

	"github.com/objtalk/objtalkd/internal/metrics"
)

// Invoke routes a method call to the first eligible provider: a client
// holding a query with ProvideRPC set whose member set currently contains
// object. There is no direct response to the caller — the eventual
// InvocationResult (success from InvokeResult, or failure from
// disconnect/unsubscribe) is delivered to the caller's inbox.
func (b *Broker) Invoke(object, method string, args interface{}, callerRequestID interface{}, callerID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := validateObjectName(object); err != nil {
		return err
	}
	if _, ok := b.objects[object]; !ok {
		return ErrObjectNotFound
	}

	var providerRec *clientRecord
	var providerQuery *query
	for _, rec := range b.clients {
		for _, q := range rec.queries {
			if !q.provideRPC {
				continue
			}
			if _, ok := q.members[object]; ok {
				providerRec, providerQuery = rec, q
				break
			}
		}
		if providerRec != nil {
			break
		}
	}

	if providerRec == nil {
		return ErrNotInvocable
	}

	invocationID := uuid.New()

	b.log(LogRecord{Type: LogInvoke, Object: object, Method: method, Args: args, InvocationID: invocationID, Client: callerID})

	providerRec.invocations = append(providerRec.invocations, &invocation{
		id:              invocationID,
		callerID:        callerID,
		callerRequestID: callerRequestID,
		queryID:         providerQuery.id,
		startedAt:       time.Now(),
	})

	providerRec.inbox.send(QueryInvocation{
		QueryID:      providerQuery.id,
		InvocationID: invocationID,
		Object:       object,
		Method:       method,
		Args:         args,
	})

	return nil
}

// InvokeResult completes an invocation the calling client was providing.
func (b *Broker) InvokeResult(invocationID uuid.UUID, result interface{}, providerID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.clients[providerID]
	if !ok {
		return ErrClientNotFound
	}

	var inv *invocation
	idx := -1
	for i, candidate := range rec.invocations {
		if candidate.id == invocationID {
			inv, idx = candidate, i
			break
		}
	}
	if inv == nil {
		return ErrInvocationNotFound
	}
	rec.invocations = append(rec.invocations[:idx], rec.invocations[idx+1:]...)

	b.log(LogRecord{Type: LogInvokeResult, InvocationID: invocationID, Result: result, Client: providerID})

	b.completeInvocation(inv, result, nil)

	return nil
}

// completeInvocation delivers the terminal InvocationResult to the
// original caller, or silently drops it if that client has since
// disconnected. Caller holds the lock.
func (b *Broker) completeInvocation(inv *invocation, result interface{}, err error) {
	if err == nil {
		metrics.InvokeLatency.Observe(time.Since(inv.startedAt).Seconds())
	}

	callerRec, ok := b.clients[inv.callerID]
	if !ok {
		return
	}
	callerRec.inbox.send(InvocationResult{RequestID: inv.callerRequestID, Result: result, Err: err})
}

// SetDisconnectCommands replaces the calling client's list of commands to
// run, in order, during its own disconnect cleanup.
func (b *Broker) SetDisconnectCommands(commands []Command, clientID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}
	rec.disconnectCommands = commands
	return nil
}
