// Package broker implements the in-memory object broker: the object
// store, the pattern-matched live-query index, the invocation bridge, the
// stream relay, and the per-client disconnect cleanup protocol. Every
// exported operation is atomic under a single mutex; none of them suspend
// while that mutex is held (delivery to a client's inbox never blocks the
// caller — see inbox.go).
package broker

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/objtalk/objtalkd/internal/metrics"
	"github.com/objtalk/objtalkd/internal/workerpool"
)

const systemObjectName = "$system"

// buildVersion is reported in $system's initial value. It can be
// overridden at link time with -ldflags "-X".
var buildVersion = "dev"

type endpoint struct {
	clientID   uuid.UUID
	localIndex uint32
}

type stream struct {
	id        uuid.UUID
	endpointA endpoint
	endpointB *endpoint
}

// Broker is the broker's state engine. Create one with New and share it
// across every transport that accepts connections.
type Broker struct {
	mu      sync.Mutex
	objects map[string]Object
	clients map[uuid.UUID]*clientRecord
	streams map[uuid.UUID]*stream
	storage Storage
	logger  Logger
	writes  *workerpool.Pool
}

// New constructs a Broker, seeding the store with "$system" and whatever
// the storage adapter already has on disk. storage and logger may be nil
// (NullStorage / NullLogger are used). writes, if non-nil, receives
// storage mutation calls off the state lock; if nil, storage is called
// inline (fine for NullStorage or tests).
func New(storage Storage, logger Logger, writes *workerpool.Pool) (*Broker, error) {
	if storage == nil {
		storage = NullStorage{}
	}
	if logger == nil {
		logger = NullLogger{}
	}

	b := &Broker{
		objects: make(map[string]Object),
		clients: make(map[uuid.UUID]*clientRecord),
		streams: make(map[uuid.UUID]*stream),
		storage: storage,
		logger:  logger,
		writes:  writes,
	}

	b.objects[systemObjectName] = Object{
		Name:         systemObjectName,
		Value:        map[string]interface{}{"version": buildVersion},
		LastModified: time.Now().UTC(),
	}

	existing, err := storage.GetObjects()
	if err != nil {
		return nil, err
	}
	for _, obj := range existing {
		b.objects[obj.Name] = obj
	}

	metrics.ObjectsTotal.Set(float64(len(b.objects)))

	return b, nil
}

func (b *Broker) log(record LogRecord) {
	b.logger.Log(record)
	// The only path by which "$system" receives events: bypasses the
	// reserved-name check public emit enforces.
	b.emitLockedBypass(systemObjectName, "log", record)
}

func (b *Broker) persistAdd(obj Object) {
	if b.writes != nil {
		b.writes.Submit(func() { b.storage.AddObject(obj) })
		return
	}
	b.storage.AddObject(obj)
}

func (b *Broker) persistChange(obj Object) {
	if b.writes != nil {
		b.writes.Submit(func() { b.storage.ChangeObject(obj) })
		return
	}
	b.storage.ChangeObject(obj)
}

func (b *Broker) persistRemove(obj Object) {
	if b.writes != nil {
		b.writes.Submit(func() { b.storage.RemoveObject(obj) })
		return
	}
	b.storage.RemoveObject(obj)
}

// Connect registers a new client and returns its handle. The returned
// Client's Inbox() must be drained by the caller; when the connection
// ends the caller must call Disconnect(client.ID) to run cleanup — there
// is no destructor-triggered cleanup in this implementation (see
// SPEC_FULL's design notes on the source's client/server cyclic
// reference).
func (b *Broker) Connect() *Client {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New()
	rec := newClientRecord(id)
	b.clients[id] = rec

	b.log(LogRecord{Type: LogClientConnect, Client: id})
	metrics.ClientsConnected.Inc()

	return &Client{ID: id, inbox: rec.inbox}
}

// Disconnect removes a client and unwinds everything it held: outstanding
// invocations it was providing fail with ErrNotInvocable to their
// callers, attached streams are closed, registered disconnect commands
// run, and finally a ClientDisconnect log record is emitted.
func (b *Broker) Disconnect(clientID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.clients[clientID]
	if !ok {
		return
	}
	delete(b.clients, clientID)
	metrics.ClientsConnected.Dec()
	metrics.QueriesActive.Sub(float64(len(rec.queries)))

	for _, inv := range rec.invocations {
		b.completeInvocation(inv, nil, ErrNotInvocable)
	}
	rec.invocations = nil

	streamIDs := make([]uuid.UUID, 0, len(rec.streams))
	for _, id := range rec.streams {
		streamIDs = append(streamIDs, id)
	}
	for _, id := range streamIDs {
		b.closeStream(id)
	}

	for _, cmd := range rec.disconnectCommands {
		b.runCommand(cmd, clientID)
	}

	b.log(LogRecord{Type: LogClientDisconnect, Client: clientID})

	rec.inbox.close()
}

// Set overwrites (or creates) name's value. Reserved names are rejected.
func (b *Broker) Set(name string, value interface{}, clientID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.setLocked(name, value, clientID)
}

func (b *Broker) setLocked(name string, value interface{}, clientID uuid.UUID) error {
	if err := validateObjectName(name); err != nil {
		return err
	}

	b.log(LogRecord{Type: LogSet, Object: name, Value: value, Client: clientID})

	obj, inserted := b.storeValue(name, value)

	if inserted {
		b.persistAdd(obj)
		metrics.ObjectsTotal.Inc()
	} else {
		b.persistChange(obj)
	}

	b.fanOutUpsert(name, obj)
	return nil
}

// Patch shallow-merges value's top-level keys into the existing object
// (which must itself be a JSON object), or behaves like Set if the object
// doesn't yet exist.
func (b *Broker) Patch(name string, value interface{}, clientID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.patchLocked(name, value, clientID)
}

func (b *Broker) patchLocked(name string, value interface{}, clientID uuid.UUID) error {
	if err := validateObjectName(name); err != nil {
		return err
	}

	patch, ok := value.(map[string]interface{})
	if !ok {
		return ErrCantMergeObjects
	}

	b.log(LogRecord{Type: LogPatch, Object: name, Value: value, Client: clientID})

	existing, exists := b.objects[name]
	var merged interface{}
	inserted := !exists
	if exists {
		var err error
		merged, err = mergeInto(existing.Value, patch)
		if err != nil {
			return err
		}
	} else {
		merged = patch
	}

	obj, _ := b.storeValue(name, merged)

	if inserted {
		b.persistAdd(obj)
		metrics.ObjectsTotal.Inc()
	} else {
		b.persistChange(obj)
	}

	b.fanOutUpsert(name, obj)
	return nil
}

// PatchSystem merges patch into "$system", bypassing the reserved-name
// check that rejects client-originated writes to it. Used by the system
// monitor to publish periodic resource samples; clientID is reported as
// the zero UUID in the resulting log record.
func (b *Broker) PatchSystem(patch map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.log(LogRecord{Type: LogPatch, Object: systemObjectName, Value: patch})

	existing := b.objects[systemObjectName]
	merged, err := mergeInto(existing.Value, patch)
	if err != nil {
		return
	}

	obj, _ := b.storeValue(systemObjectName, merged)
	b.persistChange(obj)
	b.fanOutUpsert(systemObjectName, obj)
}

// storeValue writes value into the store under name, refreshing
// LastModified, and returns the stored object plus whether it was newly
// inserted. Caller holds the lock.
func (b *Broker) storeValue(name string, value interface{}) (Object, bool) {
	_, existed := b.objects[name]
	obj := Object{Name: name, Value: value, LastModified: time.Now().UTC()}
	b.objects[name] = obj
	return obj, !existed
}

// fanOutUpsert enqueues QueryAdd/QueryChange to every query whose pattern
// matches name, for every connected client. Caller holds the lock.
func (b *Broker) fanOutUpsert(name string, obj Object) {
	for _, rec := range b.clients {
		for _, q := range rec.queries {
			if !q.pattern.Matches(name) {
				continue
			}
			if _, inside := q.members[name]; inside {
				rec.inbox.send(QueryChange{QueryID: q.id, Object: obj})
			} else {
				q.members[name] = struct{}{}
				rec.inbox.send(QueryAdd{QueryID: q.id, Object: obj})
			}
		}
	}
}

// Get returns a snapshot of every object currently matching pattern.
// Ordering is unspecified.
func (b *Broker) Get(pattern *Pattern, clientID uuid.UUID) []Object {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.log(LogRecord{Type: LogGet, Pattern: pattern.String(), Client: clientID})

	return b.snapshot(pattern)
}

// Stats is a point-in-time count of the broker's live state, reported on
// the HTTP transport's /health endpoint.
type Stats struct {
	Objects int
	Clients int
	Queries int
	Streams int
}

// Stats returns the current object/client/query/stream counts.
func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	queries := 0
	for _, rec := range b.clients {
		queries += len(rec.queries)
	}

	return Stats{
		Objects: len(b.objects),
		Clients: len(b.clients),
		Queries: queries,
		Streams: len(b.streams),
	}
}

func (b *Broker) snapshot(pattern *Pattern) []Object {
	out := make([]Object, 0, len(b.objects))
	for name, obj := range b.objects {
		if pattern.Matches(name) {
			out = append(out, obj)
		}
	}
	return out
}

// Query registers a live subscription for the calling client and returns
// its id plus the initial matching snapshot. Subsequent add/change/
// remove/event/invocation messages for this query arrive on the client's
// inbox.
func (b *Broker) Query(pattern *Pattern, provideRPC bool, clientID uuid.UUID) (uuid.UUID, []Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.clients[clientID]
	if !ok {
		return uuid.UUID{}, nil, ErrClientNotFound
	}

	id := uuid.New()

	b.log(LogRecord{Type: LogQuery, Pattern: pattern.String(), ProvideRPC: provideRPC, Query: id, Client: clientID})

	objects := b.snapshot(pattern)
	members := make(map[string]struct{}, len(objects))
	for _, obj := range objects {
		members[obj.Name] = struct{}{}
	}

	rec.queries = append(rec.queries, &query{
		id:         id,
		pattern:    pattern,
		provideRPC: provideRPC,
		members:    members,
	})
	metrics.QueriesActive.Inc()

	return id, objects, nil
}

// Unsubscribe withdraws a query. Every outstanding invocation this client
// was providing via that query fails with ErrNotInvocable.
func (b *Broker) Unsubscribe(queryID uuid.UUID, clientID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}

	b.log(LogRecord{Type: LogUnsubscribe, Query: queryID, Client: clientID})

	_, index := rec.findQuery(queryID)
	if index < 0 {
		return ErrQueryNotFound
	}
	rec.queries = append(rec.queries[:index], rec.queries[index+1:]...)
	metrics.QueriesActive.Dec()

	remaining := rec.invocations[:0]
	for _, inv := range rec.invocations {
		if inv.queryID == queryID {
			b.completeInvocation(inv, nil, ErrNotInvocable)
			continue
		}
		remaining = append(remaining, inv)
	}
	rec.invocations = remaining

	return nil
}

// Remove deletes name from the store, reporting whether it existed.
// Reserved names are rejected.
func (b *Broker) Remove(name string, clientID uuid.UUID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(name, clientID)
}

func (b *Broker) removeLocked(name string, clientID uuid.UUID) (bool, error) {
	if err := validateObjectName(name); err != nil {
		return false, err
	}

	obj, existed := b.objects[name]
	if !existed {
		return false, nil
	}
	delete(b.objects, name)
	metrics.ObjectsTotal.Dec()

	b.log(LogRecord{Type: LogRemove, Object: name, Client: clientID})

	b.persistRemove(obj)

	for _, rec := range b.clients {
		for _, q := range rec.queries {
			if _, inside := q.members[name]; inside {
				delete(q.members, name)
				rec.inbox.send(QueryRemove{QueryID: q.id, Object: obj})
			}
		}
	}

	return true, nil
}

// Emit broadcasts an ad-hoc event on an existing, non-reserved object to
// every query that currently has that object in its member set. The
// emitter need not be a provider of the object.
func (b *Broker) Emit(object, event string, data interface{}, clientID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.emitLocked(object, event, data, clientID)
}

func (b *Broker) emitLocked(object, event string, data interface{}, clientID uuid.UUID) error {
	if err := validateObjectName(object); err != nil {
		return err
	}
	if _, ok := b.objects[object]; !ok {
		return ErrObjectNotFound
	}

	b.log(LogRecord{Type: LogEmit, Object: object, Event: event, Data: data, Client: clientID})

	return b.emitLockedBypass(object, event, data)
}

// emitLockedBypass is the internal emit path: it skips reserved-name
// validation so the logger can post onto "$system". Caller holds the
// lock.
func (b *Broker) emitLockedBypass(object, event string, data interface{}) error {
	if _, ok := b.objects[object]; !ok {
		return ErrObjectNotFound
	}

	for _, rec := range b.clients {
		for _, q := range rec.queries {
			if _, inside := q.members[object]; inside {
				rec.inbox.send(QueryEvent{QueryID: q.id, Object: object, Event: event, Data: data})
			}
		}
	}

	return nil
}
