package broker

import (
	"github.com/google/uuid"

	"github.com/objtalk/objtalkd/internal/metrics"
)

// CreateStream allocates a stream with only its creating endpoint
// populated. No peer is notified; the stream isn't open until OpenStream
// pairs a second endpoint to it.
func (b *Broker) CreateStream(clientID uuid.UUID) (uuid.UUID, uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.clients[clientID]
	if !ok {
		return uuid.UUID{}, 0, ErrClientNotFound
	}

	streamID := uuid.New()
	index := rec.nextStreamIndex
	rec.nextStreamIndex++

	b.streams[streamID] = &stream{
		id:        streamID,
		endpointA: endpoint{clientID: clientID, localIndex: index},
	}
	rec.streams[index] = streamID

	b.log(LogRecord{Type: LogStreamCreate, StreamID: streamID, Index: index, Client: clientID})

	return streamID, index, nil
}

// OpenStream joins the calling client as the stream's second endpoint.
// The creating endpoint is notified with StreamOpen carrying its own
// local index. The client that created the stream may open it itself,
// yielding two distinct local indices on that one client.
func (b *Broker) OpenStream(streamID uuid.UUID, clientID uuid.UUID) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.streams[streamID]
	if !ok {
		return 0, ErrStreamNotFound
	}
	if st.endpointB != nil {
		return 0, ErrStreamAlreadyOpen
	}

	rec, ok := b.clients[clientID]
	if !ok {
		return 0, ErrClientNotFound
	}

	index := rec.nextStreamIndex
	rec.nextStreamIndex++

	st.endpointB = &endpoint{clientID: clientID, localIndex: index}
	rec.streams[index] = streamID
	metrics.StreamsOpen.Inc()

	b.log(LogRecord{Type: LogStreamOpen, StreamID: streamID, Index: index, Client: clientID})

	if peerRec, ok := b.clients[st.endpointA.clientID]; ok {
		peerRec.inbox.send(StreamOpen{Index: st.endpointA.localIndex})
	}

	return index, nil
}

// StreamSend relays payload to the other endpoint of the stream the
// caller knows as local index index. The peer receives StreamData framed
// with its own local index, so a transport can recover the destination
// purely from the frame.
func (b *Broker) StreamSend(index uint32, payload []byte, clientID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}

	streamID, ok := rec.streams[index]
	if !ok {
		return ErrStreamNotFound
	}
	st := b.streams[streamID]

	var peer endpoint
	if st.endpointA.clientID == clientID && st.endpointA.localIndex == index {
		if st.endpointB == nil {
			return ErrStreamNotOpen
		}
		peer = *st.endpointB
	} else {
		peer = st.endpointA
	}

	if peerRec, ok := b.clients[peer.clientID]; ok {
		peerRec.inbox.send(StreamData{Index: peer.localIndex, Payload: payload})
	}

	return nil
}

// CloseStream tears down a stream explicitly; both still-connected
// endpoints receive exactly one StreamClosed.
func (b *Broker) CloseStream(index uint32, clientID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}

	streamID, ok := rec.streams[index]
	if !ok {
		return ErrStreamNotFound
	}

	b.log(LogRecord{Type: LogStreamClose, StreamID: streamID, Index: index, Client: clientID})

	b.closeStream(streamID)
	return nil
}

// closeStream removes a stream from the registry and notifies every
// endpoint that still has a live client. Caller holds the lock.
func (b *Broker) closeStream(streamID uuid.UUID) {
	st, ok := b.streams[streamID]
	if !ok {
		return
	}
	delete(b.streams, streamID)
	if st.endpointB != nil {
		metrics.StreamsOpen.Dec()
	}

	endpoints := []endpoint{st.endpointA}
	if st.endpointB != nil {
		endpoints = append(endpoints, *st.endpointB)
	}

	for _, ep := range endpoints {
		if rec, ok := b.clients[ep.clientID]; ok {
			delete(rec.streams, ep.localIndex)
			rec.inbox.send(StreamClosed{Index: ep.localIndex})
		}
	}
}
