package lsp

import (
	"encoding/json"
	"log/slog"
)

// dispatcher classifies inbound frames on the reader goroutine and routes
// them: responses to the pending table, notifications to notify, and
// server-to-client requests to a method-not-found reply.
type dispatcher struct {
	log    *slog.Logger
	table  *PendingTable
	write  func(body []byte) error
	notify func(method string, params json.RawMessage)
}

// HandleFrame processes one decoded message body. Unparsable or
// unclassifiable frames are logged and dropped without touching pending
// requests.
func (d *dispatcher) HandleFrame(body []byte) {
	var msg message
	if err := json.Unmarshal(body, &msg); err != nil {
		d.log.Warn("lsp: discarding unparsable frame", "bytes", len(body), "error", err)
		return
	}

	switch msg.kind() {
	case kindResponse:
		d.handleResponse(&msg)
	case kindNotification:
		d.notify(msg.Method, msg.Params)
	case kindRequest:
		d.rejectRequest(&msg)
	default:
		d.log.Warn("lsp: discarding frame with neither id nor method", "bytes", len(body))
	}
}

func (d *dispatcher) handleResponse(msg *message) {
	id, ok := msg.intID()
	if !ok {
		d.log.Warn("lsp: response with non-integer id", "id", string(msg.ID))
		return
	}

	var err error
	if msg.Error != nil {
		err = msg.Error
	}
	result := msg.Result
	if result == nil && err == nil {
		result = json.RawMessage(jsonNull)
	}

	if !d.table.Resolve(id, result, err) {
		d.log.Warn("lsp: response for unknown request id", "id", id)
	}
}

// rejectRequest answers a server-to-client request with -32601 so the
// server does not wait on us. The id is echoed verbatim.
func (d *dispatcher) rejectRequest(msg *message) {
	d.log.Debug("lsp: rejecting server request", "method", msg.Method, "id", string(msg.ID))

	body, err := marshalErrorResponse(msg.ID, &RPCError{
		Code:    CodeMethodNotFound,
		Message: "method not found: " + msg.Method,
	})
	if err != nil {
		d.log.Warn("lsp: build method-not-found reply", "method", msg.Method, "error", err)
		return
	}
	if err := d.write(body); err != nil {
		d.log.Warn("lsp: send method-not-found reply", "method", msg.Method, "error", err)
	}
}
