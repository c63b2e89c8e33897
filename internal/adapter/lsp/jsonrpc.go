package lsp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const jsonrpcVersion = "2.0"

// message is the inbound wire shape of any JSON-RPC 2.0 message. The id is
// kept raw because servers may use integer or string ids for their own
// requests, and replies must echo them unchanged.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type messageKind int

const (
	kindInvalid messageKind = iota
	kindResponse
	kindNotification
	kindRequest
)

var jsonNull = []byte("null")

func (m *message) hasID() bool {
	return len(m.ID) > 0 && !bytes.Equal(m.ID, jsonNull)
}

// kind classifies the message: id without method is a response, method
// without id a notification, both a server-to-client request.
func (m *message) kind() messageKind {
	switch {
	case m.hasID() && m.Method == "":
		return kindResponse
	case !m.hasID() && m.Method != "":
		return kindNotification
	case m.hasID() && m.Method != "":
		return kindRequest
	default:
		return kindInvalid
	}
}

// intID decodes the id as an integer. This client only issues integer ids,
// so anything else cannot match a pending request.
func (m *message) intID() (int64, bool) {
	var id int64
	if err := json.Unmarshal(m.ID, &id); err != nil {
		return 0, false
	}
	return id, true
}

type outgoingRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type outgoingNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type outgoingResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

func marshalRequest(id int64, method string, params any) ([]byte, error) {
	data, err := json.Marshal(outgoingRequest{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}
	return data, nil
}

func marshalNotification(method string, params any) ([]byte, error) {
	data, err := json.Marshal(outgoingNotification{JSONRPC: jsonrpcVersion, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal %s notification: %w", method, err)
	}
	return data, nil
}

func marshalErrorResponse(id json.RawMessage, rpcErr *RPCError) ([]byte, error) {
	data, err := json.Marshal(outgoingResponse{JSONRPC: jsonrpcVersion, ID: id, Error: rpcErr})
	if err != nil {
		return nil, fmt.Errorf("marshal error response: %w", err)
	}
	return data, nil
}
