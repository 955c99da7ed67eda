package domain

import "encoding/json"

// Command is one invocation of the engine's command surface. Args carries the
// command-specific parameters as a JSON object whose amounts are raw
// fixed-point integers.
type Command struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Envelope is a signed command submitted to the ledger command stream. The
// caller identity is the address recovered from Signature.
type Envelope struct {
	ID        string  `json:"id"`
	Command   Command `json:"command"`
	Nonce     uint64  `json:"nonce"`
	Signer    string  `json:"signer"`
	Signature string  `json:"signature"`
}

// Result is appended to the results stream for every processed envelope.
type Result struct {
	StreamID   string          `json:"streamId"` // command stream entry the result answers
	EnvelopeID string          `json:"envelopeId"`
	Caller     string          `json:"caller"`
	Command    string          `json:"command"`
	OK         bool            `json:"ok"`
	Value      json.RawMessage `json:"value,omitempty"`
	ErrorKind  ErrorKind       `json:"errorKind,omitempty"`
	ErrorCode  string          `json:"errorCode,omitempty"`
	Error      string          `json:"error,omitempty"`
	Height     uint64          `json:"height"`
}
