package command

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// errorOutput is printed for a failed command.
type errorOutput struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind"`
	Code  string           `json:"code"`
}

// Write prints v as indented JSON followed by a newline.
func Write(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("command: write output: %w", err)
	}
	return nil
}

// WriteError prints err with its engine kind and code.
func WriteError(w io.Writer, err error) error {
	return Write(w, errorOutput{
		Error: err.Error(),
		Kind:  domain.KindOf(err),
		Code:  domain.CodeOf(err),
	})
}

// Result builds the results-stream record of one processed envelope.
func Result(env domain.Envelope, caller string, height uint64, v any, err error) domain.Result {
	res := domain.Result{
		EnvelopeID: env.ID,
		Caller:     caller,
		Command:    env.Command.Name,
		Height:     height,
	}
	if err != nil {
		res.ErrorKind = domain.KindOf(err)
		res.ErrorCode = domain.CodeOf(err)
		res.Error = err.Error()
		return res
	}
	data, mErr := json.Marshal(v)
	if mErr != nil {
		res.ErrorKind = domain.KindInternal
		res.ErrorCode = "encode_result"
		res.Error = mErr.Error()
		return res
	}
	res.OK = true
	res.Value = data
	return res
}
