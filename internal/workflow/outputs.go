package workflow

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Outputs is the append-only store through which steps pass data. Entries
// are keyed by step name and written exactly once, when the step
// completes (or is rehydrated from a completed record on resume).
// Reading a name that has not produced output is a caller ordering bug,
// not a runtime condition to swallow.
type Outputs struct {
	values map[string]json.RawMessage
}

// NewOutputs creates an empty output store.
func NewOutputs() *Outputs {
	return &Outputs{values: make(map[string]json.RawMessage)}
}

// Set records a step's output. Overwriting an existing entry is rejected:
// a completed step's output is immutable for the rest of the run.
func (o *Outputs) Set(step string, raw json.RawMessage) error {
	if _, exists := o.values[step]; exists {
		return eris.Errorf("workflow: output for step %q already recorded", step)
	}
	o.values[step] = raw
	return nil
}

// Raw returns a step's raw output.
func (o *Outputs) Raw(step string) (json.RawMessage, error) {
	raw, ok := o.values[step]
	if !ok {
		return nil, eris.Errorf("workflow: step %q has not produced output", step)
	}
	return raw, nil
}

// Output decodes the named step's output into T.
func Output[T any](o *Outputs, step string) (T, error) {
	var out T
	raw, err := o.Raw(step)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, eris.Wrapf(err, "workflow: decode output of step %q", step)
	}
	return out, nil
}
