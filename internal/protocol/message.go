package protocol

import "fmt"

// Params carries operation, response and event parameters keyed by parameter code.
type Params map[byte]interface{}

// Hashtable is a property set. Well-known keys are bytes, custom keys are strings.
type Hashtable map[interface{}]interface{}

// OperationResponse is the server's answer to an operation request.
type OperationResponse struct {
	OperationCode byte
	ReturnCode    ErrorCode
	DebugMessage  string
	Parameters    Params
}

// Get returns a parameter value or nil.
func (r *OperationResponse) Get(code byte) interface{} {
	if r.Parameters == nil {
		return nil
	}
	return r.Parameters[code]
}

// Has reports whether the response carries the parameter.
func (r *OperationResponse) Has(code byte) bool {
	if r.Parameters == nil {
		return false
	}
	_, ok := r.Parameters[code]
	return ok
}

func (r *OperationResponse) String() string {
	return fmt.Sprintf("OperationResponse %s(%d): ReturnCode: %d %s",
		OpName(r.OperationCode), r.OperationCode, r.ReturnCode, r.DebugMessage)
}

// EventData is a server-pushed event.
type EventData struct {
	Code       byte
	Parameters Params
}

// Get returns a parameter value or nil.
func (e *EventData) Get(code byte) interface{} {
	if e.Parameters == nil {
		return nil
	}
	return e.Parameters[code]
}

// Sender returns the actor number of the event's origin, or -1 when the
// server itself raised it.
func (e *EventData) Sender() int {
	if v, ok := AsInt(e.Get(ParamActorNr)); ok {
		return v
	}
	return -1
}

// CustomData returns the payload of a user event.
func (e *EventData) CustomData() interface{} {
	return e.Get(ParamData)
}

// Merge copies all entries of other into h.
func (h Hashtable) Merge(other Hashtable) {
	for k, v := range other {
		h[k] = v
	}
}

// MergeStringKeys copies only the custom (string keyed) entries of other
// into h. A nil value removes the key.
func (h Hashtable) MergeStringKeys(other Hashtable) {
	for k, v := range other {
		if _, ok := k.(string); !ok {
			continue
		}
		if v == nil {
			delete(h, k)
			continue
		}
		h[k] = v
	}
}

// StripToStringKeys returns a copy of h holding only custom properties.
func (h Hashtable) StripToStringKeys() Hashtable {
	out := make(Hashtable, len(h))
	for k, v := range h {
		if _, ok := k.(string); ok {
			out[k] = v
		}
	}
	return out
}
