package stage

// Outcome is the explicit sum type Design Note "Exception-as-control-flow
// in stages" calls for, replacing the container runner's raise-to-signal
// idiom. A worker translates a Fatal outcome into the broker's FAILURE
// state and a Success outcome into SUCCESS.
type Outcome struct {
	ok     bool
	log    string
	reason string
}

func Success(log string) Outcome {
	return Outcome{ok: true, log: log}
}

func Fatal(log, reason string) Outcome {
	return Outcome{ok: false, log: log, reason: reason}
}

func (o Outcome) OK() bool      { return o.ok }
func (o Outcome) Log() string   { return o.log }
func (o Outcome) Reason() string {
	if o.ok {
		return ""
	}
	return o.reason
}
