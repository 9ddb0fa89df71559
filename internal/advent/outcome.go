package advent

import "time"

// Reason explains why a subscriber or a whole pass was skipped.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNoEntry          Reason = "no_entry"
	ReasonSendFailed       Reason = "send_failed"
	ReasonAlreadyDelivered Reason = "already_delivered"
	ReasonWindowInactive   Reason = "window_inactive"
	ReasonStoreError       Reason = "store_error"
	ReasonCanceled         Reason = "canceled"
)

// Outcome is the delivery result for one subscriber: Sent, or skipped with a
// Reason. Err carries the underlying failure, if any. A Sent outcome may
// still carry Err when recording the delivery failed after the send.
type Outcome struct {
	SubscriberID int64
	Sent         bool
	Reason       Reason
	Err          error
}

func sent(id int64) Outcome { return Outcome{SubscriberID: id, Sent: true} }

func skipped(id int64, r Reason, err error) Outcome {
	return Outcome{SubscriberID: id, Reason: r, Err: err}
}

// Kind distinguishes the scheduled pass from the admin-triggered one.
type Kind string

const (
	KindDaily  Kind = "daily"
	KindManual Kind = "manual"
)

// Report aggregates one broadcast pass. Skipped is set when the pass did not
// run at all (inactive window or missing entry); Outcomes is then empty.
type Report struct {
	RunID    string
	Kind     Kind
	Date     Date
	Started  time.Time
	Finished time.Time
	Skipped  Reason
	Outcomes []Outcome
}

func (r Report) Ran() bool { return r.Skipped == ReasonNone }

// Recipients is the number of subscribed users considered by the pass.
func (r Report) Recipients() int { return len(r.Outcomes) }

func (r Report) Sent() int { return r.count(func(o Outcome) bool { return o.Sent }) }

func (r Report) Failed() int {
	return r.count(func(o Outcome) bool { return !o.Sent && o.Reason != ReasonAlreadyDelivered })
}

func (r Report) AlreadyDelivered() int {
	return r.count(func(o Outcome) bool { return o.Reason == ReasonAlreadyDelivered })
}

func (r Report) count(pred func(Outcome) bool) int {
	n := 0
	for _, o := range r.Outcomes {
		if pred(o) {
			n++
		}
	}
	return n
}

// Summary is the event payload published after every pass.
type Summary struct {
	RunID            string `json:"run_id"`
	Kind             Kind   `json:"kind"`
	Date             string `json:"date"`
	Skipped          Reason `json:"skipped,omitempty"`
	Recipients       int    `json:"recipients"`
	Sent             int    `json:"sent"`
	Failed           int    `json:"failed"`
	AlreadyDelivered int    `json:"already_delivered"`
	DurationMS       int64  `json:"duration_ms"`
}

func (r Report) Summary() Summary {
	return Summary{
		RunID:            r.RunID,
		Kind:             r.Kind,
		Date:             r.Date.String(),
		Skipped:          r.Skipped,
		Recipients:       r.Recipients(),
		Sent:             r.Sent(),
		Failed:           r.Failed(),
		AlreadyDelivered: r.AlreadyDelivered(),
		DurationMS:       r.Finished.Sub(r.Started).Milliseconds(),
	}
}
