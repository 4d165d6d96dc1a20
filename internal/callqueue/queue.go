package callqueue

import (
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
)

// Queue is the FIFO of ringing incoming calls
type Queue struct {
	Waiting  []*types.IncomingCall
	Accepted int
	Rejected int
	Missed   int
	SL       *SLTracker
}

// NewQueue creates an empty incoming call queue
func NewQueue(slTarget, slSeconds int) *Queue {
	return &Queue{
		Waiting: make([]*types.IncomingCall, 0),
		SL:      NewSLTracker(slTarget, slSeconds),
	}
}

// Enqueue appends a call unless one with the same id is already waiting
func (q *Queue) Enqueue(call *types.IncomingCall) bool {
	if q.find(call.ID) >= 0 {
		return false
	}
	q.Waiting = append(q.Waiting, call)
	return true
}

// Take removes and returns a waiting call by id
func (q *Queue) Take(callID string) *types.IncomingCall {
	i := q.find(callID)
	if i < 0 {
		return nil
	}
	call := q.Waiting[i]
	q.Waiting = append(q.Waiting[:i], q.Waiting[i+1:]...)
	return call
}

// Expire removes calls that have been ringing longer than maxRing
func (q *Queue) Expire(now time.Time, maxRing time.Duration) []*types.IncomingCall {
	var expired []*types.IncomingCall
	kept := q.Waiting[:0]
	for _, call := range q.Waiting {
		if now.Sub(call.ReceivedAt) > maxRing {
			expired = append(expired, call)
			continue
		}
		kept = append(kept, call)
	}
	q.Waiting = kept
	q.Missed += len(expired)
	return expired
}

// LongestWaitSecs returns the ring time of the oldest waiting call
func (q *Queue) LongestWaitSecs() float64 {
	if len(q.Waiting) == 0 {
		return 0
	}
	return time.Since(q.Waiting[0].ReceivedAt).Seconds()
}

// Wipe clears all waiting calls, returning how many were cleared
func (q *Queue) Wipe() int {
	count := len(q.Waiting)
	q.Waiting = make([]*types.IncomingCall, 0)
	return count
}

// Stats returns a snapshot of the queue counters
func (q *Queue) Stats() Stats {
	return Stats{
		WaitingCount:    len(q.Waiting),
		AcceptedCount:   q.Accepted,
		RejectedCount:   q.Rejected,
		MissedCount:     q.Missed,
		LongestWaitSecs: q.LongestWaitSecs(),
		ServiceLevel:    q.SL.Snapshot(),
	}
}

func (q *Queue) find(callID string) int {
	for i, call := range q.Waiting {
		if call.ID == callID {
			return i
		}
	}
	return -1
}

// Stats summarizes incoming call handling
type Stats struct {
	WaitingCount    int          `json:"waitingCount"`
	AcceptedCount   int          `json:"acceptedCount"`
	RejectedCount   int          `json:"rejectedCount"`
	MissedCount     int          `json:"missedCount"`
	LongestWaitSecs float64      `json:"longestWaitSecs"`
	ServiceLevel    ServiceLevel `json:"serviceLevel"`
}
