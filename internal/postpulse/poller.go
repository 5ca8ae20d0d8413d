package postpulse

import (
	"context"
	"fmt"
	"time"
)

// PollState is the state of a media import poll.
type PollState int

const (
	PollPending PollState = iota
	PollCompleted
	PollFailed
	PollTimedOut
)

func (s PollState) String() string {
	switch s {
	case PollPending:
		return "pending"
	case PollCompleted:
		return "completed"
	case PollFailed:
		return "failed"
	case PollTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("PollState(%d)", int(s))
	}
}

// Poller waits for a media import with a fixed delay before each attempt
// and a bounded number of attempts.
type Poller struct {
	Interval    time.Duration // DefaultPollInterval when zero
	MaxAttempts int           // DefaultPollMaxAttempts when zero

	// OnAttempt, when set, is called after every status fetch.
	OnAttempt func(attempt, maxAttempts int, status *ImportStatus)

	after func(time.Duration) <-chan time.Time
}

// importPoll is the poll state machine: Pending moves to Completed or
// Failed on a terminal import state, and to TimedOut when the attempts run
// out. Terminal states never change.
type importPoll struct {
	state       PollState
	attempt     int
	maxAttempts int
	last        *ImportStatus
}

func (p *importPoll) observe(status *ImportStatus) {
	if p.state != PollPending {
		return
	}
	p.attempt++
	p.last = status
	switch status.State {
	case ImportStateCompleted:
		p.state = PollCompleted
	case ImportStateFailed:
		p.state = PollFailed
	default:
		if p.attempt >= p.maxAttempts {
			p.state = PollTimedOut
		}
	}
}

// Wait polls fetch until the import reaches a terminal state or ctx is
// done. Fetch errors end the poll immediately.
func (p *Poller) Wait(ctx context.Context, fetch func(context.Context) (*ImportStatus, error)) (*ImportStatus, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultPollMaxAttempts
	}
	after := p.after
	if after == nil {
		after = time.After
	}

	poll := &importPoll{state: PollPending, maxAttempts: maxAttempts}
	for poll.state == PollPending {
		select {
		case <-ctx.Done():
			return poll.last, ctx.Err()
		case <-after(interval):
		}

		status, err := fetch(ctx)
		if err != nil {
			return poll.last, err
		}
		poll.observe(status)
		if p.OnAttempt != nil {
			p.OnAttempt(poll.attempt, maxAttempts, status)
		}
	}

	switch poll.state {
	case PollCompleted:
		return poll.last, nil
	case PollFailed:
		return poll.last, fmt.Errorf("%w: %s", ErrImportFailed, poll.last.Raw)
	default:
		return poll.last, ErrImportTimeout
	}
}
