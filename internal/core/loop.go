package core

import (
	"EscrowLedger/internal/event"
	"context"
)

// Command is a parsed event waiting for the core. Reply, if set, must have
// room for one Result.
type Command struct {
	Event event.Event
	Reply chan<- Result
}

// SnapshotPolicy makes Run emit a snapshot every Interval applied events.
type SnapshotPolicy struct {
	Interval int64
	Out      chan<- *SnapshotState
}

// Run is the core goroutine. It serializes every command submitted by the
// NATS and gRPC front ends. It returns when ctx is done or commands closes.
// Commands already queued when ctx is done are still applied: the NATS
// pump acks a message once it is queued.
func (c *EscrowCore) Run(ctx context.Context, commands <-chan Command, snapshots SnapshotPolicy) error {
	lastSnapshot := c.sequence

	for {
		select {
		case <-ctx.Done():
			c.drainQueued(commands, snapshots, &lastSnapshot)
			return ctx.Err()

		case cmd, ok := <-commands:
			if !ok {
				return nil
			}
			c.execute(cmd, snapshots, &lastSnapshot)
		}
	}
}

func (c *EscrowCore) drainQueued(commands <-chan Command, snapshots SnapshotPolicy, lastSnapshot *int64) {
	for {
		select {
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			c.execute(cmd, snapshots, lastSnapshot)
		default:
			return
		}
	}
}

func (c *EscrowCore) execute(cmd Command, snapshots SnapshotPolicy, lastSnapshot *int64) {
	res := c.ProcessEvent(cmd.Event)
	if cmd.Reply != nil {
		cmd.Reply <- res
	}

	if snapshots.Out != nil && snapshots.Interval > 0 && c.sequence-*lastSnapshot >= snapshots.Interval {
		select {
		case snapshots.Out <- c.CreateSnapshotState():
			*lastSnapshot = c.sequence
		default:
			// writer busy; retry after the next command
		}
	}
}
