package lbot

import (
	"context"
	"time"

	"github.com/labrat-eu/lbot-go/internal/lbot/msg"
)

// clockTickInterval is how often a non-custom clock publishes its current
// time on /time.
const clockTickInterval = 10 * time.Millisecond

// ClockNode publishes the Manager's Clock onto the reserved /time topic.
// In system/steady mode it ticks on a fixed cadence, shaped like the
// teacher's ResourceGuard.StartMonitoring ticker-plus-context-done loop.
// In custom mode it instead republishes every time SetTime moves the
// clock, since nothing else would ever read an unchanging custom clock
// off a ticker usefully.
type ClockNode struct {
	NodeBase
	clock  *Clock
	mode   ClockMode
	sender *Sender[msg.Timestamp, msg.Timestamp]
	cancel context.CancelFunc
}

func NewClockNode(mode ClockMode) *ClockNode {
	return &ClockNode{NodeBase: NewNodeBase("clock"), mode: mode}
}

func (n *ClockNode) Unique() bool { return true }

func (n *ClockNode) Init(env *Environment) error {
	sender, err := NewSender[msg.Timestamp, msg.Timestamp](env.Topics, "/time", Identity[msg.Timestamp], nil)
	if err != nil {
		return err
	}
	n.sender = sender
	n.clock = env.Clock

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	if n.mode == ClockCustom {
		go n.watchCustom(ctx)
	} else {
		go n.tick(ctx)
	}
	return nil
}

func (n *ClockNode) tick(ctx context.Context) {
	ticker := time.NewTicker(clockTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.sender.Put(msg.Timestamp{Time: n.clock.Now()})
		case <-ctx.Done():
			return
		}
	}
}

// watchCustom republishes whenever SetTime advances the clock past the
// node's last-seen deadline, by repeatedly registering a zero-duration
// waiter one tick ahead of the current time.
func (n *ClockNode) watchCustom(ctx context.Context) {
	last := n.clock.Now()
	for {
		wake, cancel := n.clock.RegisterWaiter(last.Add(time.Nanosecond))
		select {
		case <-wake:
			last = n.clock.Now()
			n.sender.Put(msg.Timestamp{Time: last})
		case <-ctx.Done():
			cancel()
			return
		}
	}
}

func (n *ClockNode) Shutdown() {
	if n.cancel != nil {
		n.cancel()
	}
	if n.sender != nil {
		n.sender.Close()
	}
}
