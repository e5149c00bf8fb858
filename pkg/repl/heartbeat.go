package repl

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/replsetd/replsetd/pkg/rlog"
	"github.com/replsetd/replsetd/pkg/rmetrics"
)

// HeartbeatTransport sends a heartbeat RPC to a remote member and reports
// its result. Implementations live in pkg/rpc; the scheduler is transport
// agnostic.
type HeartbeatTransport interface {
	SendHeartbeat(ctx context.Context, hostAndPort string, req HeartbeatProbe) (HeartbeatProbeResult, error)
}

// HeartbeatProbe is the outbound request carried to a remote member.
type HeartbeatProbe struct {
	SenderHost      string
	SetName         string
	SenderConfigVer int64
}

// HeartbeatProbeResult is the remote member's reply.
type HeartbeatProbeResult struct {
	MemberState   MemberState
	ConfigVersion int64
	AppliedOpTime OpTime
}

// HeartbeatInterval is the period between heartbeats to a healthy member.
const HeartbeatInterval = 2 * time.Second

// HeartbeatTimeout bounds a single heartbeat RPC.
const HeartbeatTimeout = 10 * time.Second

// onResult is invoked with the outcome of every heartbeat attempt, success
// or failure, so the caller can fold it into topology state.
type onResult func(memberID int, hostAndPort string, result HeartbeatProbeResult, err error)

// HeartbeatScheduler runs one periodic outbound heartbeat per remote member,
// rescheduling itself after every response (success or failure) rather than
// running on a fixed global tick, so a slow member never blocks probes to
// the rest of the set.
type HeartbeatScheduler struct {
	transport HeartbeatTransport
	onResult  onResult
	logger    zerolog.Logger

	mu      sync.Mutex
	members map[int]*memberLoop
	adHoc   map[string]*memberLoop
	stopped bool
}

type memberLoop struct {
	memberID    int
	hostAndPort string
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewHeartbeatScheduler builds a scheduler with no members. Call Reconcile
// after every configuration change to start/stop per-member loops.
func NewHeartbeatScheduler(transport HeartbeatTransport, onRes onResult) *HeartbeatScheduler {
	return &HeartbeatScheduler{
		transport: transport,
		onResult:  onRes,
		logger:    rlog.WithComponent("heartbeat"),
		members:   make(map[int]*memberLoop),
		adHoc:     make(map[string]*memberLoop),
	}
}

// ProbeAdHoc starts a one-off heartbeat loop to hostAndPort outside of any
// configured membership, for the bootstrap "rescue" path in
// Coordinator.ProcessHeartbeat where the local node isn't yet part of the
// sender's config. The loop is tracked the same way a configured member's
// loop is, so Stop tears it down instead of leaking, and Reconcile retires
// it once a real config covering hostAndPort takes over.
func (h *HeartbeatScheduler) ProbeAdHoc(memberID int, hostAndPort, setName string, configVer int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	if _, ok := h.adHoc[hostAndPort]; ok {
		return
	}
	loop := &memberLoop{
		memberID:    memberID,
		hostAndPort: hostAndPort,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	h.adHoc[hostAndPort] = loop
	go h.run(loop, setName, configVer)
}

// Reconcile starts a loop for every member in cfg other than self and stops
// loops for members no longer present, matching the reconfig driver task's
// "(re)start heartbeats to all peers" step.
func (h *HeartbeatScheduler) Reconcile(cfg Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}

	wanted := make(map[int]string)
	for _, m := range cfg.Members {
		if cfg.HasSelf() && m.ID == cfg.Self().ID {
			continue
		}
		wanted[m.ID] = m.Host
	}

	for id, loop := range h.members {
		if _, ok := wanted[id]; !ok {
			close(loop.stopCh)
			delete(h.members, id)
		}
	}

	for id, host := range wanted {
		if adHoc, ok := h.adHoc[host]; ok {
			close(adHoc.stopCh)
			delete(h.adHoc, host)
		}
		if existing, ok := h.members[id]; ok && existing.hostAndPort == host {
			continue
		}
		if existing, ok := h.members[id]; ok {
			close(existing.stopCh)
		}
		loop := &memberLoop{
			memberID:    id,
			hostAndPort: host,
			stopCh:      make(chan struct{}),
			doneCh:      make(chan struct{}),
		}
		h.members[id] = loop
		go h.run(loop, cfg.SetName, cfg.Version)
	}
}

func (h *HeartbeatScheduler) run(loop *memberLoop, setName string, configVer int64) {
	defer close(loop.doneCh)
	log := rlog.WithMember(loop.hostAndPort)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-loop.stopCh:
			return
		case <-timer.C:
		}

		start := rmetrics.NewTimer()
		ctx, cancel := context.WithTimeout(context.Background(), HeartbeatTimeout)
		res, err := h.transport.SendHeartbeat(ctx, loop.hostAndPort, HeartbeatProbe{
			SetName:         setName,
			SenderConfigVer: configVer,
		})
		cancel()
		start.ObserveDurationVec(rmetrics.HeartbeatRoundTrip, loop.hostAndPort)
		if err != nil {
			rmetrics.HeartbeatFailures.WithLabelValues(loop.hostAndPort).Inc()
			log.Warn().Err(err).Msg("heartbeat failed")
		}
		h.onResult(loop.memberID, loop.hostAndPort, res, err)

		timer.Reset(HeartbeatInterval)
	}
}

// Stop halts every member loop and waits for them to exit.
func (h *HeartbeatScheduler) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	loops := make([]*memberLoop, 0, len(h.members)+len(h.adHoc))
	for _, l := range h.members {
		close(l.stopCh)
		loops = append(loops, l)
	}
	for _, l := range h.adHoc {
		close(l.stopCh)
		loops = append(loops, l)
	}
	h.members = make(map[int]*memberLoop)
	h.adHoc = make(map[string]*memberLoop)
	h.mu.Unlock()

	for _, l := range loops {
		<-l.doneCh
	}
}
