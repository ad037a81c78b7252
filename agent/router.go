package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ksaito/noelbot/config"
	"github.com/ksaito/noelbot/gate"
	"github.com/ksaito/noelbot/history"
	"github.com/ksaito/noelbot/presence"
)

// ChannelStatus describes the current state of an active channel agent.
type ChannelStatus struct {
	ChannelID  string    `json:"channel_id"`
	LastActive time.Time `json:"last_active"`
	QueueDepth int       `json:"queue_depth"`
}

// Router manages per-channel ChannelAgents, spawning one per channel on
// demand and reaping it after its idle timeout.
type Router struct {
	mu     sync.Mutex
	agents map[string]*ChannelAgent // keyed by channelID
	ctx    context.Context
	wg     sync.WaitGroup

	cfg       *config.Config
	gate      *gate.Gate
	histories *history.Store
	tracker   *presence.Tracker
	gen       Generator
	ledger    Ledger
}

// NewRouter creates a Router owning the shared history store and
// participant tracker for all channels.
func NewRouter(ctx context.Context, cfg *config.Config, gen Generator, led Ledger) *Router {
	return &Router{
		agents:    make(map[string]*ChannelAgent),
		ctx:       ctx,
		cfg:       cfg,
		gate:      gate.New(cfg.Response.ReplyBias),
		histories: history.NewStore(time.Duration(cfg.Response.HistoryTimeoutMinutes) * time.Minute),
		tracker:   presence.NewTracker(),
		gen:       gen,
		ledger:    led,
	}
}

// Route delivers a message to the appropriate channel agent, spawning one
// if needed.
func (r *Router) Route(msg Inbound) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if agent, ok := r.agents[msg.ChannelID]; ok {
		select {
		case agent.msgCh <- msg:
			return
		default:
			// buffer full or agent gone, respawn
			slog.Warn("agent buffer full or gone, respawning", "channel_id", msg.ChannelID)
			delete(r.agents, msg.ChannelID)
		}
	}

	a := newChannelAgent(msg.ChannelID, r.cfg, r.gate, r.histories, r.tracker, r.gen, r.ledger)
	r.agents[msg.ChannelID] = a
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		a.run(r.ctx)
		r.mu.Lock()
		if r.agents[msg.ChannelID] == a {
			delete(r.agents, msg.ChannelID)
		}
		r.mu.Unlock()
	}()
	a.msgCh <- msg // guaranteed to succeed (buffer just created, size 100)
}

// Status returns a snapshot of all active channel agents.
func (r *Router) Status() []ChannelStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]ChannelStatus, 0, len(r.agents))
	for _, a := range r.agents {
		statuses = append(statuses, ChannelStatus{
			ChannelID:  a.channelID,
			LastActive: time.Unix(0, a.lastActive.Load()),
			QueueDepth: len(a.msgCh),
		})
	}
	return statuses
}

// WaitForDrain waits for all active agents to finish, up to 30 seconds.
func (r *Router) WaitForDrain() {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		slog.Warn("drain timeout: some agents did not finish within 30s")
	}
}
