// Package agent manages per-channel conversation goroutines and the
// message-handling pipeline: participant tracking, transcript management,
// reply gating, generation, and dispatch.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ksaito/noelbot/commands"
	"github.com/ksaito/noelbot/config"
	"github.com/ksaito/noelbot/gate"
	"github.com/ksaito/noelbot/history"
	"github.com/ksaito/noelbot/ledger"
	"github.com/ksaito/noelbot/presence"
)

const discordMessageLimit = 2000

// In-persona failure lines. Raw errors never reach the chat surface.
const (
	apologyLedger = "I'm sorry, I can't seem to find the guild ledger right now... give me a moment and try again, okay?"
	apologyBusy   = "Ah, sorry... I was lost in thought!"
)

// Inbound is one chat message as seen by the pipeline. Reply is scoped to
// the originating message.
type Inbound struct {
	ChannelID     string
	SpeakerID     string
	SpeakerName   string
	Text          string
	MentionsAgent bool
	Reply         func(text string) error
}

// Generator produces a reply from a transcript and a system prompt.
type Generator interface {
	GenerateWithRetry(ctx context.Context, systemPrompt string, turns []history.Turn) (string, error)
}

// Ledger is the persona/knowledge source plus the market tables.
type Ledger interface {
	PersonaText(ctx context.Context) (string, error)
	KnowledgeSeed(ctx context.Context) ([]history.Turn, error)
	ItemPrice(ctx context.Context, item, city string) (ledger.Quote, error)
	LogAction(ctx context.Context, userID, userName, action, response string) error
}

// ChannelAgent is a per-channel conversation goroutine. Messages for one
// channel are handled strictly in receipt order, which keeps transcript
// appends serialized without any further locking at the pipeline level.
type ChannelAgent struct {
	channelID string

	cfg       *config.Config
	gate      *gate.Gate
	histories *history.Store
	tracker   *presence.Tracker
	gen       Generator
	ledger    Ledger
	logger    *slog.Logger

	lastActive atomic.Int64 // UnixNano; written by agent goroutine, read by Status()
	msgCh      chan Inbound // buffered 100

	now func() time.Time // injectable clock for tests
}

func newChannelAgent(channelID string, cfg *config.Config, g *gate.Gate, histories *history.Store, tracker *presence.Tracker, gen Generator, led Ledger) *ChannelAgent {
	return &ChannelAgent{
		channelID: channelID,
		cfg:       cfg,
		gate:      g,
		histories: histories,
		tracker:   tracker,
		gen:       gen,
		ledger:    led,
		logger:    slog.With("channel_id", channelID),
		msgCh:     make(chan Inbound, 100),
		now:       time.Now,
	}
}

func (a *ChannelAgent) run(ctx context.Context) {
	idleTimeout := time.Duration(a.cfg.Response.IdleTimeoutMinutes) * time.Minute
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	for {
		select {
		case msg := <-a.msgCh:
			a.handle(ctx, msg)
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(idleTimeout)

		case <-idleTimer.C:
			a.logger.Info("channel agent idle timeout")
			return

		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			n := len(a.msgCh)
			for i := 0; i < n; i++ {
				a.handle(drainCtx, <-a.msgCh)
			}
			return
		}
	}
}

// handle runs the full pipeline for one message. Every failure path ends in
// either silence or an in-persona apology; nothing here is fatal.
func (a *ChannelAgent) handle(ctx context.Context, msg Inbound) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic in message handler", "panic", r)
			a.send(msg, apologyBusy)
		}
	}()

	a.lastActive.Store(a.now().UnixNano())

	if strings.HasPrefix(msg.Text, "!") && a.handleCommand(ctx, msg) {
		return
	}

	now := a.now()
	personaName := a.cfg.Bot.PersonaName
	window := time.Duration(a.cfg.Response.ParticipantWindowMinutes) * time.Minute

	a.tracker.Touch(msg.ChannelID, msg.SpeakerID, now)
	active := a.tracker.ActiveCount(msg.ChannelID, now, window)

	personaText, err := a.ledger.PersonaText(ctx)
	if err != nil {
		a.logger.Error("load persona text", "error", err)
		a.send(msg, apologyLedger)
		return
	}
	seed, err := a.ledger.KnowledgeSeed(ctx)
	if err != nil {
		a.logger.Error("load knowledge seed", "error", err)
		a.send(msg, apologyLedger)
		return
	}
	if len(seed) == 0 {
		seed = defaultSeed(personaName)
	}

	tr := a.histories.GetOrCreate(msg.ChannelID, seed, now)
	isNew := !tr.Participants(personaName)[msg.SpeakerName]

	a.histories.Append(msg.ChannelID, history.Turn{
		Role:    history.RoleUser,
		Speaker: msg.SpeakerName,
		Text:    msg.Text,
	}, now)

	addressed := gate.IsAddressed(msg.Text, msg.MentionsAgent, personaName, a.cfg.Bot.Aliases)
	decision := a.gate.Decide(gate.Context{
		NewParticipant:  isNew,
		Addressed:       addressed,
		TranscriptParty: len(tr.Participants(personaName)),
		ActiveCount:     active,
	})

	if decision.Welcome {
		a.logger.Info("new participant, greeting", "speaker", msg.SpeakerName)
		welcome := welcomeLine(personaName, msg.SpeakerName)
		a.send(msg, welcome)
		a.histories.Append(msg.ChannelID, history.Turn{
			Role:    history.RoleAgent,
			Speaker: personaName,
			Text:    welcome,
		}, a.now())
		return
	}

	if !a.gate.Allow(decision) {
		a.logger.Debug("gated out", "decision", decision.Kind.String(), "probability", decision.Probability)
		return
	}

	systemPrompt := buildSystemPrompt(personaText, personaName, decision, addressed)
	raw, err := a.gen.GenerateWithRetry(ctx, systemPrompt, tr.Turns())
	if err != nil {
		a.logger.Error("generation failed", "error", err)
		a.send(msg, apologyBusy)
		return
	}

	if gate.IsDecline(raw) {
		a.logger.Debug("model declined to respond")
		return
	}

	final := CleanReply(raw, personaName)
	if final == "" {
		a.logger.Debug("empty reply after cleaning")
		return
	}

	a.send(msg, final)
	a.histories.Append(msg.ChannelID, history.Turn{
		Role:    history.RoleAgent,
		Speaker: personaName,
		Text:    final,
	}, a.now())
}

// handleCommand processes the deterministic bang commands. Returns false
// when the text is not a recognized command, in which case it flows on to
// the conversational pipeline.
func (a *ChannelAgent) handleCommand(ctx context.Context, msg Inbound) bool {
	text := strings.TrimSpace(msg.Text)

	switch text {
	case "!ver":
		a.send(msg, commands.VersionReply(a.cfg.Bot.Version))
		return true
	case "!ping":
		a.send(msg, commands.PingReply)
		return true
	}

	if roll, ok := commands.ParseDice(text); ok {
		var response string
		if roll.OverLimit() {
			response = commands.OverLimitMessage
		} else {
			response = commands.FormatRoll(roll, roll.Roll())
		}
		a.send(msg, response)
		if err := a.ledger.LogAction(ctx, msg.SpeakerID, msg.SpeakerName, text, response); err != nil {
			a.logger.Warn("log action", "error", err)
		}
		return true
	}

	if q, ok := commands.ParsePrice(text); ok {
		response := a.priceReply(ctx, q)
		a.send(msg, response)
		if err := a.ledger.LogAction(ctx, msg.SpeakerID, msg.SpeakerName, text, response); err != nil {
			a.logger.Warn("log action", "error", err)
		}
		return true
	}

	return false
}

// priceReply answers a market query from the ledger, staying in persona for
// every failure shape.
func (a *ChannelAgent) priceReply(ctx context.Context, q commands.PriceQuery) string {
	quote, err := a.ledger.ItemPrice(ctx, q.Item, q.City)
	switch {
	case errors.Is(err, ledger.ErrUnknownItem):
		return fmt.Sprintf("I'm sorry, I can't find %q in the ledger. Are you sure that's what it's called?", q.Item)
	case errors.Is(err, ledger.ErrNoMarketRate):
		return fmt.Sprintf("Hmm, the guild hasn't received market reports for %q in %s yet. Sorry!", q.Item, q.City)
	case err != nil:
		a.logger.Error("price lookup", "error", err)
		return apologyLedger
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%q in %s, let me check!\n", q.Item, q.City)
	fmt.Fprintf(&sb, "> **Base value**: %g G\n", quote.BaseValue)
	fmt.Fprintf(&sb, "> **Market rate**: x%g (demand: %s)\n", quote.Rate, quote.Demand)
	fmt.Fprintf(&sb, "> **Computed price**: **%d G**\n\n", quote.Price)
	sb.WriteString("Shipping and handling will shift the real trade price a little, so keep that in mind!")
	return sb.String()
}

// send replies with text, chunked under Discord's message length cap.
func (a *ChannelAgent) send(msg Inbound, text string) {
	for _, part := range splitMessage(text, discordMessageLimit) {
		if err := msg.Reply(part); err != nil {
			a.logger.Error("send reply", "error", err)
		}
	}
}
