package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"nexuswatch/internal/events"
	"nexuswatch/internal/incidents"
)

// ChatSink turns workflow events into chat system messages.
type ChatSink struct {
	chat   ChatPublisher
	quorum int
	now    func() time.Time
}

func NewChatSink(chat ChatPublisher, quorum int) *ChatSink {
	return &ChatSink{
		chat:   chat,
		quorum: quorum,
		now:    time.Now,
	}
}

func (s *ChatSink) HandleEvent(ctx context.Context, ev events.Event) error {
	var msg ChatMessage
	switch e := ev.(type) {
	case events.IncidentReported:
		msg = systemMessage(
			fmt.Sprintf("⚠️ Community Watch Alert! Incident #%s is reported. Watchers needed!", e.ID),
			ColorAlert, s.now())
	case events.IncidentPartiallyVerified:
		msg = systemMessage(
			fmt.Sprintf("Watcher %s... verified Incident #%s. \nTotal watchers: %d", shortAccount(e.WatcherID), e.ID, e.Count),
			ColorProgress, s.now())
	case events.IncidentVerified:
		msg = systemMessage(
			fmt.Sprintf("✅ Incident #%s is now VERIFIED by %d watchers!", e.ID, s.quorum),
			ColorVerified, s.now())
	default:
		return nil
	}
	return s.chat.Publish(ctx, msg)
}

func shortAccount(account string) string {
	if len(account) <= 6 {
		return account
	}
	return account[:6]
}

// IncidentGetter loads an incident by id.
type IncidentGetter interface {
	Get(ctx context.Context, id string) (*incidents.Incident, error)
}

// AnnounceSink posts an external announcement when an incident is verified.
type AnnounceSink struct {
	incidents  IncidentGetter
	summarizer Summarizer
	announcer  Announcer
	log        zerolog.Logger
}

func NewAnnounceSink(getter IncidentGetter, summarizer Summarizer, announcer Announcer, log zerolog.Logger) *AnnounceSink {
	return &AnnounceSink{
		incidents:  getter,
		summarizer: summarizer,
		announcer:  announcer,
		log:        log.With().Str("component", "announce_sink").Logger(),
	}
}

func (s *AnnounceSink) HandleEvent(ctx context.Context, ev events.Event) error {
	e, ok := ev.(events.IncidentVerified)
	if !ok {
		return nil
	}
	inc, err := s.incidents.Get(ctx, e.ID)
	if err != nil {
		return fmt.Errorf("load incident %s: %w", e.ID, err)
	}
	if inc.Status != incidents.StatusVerified {
		return errors.New("incident " + e.ID + " is not verified")
	}
	text, err := s.summarizer.Summarize(ctx, inc)
	if err != nil {
		return fmt.Errorf("summarize incident %s: %w", e.ID, err)
	}
	if err := s.announcer.Announce(ctx, text); err != nil {
		return fmt.Errorf("announce incident %s: %w", e.ID, err)
	}
	s.log.Info().Str("incident_id", e.ID).Bool("replay", e.Replay).Msg("verified incident announced")
	return nil
}
