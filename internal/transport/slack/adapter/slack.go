package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	rtsup "oncallbuzzer/internal/runtime/supervisor"
	kit "oncallbuzzer/internal/transport"
	logx "oncallbuzzer/pkg/logx"
)

type Config struct {
	BotToken string // xoxb-...
	AppToken string // xapp-... (Socket Mode)
	Debug    bool
	// DropReportInterval controls how often dropped events are summarized. Default 1m.
	DropReportInterval time.Duration
	// CommandTimeout bounds a slash command handler. Default 2.5s (Slack expects an ack within 3s).
	CommandTimeout time.Duration
}

// api is the subset of the Slack Web API the adapter uses.
type api interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// acker acknowledges Socket Mode envelopes.
type acker interface {
	Ack(req socketmode.Request, payload ...interface{})
}

type Adapter struct {
	cfg Config
	log logx.Logger

	api api
	sm  *socketmode.Client
	ack acker

	out     atomic.Value // stores (chan<- kit.Event)
	runMu   sync.Mutex
	running bool

	// sup owns adapter goroutines (socket loop, event loop, drop reporter).
	// It is created on Start() and cancelled on Stop().
	sup *rtsup.Supervisor

	// dropped counts events dropped because the pipeline was slower than Slack.
	dropped uint64

	cmdMu   sync.RWMutex
	onCmd   kit.CommandHandler
	botUser string
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errors.New("slack bot token is empty")
	}
	if !strings.HasPrefix(cfg.AppToken, "xapp-") {
		return nil, errors.New("slack app token must start with xapp-")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	client := slack.New(
		cfg.BotToken,
		slack.OptionDebug(cfg.Debug),
		slack.OptionAppLevelToken(cfg.AppToken),
	)
	sm := socketmode.New(client, socketmode.OptionDebug(cfg.Debug))
	a := newAdapter(cfg, log, client, sm)
	a.sm = sm
	return a, nil
}

func newAdapter(cfg Config, log logx.Logger, c api, ack acker) *Adapter {
	if cfg.DropReportInterval <= 0 {
		cfg.DropReportInterval = time.Minute
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 2500 * time.Millisecond
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, api: c, ack: ack}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Event
	a.out.Store(nilOut)
	return a
}

func (a *Adapter) SetCommandHandler(h kit.CommandHandler) {
	a.cmdMu.Lock()
	a.onCmd = h
	a.cmdMu.Unlock()
}

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		// adapter errors should not take down the whole app
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	if resp, err := a.api.AuthTestContext(ctx); err != nil {
		a.log.Warn("auth test failed", logx.Err(err))
	} else {
		a.botUser = resp.UserID
		a.log.Info("connected as bot", logx.String("user_id", resp.UserID), logx.String("team", resp.Team))
	}

	sup.Go0("events.drop_report", func(c context.Context) {
		ticker := time.NewTicker(a.cfg.DropReportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDrops(cap(out))
				return
			case <-ticker.C:
				a.reportDrops(cap(out))
			}
		}
	})

	if a.sm == nil {
		return nil
	}

	sup.Go0("socketmode.events", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case evt, ok := <-a.sm.Events:
				if !ok {
					return
				}
				a.handleEvent(c, evt)
			}
		}
	})

	// RunContext reconnects on its own but can still return on fatal errors;
	// keep it alive until the adapter is stopped.
	sup.GoRestart("socketmode.run", func(c context.Context) error {
		a.log.Info("socket mode started")
		err := a.sm.RunContext(c)
		a.log.Info("socket mode stopped")
		return err
	},
		rtsup.WithRestartBackoff(time.Second, 30*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDrops(chanCap int) {
	if n := atomic.SwapUint64(&a.dropped, 0); n > 0 {
		a.log.Warn("incoming events dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", chanCap))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Event
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_events_pending", atomic.LoadUint64(&a.dropped)))

	// Keep shutdown snappy even if the websocket is slow to close.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := sup.Stop(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("slack stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("slack stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		a.log.Debug("connecting to socket mode")

	case socketmode.EventTypeConnected:
		a.log.Info("connected to socket mode")

	case socketmode.EventTypeConnectionError:
		a.log.Warn("socket mode connection error", logx.Any("data", evt.Data))

	case socketmode.EventTypeEventsAPI:
		ev, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		a.ackRequest(evt.Request)
		if ev.Type != slackevents.CallbackEvent {
			return
		}
		if msg, ok := ev.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			a.sendEvent(messageToEvent(msg, time.Now()))
		}

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		text := a.runCommand(ctx, cmd)
		if text == "" {
			a.ackRequest(evt.Request)
			return
		}
		a.ackRequest(evt.Request, map[string]any{"text": text})
	}
}

func (a *Adapter) ackRequest(req *socketmode.Request, payload ...interface{}) {
	if req == nil || a.ack == nil {
		return
	}
	a.ack.Ack(*req, payload...)
}

func (a *Adapter) runCommand(ctx context.Context, sc slack.SlashCommand) string {
	a.cmdMu.RLock()
	h := a.onCmd
	a.cmdMu.RUnlock()
	if h == nil {
		return ""
	}
	cctx, cancel := context.WithTimeout(ctx, a.cfg.CommandTimeout)
	defer cancel()
	cmd := kit.Command{
		Name:      sc.Command,
		Text:      sc.Text,
		ChannelID: sc.ChannelID,
		UserID:    sc.UserID,
		UserName:  sc.UserName,
	}
	a.log.Debug("slash command", logx.String("command", cmd.Name), logx.String("user", cmd.UserID))
	return h(cctx, cmd)
}

// messageToEvent maps a Slack message event. The delivery id is client_msg_id,
// falling back to ts.
func messageToEvent(m *slackevents.MessageEvent, now time.Time) kit.Event {
	id := m.ClientMsgID
	if id == "" {
		id = m.TimeStamp
	}
	return kit.Event{
		ID:         id,
		Channel:    m.Channel,
		Text:       m.Text,
		User:       m.User,
		IsBot:      m.SubType == "bot_message" || m.BotID != "",
		Subtype:    m.SubType,
		ReceivedAt: now,
	}
}

func (a *Adapter) sendEvent(ev kit.Event) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Event)
	if out == nil {
		return
	}
	select {
	case out <- ev:
	default:
		atomic.AddUint64(&a.dropped, 1)
	}
}

// ListChannels returns one page of public and private channels visible to the bot.
func (a *Adapter) ListChannels(ctx context.Context, cursor string) (kit.ChannelPage, error) {
	chans, next, err := a.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
		Types:  []string{"public_channel", "private_channel"},
		Limit:  1000,
		Cursor: cursor,
	})
	if err != nil {
		return kit.ChannelPage{}, err
	}
	page := kit.ChannelPage{Channels: make([]kit.Channel, 0, len(chans)), NextCursor: next}
	for _, ch := range chans {
		if ch.ID == "" || ch.Name == "" {
			continue
		}
		page.Channels = append(page.Channels, kit.Channel{ID: ch.ID, Name: ch.Name})
	}
	return page, nil
}

func (a *Adapter) PostMessage(ctx context.Context, channel, text string) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("channel is empty")
	}
	_, _, err := a.api.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
	return err
}
