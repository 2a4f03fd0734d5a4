package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	kit "oncallbuzzer/internal/transport"
	logx "oncallbuzzer/pkg/logx"
)

type fakeAPI struct {
	pages   map[string][]slack.Channel
	next    map[string]string
	listErr error
	posted  []string
}

func (f *fakeAPI) AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error) {
	return &slack.AuthTestResponse{UserID: "UBOT", Team: "acme"}, nil
}

func (f *fakeAPI) GetConversationsContext(ctx context.Context, p *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	if f.listErr != nil {
		return nil, "", f.listErr
	}
	return f.pages[p.Cursor], f.next[p.Cursor], nil
}

func (f *fakeAPI) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.posted = append(f.posted, channelID)
	return channelID, "1.0", nil
}

type fakeAcker struct {
	acks     []string
	payloads []interface{}
}

func (f *fakeAcker) Ack(req socketmode.Request, payload ...interface{}) {
	f.acks = append(f.acks, req.EnvelopeID)
	f.payloads = append(f.payloads, payload...)
}

func channel(id, name string) slack.Channel {
	var ch slack.Channel
	ch.ID = id
	ch.Name = name
	return ch
}

func TestMessageToEvent(t *testing.T) {
	now := time.Unix(100, 0)
	tests := []struct {
		name   string
		in     slackevents.MessageEvent
		wantID string
		isBot  bool
	}{
		{"client msg id wins", slackevents.MessageEvent{ClientMsgID: "abc", TimeStamp: "1.1"}, "abc", false},
		{"falls back to ts", slackevents.MessageEvent{TimeStamp: "1.2"}, "1.2", false},
		{"bot subtype", slackevents.MessageEvent{TimeStamp: "1.3", SubType: "bot_message"}, "1.3", true},
		{"bot id", slackevents.MessageEvent{TimeStamp: "1.4", BotID: "B1"}, "1.4", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			in.Channel = "C1"
			in.Text = "urgent"
			ev := messageToEvent(&in, now)
			if ev.ID != tt.wantID || ev.IsBot != tt.isBot || ev.Channel != "C1" || ev.Text != "urgent" || !ev.ReceivedAt.Equal(now) {
				t.Fatalf("event = %+v", ev)
			}
		})
	}
}

func TestHandleEventForwardsMessagesAndAcks(t *testing.T) {
	ack := &fakeAcker{}
	a := newAdapter(Config{}, logx.Nop(), &fakeAPI{}, ack)
	out := make(chan kit.Event, 1)
	a.out.Store((chan<- kit.Event)(out))

	evt := socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Type: "message",
				Data: &slackevents.MessageEvent{Channel: "C1", Text: "help me", ClientMsgID: "m1"},
			},
		},
		Request: &socketmode.Request{EnvelopeID: "env-1"},
	}
	a.handleEvent(context.Background(), evt)
	// Second delivery overflows the buffer and is counted, not blocked on.
	evt.Request = &socketmode.Request{EnvelopeID: "env-2"}
	a.handleEvent(context.Background(), evt)

	if len(ack.acks) != 2 {
		t.Fatalf("acks = %v", ack.acks)
	}
	got := <-out
	if got.ID != "m1" || got.Channel != "C1" {
		t.Fatalf("forwarded = %+v", got)
	}
	if a.dropped != 1 {
		t.Fatalf("dropped = %d, want 1", a.dropped)
	}
}

func TestSlashCommandAnsweredThroughAck(t *testing.T) {
	ack := &fakeAcker{}
	a := newAdapter(Config{}, logx.Nop(), &fakeAPI{}, ack)
	a.SetCommandHandler(func(ctx context.Context, cmd kit.Command) string {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected command context deadline")
		}
		return "reply to " + cmd.Name
	})

	a.handleEvent(context.Background(), socketmode.Event{
		Type:    socketmode.EventTypeSlashCommand,
		Data:    slack.SlashCommand{Command: "/buzzer-stats", UserID: "U1"},
		Request: &socketmode.Request{EnvelopeID: "env-3"},
	})

	if len(ack.acks) != 1 || len(ack.payloads) != 1 {
		t.Fatalf("acks = %v payloads = %v", ack.acks, ack.payloads)
	}
	body, ok := ack.payloads[0].(map[string]any)
	if !ok || body["text"] != "reply to /buzzer-stats" {
		t.Fatalf("payload = %#v", ack.payloads[0])
	}
}

func TestListChannelsPages(t *testing.T) {
	api := &fakeAPI{
		pages: map[string][]slack.Channel{
			"":   {channel("C1", "incidents"), channel("", "broken")},
			"p2": {channel("C2", "random")},
		},
		next: map[string]string{"": "p2"},
	}
	a := newAdapter(Config{}, logx.Nop(), api, nil)

	p1, err := a.ListChannels(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(p1.Channels) != 1 || p1.Channels[0].Name != "incidents" || p1.NextCursor != "p2" {
		t.Fatalf("page 1 = %+v", p1)
	}
	p2, err := a.ListChannels(context.Background(), "p2")
	if err != nil {
		t.Fatal(err)
	}
	if len(p2.Channels) != 1 || p2.NextCursor != "" {
		t.Fatalf("page 2 = %+v", p2)
	}

	api.listErr = errors.New("ratelimited")
	if _, err := a.ListChannels(context.Background(), ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestPostMessage(t *testing.T) {
	api := &fakeAPI{}
	a := newAdapter(Config{}, logx.Nop(), api, nil)
	if err := a.PostMessage(context.Background(), "", "x"); err == nil {
		t.Fatal("expected error for empty channel")
	}
	if err := a.PostMessage(context.Background(), "C9", "hello"); err != nil {
		t.Fatal(err)
	}
	if len(api.posted) != 1 || api.posted[0] != "C9" {
		t.Fatalf("posted = %v", api.posted)
	}
}

func TestNewValidatesTokens(t *testing.T) {
	if _, err := New(Config{AppToken: "xapp-1"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing bot token")
	}
	if _, err := New(Config{BotToken: "xoxb-1", AppToken: "xoxb-2"}, logx.Nop()); err == nil {
		t.Fatal("expected error for bad app token")
	}
}
