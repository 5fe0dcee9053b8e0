package wa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deskbot/internal/repo"

	"log/slog"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	_ "modernc.org/sqlite"
)

const turnTimeout = 60 * time.Second

// Dispatcher processes one chat turn and returns the reply text.
type Dispatcher interface {
	HandleTurn(ctx context.Context, userEmail, text string) string
}

// UserDirectory maps a WhatsApp JID to a signed-up assistant user.
type UserDirectory interface {
	GetUserByJID(ctx context.Context, jid string) (*repo.User, error)
}

// Gateway bridges inbound WhatsApp messages to the dispatcher. The sender's
// JID must be linked to a user record; the user's email is what the
// dispatcher acts as.
type Gateway struct {
	client     *whatsmeow.Client
	users      UserDirectory
	dispatcher Dispatcher
	logger     *slog.Logger
}

// Config holds WhatsApp gateway configuration.
type Config struct {
	StorePath string
	LogLevel  string
}

// New opens the device store and constructs the gateway. Connect must be
// called separately.
func New(ctx context.Context, cfg Config, users UserDirectory, dispatcher Dispatcher, logger *slog.Logger) (*Gateway, error) {
	dbLog := waLog.Stdout("WADB", cfg.LogLevel, false)
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", cfg.StorePath), dbLog)
	if err != nil {
		return nil, fmt.Errorf("open whatsapp store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	clientLog := waLog.Stdout("WAClient", cfg.LogLevel, false)
	client := whatsmeow.NewClient(device, clientLog)

	g := &Gateway{
		client:     client,
		users:      users,
		dispatcher: dispatcher,
		logger:     logger.With("component", "wa"),
	}
	client.AddEventHandler(g.handleEvent)
	return g, nil
}

// Connect connects to WhatsApp, printing a QR code on first pairing.
func (g *Gateway) Connect(ctx context.Context) error {
	if g.client.Store.ID == nil {
		qrChan, err := g.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		if err := g.client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		for evt := range qrChan {
			switch evt.Event {
			case "code":
				g.logger.Info("scan QR code to pair", "code", evt.Code)
			case "success":
				g.logger.Info("whatsapp paired")
			default:
				g.logger.Info("qr event", "event", evt.Event)
			}
		}
		return nil
	}

	if err := g.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Disconnect closes the WhatsApp connection.
func (g *Gateway) Disconnect() {
	g.client.Disconnect()
}

// SendText sends a plain text message.
func (g *Gateway) SendText(ctx context.Context, to types.JID, text string) error {
	_, err := g.client.SendMessage(ctx, to, &waProto.Message{
		Conversation: proto.String(text),
	})
	return err
}

func (g *Gateway) handleEvent(evt any) {
	msg, ok := evt.(*events.Message)
	if !ok {
		return
	}
	if msg.Info.MessageSource.IsFromMe {
		return
	}

	text := extractText(msg)
	if text == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	sender := msg.Info.Sender
	user, err := g.users.GetUserByJID(ctx, sender.ToNonAD().String())
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			g.reply(ctx, sender, "This WhatsApp number isn't linked to an assistant account yet. Ask your administrator to link it.")
			return
		}
		g.logger.Error("user lookup failed", "error", err, "jid", sender.String())
		g.reply(ctx, sender, "Sorry, I can't process messages right now. Please try again later.")
		return
	}

	reply := g.dispatcher.HandleTurn(ctx, user.Email, text)
	g.reply(ctx, sender, reply)
}

func (g *Gateway) reply(ctx context.Context, to types.JID, text string) {
	if err := g.SendText(ctx, to, text); err != nil {
		g.logger.Error("send reply failed", "error", err, "jid", to.String())
	}
}

func extractText(evt *events.Message) string {
	msg := evt.Message
	switch {
	case msg.GetConversation() != "":
		return strings.TrimSpace(msg.GetConversation())
	case msg.ExtendedTextMessage != nil:
		return strings.TrimSpace(msg.GetExtendedTextMessage().GetText())
	default:
		return ""
	}
}
