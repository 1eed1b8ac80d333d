package notifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	tele "gopkg.in/telebot.v4"
)

// ConsoleSink prints a colored line per notification.
type ConsoleSink struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w, now: time.Now}
}

func (c *ConsoleSink) Name() string { return "console" }

func (c *ConsoleSink) Show(_ context.Context, n Notification) error {
	title := color.New(color.Bold).Sprint(n.Title)
	switch n.Kind {
	case KindTaskStart:
		title = color.New(color.FgGreen, color.Bold).Sprint(n.Title)
	case KindTaskEnd:
		title = color.New(color.FgYellow, color.Bold).Sprint(n.Title)
	}
	stamp := color.New(color.FgHiBlack).Sprint(c.now().Format("15:04:05"))

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "%s %s %s\n", stamp, title, n.Message)
	return err
}

// CommandSink runs an external program per notification, e.g.
// ["notify-send", "{title}", "{message}"]. Placeholders are substituted per
// argument, so values are never re-split by a shell.
type CommandSink struct {
	argv []string
}

func NewCommandSink(argv []string) (*CommandSink, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("notifier command is empty")
	}
	return &CommandSink{argv: append([]string(nil), argv...)}, nil
}

func (c *CommandSink) Name() string { return "command" }

func (c *CommandSink) Args(n Notification) []string {
	r := strings.NewReplacer(
		"{title}", n.Title,
		"{message}", n.Message,
		"{kind}", string(n.Kind),
		"{task_id}", fmt.Sprint(n.TaskID),
	)
	out := make([]string, len(c.argv))
	for i, a := range c.argv {
		out[i] = r.Replace(a)
	}
	return out
}

func (c *CommandSink) Show(ctx context.Context, n Notification) error {
	args := c.Args(n)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", args[0], err, msg)
		}
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return nil
}

// Sender is the subset of *tele.Bot used by TelegramSink.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramSink forwards notifications to one chat.
type TelegramSink struct {
	bot    Sender
	chatID int64
}

// NewTelegramSink creates an offline bot (no getMe round-trip, no poller);
// the token is checked on first send.
func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, err
	}
	return &TelegramSink{bot: b, chatID: chatID}, nil
}

func newTelegramSinkWith(bot Sender, chatID int64) *TelegramSink {
	return &TelegramSink{bot: bot, chatID: chatID}
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Show(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := prefixForPriority(n.Priority) + "<b>" + escapeHTML(n.Title) + "</b>\n" + escapeHTML(n.Message)
	_, err := t.bot.Send(&tele.Chat{ID: t.chatID}, text, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	})
	return err
}

func prefixForPriority(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	case p >= 5:
		return "⏰ "
	default:
		return ""
	}
}

func escapeHTML(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}
