package bot

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	tele "gopkg.in/telebot.v3"

	"telegram-wager-bot/internal/game"
)

// Sender is the part of *tele.Bot the notifier needs.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Notifier delivers settlement messages through Telegram.
type Notifier struct {
	sender Sender
}

// NewNotifier creates a Notifier sending through s.
func NewNotifier(s Sender) *Notifier {
	return &Notifier{sender: s}
}

// SendMessage sends a text message to a chat.
func (n *Notifier) SendMessage(_ context.Context, chatID int64, text string) error {
	_, err := n.sender.Send(&tele.Chat{ID: chatID}, text)
	if err != nil {
		return fmt.Errorf("failed to send message to %d: %w", chatID, err)
	}
	return nil
}

// SendPhoto sends a photo by URL with a caption.
func (n *Notifier) SendPhoto(_ context.Context, chatID int64, photoURL, caption string) error {
	photo := &tele.Photo{File: tele.FromURL(photoURL), Caption: caption}
	if _, err := n.sender.Send(&tele.Chat{ID: chatID}, photo); err != nil {
		return fmt.Errorf("failed to send photo to %d: %w", chatID, err)
	}
	return nil
}

// URLRenderer points result attachments at pre-rendered images. The
// template receives the variant tag and the path-escaped outcome.
type URLRenderer struct {
	template string
}

// NewURLRenderer returns nil when template is empty, disabling attachments.
func NewURLRenderer(template string) *URLRenderer {
	if template == "" {
		return nil
	}
	return &URLRenderer{template: template}
}

// ResultImage returns the image URL for an outcome.
func (r *URLRenderer) ResultImage(variant string, o game.Outcome) (string, error) {
	if strings.Count(r.template, "%s") != 2 {
		return "", fmt.Errorf("image url template %q needs two %%s verbs", r.template)
	}
	return fmt.Sprintf(r.template, variant, url.PathEscape(o.String())), nil
}
