// Package prompt assembles provider-agnostic request payloads from new input
// plus a trailing history window. Providers in internal/upstream project the
// payload into their own wire format.
package prompt

import (
	"errors"

	"github.com/kkkrraamm/api-aldlma-ai/internal/conversation"
)

// MaxImages bounds how many images accompany the current message. Extra
// images are silently dropped, first MaxImages win.
const MaxImages = 10

// DefaultInstructions is the static system block sent with every request.
// Configuration may override it; it is never user data.
const DefaultInstructions = `أنت "الدلما AI"، مساعد ذكي ومتطور لمنصة الدلما - منصة مجتمعية من أهل عرعر إلى أهلها.

مهمتك:
- مساعدة المستخدمين بطريقة احترافية وودودة
- الإجابة على الأسئلة بوضوح ودقة
- تحليل الصور إذا تم إرفاقها
- تقديم اقتراحات مفيدة
- استخدام اللغة العربية بشكل أساسي`

// describeImages substitutes for the message text when the user sends
// images without any words.
const describeImages = "ماذا ترى في هذه الصور؟"

// ErrEmptyInput is returned when a request would carry neither text nor
// images. The orchestrator validates first, so hitting this is a bug.
var ErrEmptyInput = errors.New("prompt: nothing to send")

// Message is one provider-agnostic chat message.
type Message struct {
	Role   conversation.Role
	Text   string
	Images []conversation.Image
}

// Request is the outbound prompt payload.
type Request struct {
	Instructions string
	Messages     []Message
}

// Builder reprojects history and new input into Requests.
type Builder struct {
	instructions string
}

// NewBuilder creates a builder with the given system instructions, falling
// back to DefaultInstructions when empty.
func NewBuilder(instructions string) *Builder {
	if instructions == "" {
		instructions = DefaultInstructions
	}
	return &Builder{instructions: instructions}
}

// Build produces the outbound payload: prior turns text-only, then exactly
// one current message carrying text (or a describe-the-images fallback) and
// up to MaxImages image payloads.
func (b *Builder) Build(text string, images []conversation.Image, history []conversation.Turn) (Request, error) {
	if text == "" && len(images) == 0 {
		return Request{}, ErrEmptyInput
	}

	msgs := make([]Message, 0, len(history)+1)
	for _, t := range history {
		// Images are dropped from transport history; an images-only turn
		// has no text left to contribute.
		if t.Text == "" {
			continue
		}
		msgs = append(msgs, Message{Role: t.Role, Text: t.Text})
	}

	current := Message{Role: conversation.RoleUser, Text: text}
	if len(images) > 0 {
		if current.Text == "" {
			current.Text = describeImages
		}
		if len(images) > MaxImages {
			images = images[:MaxImages]
		}
		current.Images = images
	}
	msgs = append(msgs, current)

	return Request{Instructions: b.instructions, Messages: msgs}, nil
}
