package messenger

import (
	"strconv"
	"strings"
)

// Update mirrors the subset of the Telegram Bot API Update the bot reads.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

type Contact struct {
	PhoneNumber string `json:"phone_number"`
	FirstName   string `json:"first_name,omitempty"`
	UserID      int64  `json:"user_id,omitempty"`
}

type Message struct {
	MessageID int64    `json:"message_id"`
	From      *User    `json:"from,omitempty"`
	Chat      Chat     `json:"chat"`
	Date      int64    `json:"date,omitempty"`
	Text      string   `json:"text,omitempty"`
	Contact   *Contact `json:"contact,omitempty"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// EventID is the update id as a decimal string.
func (u *Update) EventID() string {
	return strconv.FormatInt(u.UpdateID, 10)
}

func (u *Update) Sender() *User {
	switch {
	case u.CallbackQuery != nil:
		return &u.CallbackQuery.From
	case u.Message != nil:
		return u.Message.From
	}
	return nil
}

// ChatID is the chat the reply should go to, or 0 when unknown.
func (u *Update) ChatID() int64 {
	switch {
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil:
		return u.CallbackQuery.Message.Chat.ID
	case u.Message != nil:
		return u.Message.Chat.ID
	case u.CallbackQuery != nil:
		return u.CallbackQuery.From.ID
	}
	return 0
}

// UserKey identifies the conversation partner across delivery paths.
func (u *Update) UserKey() string {
	if from := u.Sender(); from != nil {
		return "telegram:" + strconv.FormatInt(from.ID, 10)
	}
	if chat := u.ChatID(); chat != 0 {
		return "telegram:" + strconv.FormatInt(chat, 10)
	}
	return ""
}

func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// Input kinds carried by an update.
const (
	InputNone = iota
	InputText
	InputCallback
)

// Input returns the actionable content of the update: callback data, typed
// text or a shared contact's phone number.
func (u *Update) Input() (kind int, value string) {
	if u.CallbackQuery != nil && u.CallbackQuery.Data != "" {
		return InputCallback, u.CallbackQuery.Data
	}
	if u.Message != nil {
		if u.Message.Contact != nil && u.Message.Contact.PhoneNumber != "" {
			return InputText, u.Message.Contact.PhoneNumber
		}
		if strings.TrimSpace(u.Message.Text) != "" {
			return InputText, u.Message.Text
		}
	}
	return InputNone, ""
}
