// Package telegram implements the chat destination transport over the
// Telegram Bot API. Raw MakeRequest calls are used where the typed helpers
// predate forum topics (message_thread_id, createForumTopic).
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"feedrelay/internal/deliver"
)

type Client struct {
	api    *tgbotapi.BotAPI
	logger *zap.SugaredLogger
}

func NewClient(token string, logger *zap.SugaredLogger) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}
	logger.Infof("authorized on telegram as @%s", api.Self.UserName)
	return &Client{api: api, logger: logger}, nil
}

// SendText delivers the text-with-link-preview message shape.
func (c *Client) SendText(ctx context.Context, chatID int64, text string, threadID int64, linkURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := make(tgbotapi.Params)
	params.AddNonZero64("chat_id", chatID)
	params.AddNonEmpty("text", text)
	params["parse_mode"] = tgbotapi.ModeHTML
	params.AddNonZero64("message_thread_id", threadID)
	if err := addOpenLinkButton(params, linkURL); err != nil {
		return err
	}
	_, err := c.api.MakeRequest("sendMessage", params)
	return classifyError(err)
}

// SendPhoto delivers the image-with-caption message shape.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photoURL, caption string, threadID int64, linkURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := make(tgbotapi.Params)
	params.AddNonZero64("chat_id", chatID)
	params.AddNonEmpty("photo", photoURL)
	params.AddNonEmpty("caption", caption)
	params["parse_mode"] = tgbotapi.ModeHTML
	params.AddNonZero64("message_thread_id", threadID)
	if err := addOpenLinkButton(params, linkURL); err != nil {
		return err
	}
	_, err := c.api.MakeRequest("sendPhoto", params)
	return classifyError(err)
}

// SupportsTopics reports whether the chat is a forum supergroup the bot is
// still a member of.
func (c *Client) SupportsTopics(ctx context.Context, chatID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	params := make(tgbotapi.Params)
	params.AddNonZero64("chat_id", chatID)
	resp, err := c.api.MakeRequest("getChat", params)
	if err != nil {
		return false, classifyError(err)
	}
	var chat struct {
		Type    string `json:"type"`
		IsForum bool   `json:"is_forum"`
	}
	if err := json.Unmarshal(resp.Result, &chat); err != nil {
		return false, fmt.Errorf("error decoding getChat result: %w", err)
	}
	if chat.Type != "supergroup" || !chat.IsForum {
		return false, nil
	}

	params = make(tgbotapi.Params)
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero64("user_id", c.api.Self.ID)
	resp, err = c.api.MakeRequest("getChatMember", params)
	if err != nil {
		return false, classifyError(err)
	}
	var member struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp.Result, &member); err != nil {
		return false, fmt.Errorf("error decoding getChatMember result: %w", err)
	}
	switch member.Status {
	case "left", "kicked":
		return false, nil
	}
	return true, nil
}

// CreateTopic creates a forum topic and returns its thread id.
func (c *Client) CreateTopic(ctx context.Context, chatID int64, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	params := make(tgbotapi.Params)
	params.AddNonZero64("chat_id", chatID)
	params.AddNonEmpty("name", name)
	resp, err := c.api.MakeRequest("createForumTopic", params)
	if err != nil {
		return 0, classifyError(err)
	}
	var topic struct {
		MessageThreadID int64 `json:"message_thread_id"`
	}
	if err := json.Unmarshal(resp.Result, &topic); err != nil {
		return 0, fmt.Errorf("error decoding createForumTopic result: %w", err)
	}
	return topic.MessageThreadID, nil
}

func addOpenLinkButton(params tgbotapi.Params, linkURL string) error {
	if linkURL == "" {
		return nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Open link", linkURL),
		),
	)
	return params.AddInterface("reply_markup", markup)
}

// classifyError maps Telegram API failures onto the delivery error taxonomy
// at the boundary where the remote call is made.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		msg := strings.ToLower(tgErr.Message)
		if strings.Contains(msg, "thread not found") || strings.Contains(msg, "topic_deleted") {
			return fmt.Errorf("%w: %s", deliver.ErrTopicNotFound, tgErr.Message)
		}
		se := &deliver.SendError{Code: tgErr.Code, Message: tgErr.Message}
		switch {
		case tgErr.Code == 429:
			se.Retryable = true
			if tgErr.RetryAfter > 0 {
				se.RetryAfter = time.Duration(tgErr.RetryAfter) * time.Second
			}
		case tgErr.Code >= 500:
			se.Retryable = true
		}
		return se
	}
	// Transport-level failure: worth a retry.
	return &deliver.SendError{Message: err.Error(), Retryable: true}
}
