package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"livre2main/internal/util"
	"livre2main/pkg/domain"
	"livre2main/pkg/store"
)

const summaryConcurrency = 4

// participantThread loads a conversation and checks that userID takes part in it.
func participantThread(ctx context.Context, st store.Store, empruntID, userID string) (domain.Emprunt, error) {
	thread, ok, err := st.GetEmprunt(ctx, strings.TrimSpace(empruntID))
	if err != nil {
		return domain.Emprunt{}, fmt.Errorf("load conversation: %w", err)
	}
	if !ok {
		return domain.Emprunt{}, notFound(msgEmpruntNotFound)
	}
	if !thread.Involves(userID) {
		return domain.Emprunt{}, forbidden(msgNotParticipant)
	}
	return thread, nil
}

// ListConversations returns the caller's conversations, most recent activity first.
func (a *App) ListConversations(ctx context.Context, user domain.User) ([]domain.ConversationSummary, error) {
	threads, err := a.store.ListEmpruntsByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	out := make([]domain.ConversationSummary, len(threads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryConcurrency)
	for i, thread := range threads {
		g.Go(func() error {
			summary, err := a.summarize(gctx, thread, user.ID)
			if err != nil {
				return err
			}
			out[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return lastActivity(out[i]).After(lastActivity(out[j]))
	})
	return out, nil
}

// lastActivity falls back to the conversation creation time when it has no message.
func lastActivity(s domain.ConversationSummary) time.Time {
	if s.LastMessageTime != nil {
		return *s.LastMessageTime
	}
	return s.CreatedAt
}

func (a *App) summarize(ctx context.Context, thread domain.Emprunt, userID string) (domain.ConversationSummary, error) {
	summary := domain.ConversationSummary{
		EmpruntID:   thread.ID,
		OtherUserID: thread.Other(userID),
		CreatedAt:   thread.CreatedAt,
	}
	other, ok, err := a.store.GetUserByID(ctx, summary.OtherUserID)
	if err != nil {
		return summary, fmt.Errorf("load other user: %w", err)
	}
	if ok {
		summary.OtherUserName = other.Name
		summary.OtherUserSurname = other.Surname
	}
	book, ok, err := a.store.GetBook(ctx, thread.BookID)
	if err != nil {
		return summary, fmt.Errorf("load book: %w", err)
	}
	if ok {
		summary.BookTitle = book.Title
	}
	last, ok, err := a.store.LastMessage(ctx, thread.ID)
	if err != nil {
		return summary, fmt.Errorf("load last message: %w", err)
	}
	if ok {
		at := last.CreatedAt
		summary.LastMessage = last.Text
		summary.LastMessageTime = &at
	}
	unread, err := a.store.CountUnread(ctx, []string{thread.ID}, userID)
	if err != nil {
		return summary, fmt.Errorf("count unread: %w", err)
	}
	summary.UnreadCount = unread
	return summary, nil
}

// ThreadMessages lists a conversation with sender names and marks what the caller received as read.
// Proposal messages carry metadata rendered from the current proposal record.
func (a *App) ThreadMessages(ctx context.Context, user domain.User, empruntID string) ([]domain.MessageWithSender, error) {
	thread, err := participantThread(ctx, a.store, empruntID, user.ID)
	if err != nil {
		return nil, err
	}
	msgs, err := a.store.ListMessages(ctx, thread.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	senders := make(map[string]domain.User, 2)
	out := make([]domain.MessageWithSender, 0, len(msgs))
	for _, msg := range msgs {
		sender, seen := senders[msg.SenderID]
		if !seen {
			u, ok, err := a.store.GetUserByID(ctx, msg.SenderID)
			if err != nil {
				return nil, fmt.Errorf("load sender: %w", err)
			}
			if ok {
				sender = u
			}
			senders[msg.SenderID] = sender
		}
		if msg.ProposalID != "" {
			p, ok, err := a.store.GetProposal(ctx, msg.ProposalID)
			if err != nil {
				return nil, fmt.Errorf("load proposal: %w", err)
			}
			if ok {
				msg.Metadata = domain.ProposalMetadata(p)
			}
		}
		out = append(out, domain.MessageWithSender{
			Message:       msg,
			SenderName:    sender.Name,
			SenderSurname: sender.Surname,
		})
	}

	if err := a.store.MarkThreadRead(ctx, thread.ID, user.ID); err != nil {
		return nil, fmt.Errorf("mark thread read: %w", err)
	}
	return out, nil
}

// SendMessage appends a chat message from user to a conversation they take part in.
func (a *App) SendMessage(ctx context.Context, user domain.User, empruntID, text string) (domain.Message, error) {
	thread, err := participantThread(ctx, a.store, empruntID, user.ID)
	if err != nil {
		return domain.Message{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Message{}, validation(msgEmptyMessage)
	}
	msg := domain.Message{
		ID:        util.NewID(),
		EmpruntID: thread.ID,
		SenderID:  user.ID,
		Text:      text,
		CreatedAt: a.now(),
	}
	if err := a.store.AppendMessage(ctx, msg); err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// MarkMessageRead flags a message the caller received as read.
func (a *App) MarkMessageRead(ctx context.Context, user domain.User, messageID string) (domain.Message, error) {
	msg, ok, err := a.store.GetMessage(ctx, strings.TrimSpace(messageID))
	if err != nil {
		return domain.Message{}, fmt.Errorf("load message: %w", err)
	}
	if !ok {
		return domain.Message{}, notFound(msgMessageNotFound)
	}
	if _, err := participantThread(ctx, a.store, msg.EmpruntID, user.ID); err != nil {
		return domain.Message{}, err
	}
	if msg.SenderID == user.ID {
		return domain.Message{}, validation(msgOwnMessageRead)
	}
	if err := a.store.MarkMessageRead(ctx, msg.ID); err != nil {
		return domain.Message{}, fmt.Errorf("mark message read: %w", err)
	}
	msg.IsRead = true
	return msg, nil
}

// UnreadCount counts messages received by user and not yet read, across all conversations.
func (a *App) UnreadCount(ctx context.Context, user domain.User) (int, error) {
	threads, err := a.store.ListEmpruntsByUser(ctx, user.ID)
	if err != nil {
		return 0, fmt.Errorf("list conversations: %w", err)
	}
	ids := make([]string, 0, len(threads))
	for _, t := range threads {
		ids = append(ids, t.ID)
	}
	count, err := a.store.CountUnread(ctx, ids, user.ID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}
