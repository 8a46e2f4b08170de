// Package thread is the application boundary of a comment thread: it
// checks who may do what, validates text, extracts mentions and derives
// notifications and history, then commits each user action as a single
// transaction on the replicated document.
package thread

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/roach88/threadsync/internal/crdt"
	"github.com/roach88/threadsync/internal/document"
	"github.com/roach88/threadsync/internal/ir"
	"github.com/roach88/threadsync/internal/mention"
)

// MaxTextLength is the longest comment accepted, in runes.
const MaxTextLength = 2000

var (
	// ErrUnauthorized is returned when the actor may not perform an action,
	// e.g. editing someone else's comment.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrEmptyText is returned for text that is blank after trimming.
	ErrEmptyText = errors.New("comment text is empty")

	// ErrTextTooLong is returned for text longer than MaxTextLength runes.
	ErrTextTooLong = fmt.Errorf("comment text exceeds %d characters", MaxTextLength)
)

// Service performs user actions on one thread.
type Service struct {
	doc    *document.Document
	logger *slog.Logger

	mu    sync.RWMutex
	users []ir.Author
}

// NewService creates a service over doc. users is the directory mentions
// are matched against; it can be replaced with SetUsers.
func NewService(doc *document.Document, users []ir.Author, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{doc: doc, users: slices.Clone(users), logger: logger}
}

// SetUsers replaces the mention directory.
func (s *Service) SetUsers(users []ir.Author) {
	s.mu.Lock()
	s.users = slices.Clone(users)
	s.mu.Unlock()
}

func (s *Service) directory() []ir.Author {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users
}

// ValidateText normalizes text and checks it against the length rules.
func ValidateText(text string) (string, error) {
	text = mention.Normalize(strings.TrimSpace(text))
	if text == "" {
		return "", ErrEmptyText
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return "", ErrTextTooLong
	}
	return text, nil
}

// AddComment posts a top-level comment.
func (s *Service) AddComment(actor ir.Author, text string) (ir.ID, error) {
	text, err := ValidateText(text)
	if err != nil {
		return ir.ID{}, err
	}
	mentions := mention.Extract(text, s.directory())

	var id ir.ID
	_, err = s.doc.RunTransaction(func(tx *document.Txn) error {
		var err error
		id, err = tx.CreateNode(ir.RootID, text, actor, mentions)
		if err != nil {
			return err
		}
		if err := notifyMentions(tx, id, actor, mentions); err != nil {
			return err
		}
		_, err = tx.LogChange(ir.ChangeLogEntry{UserID: actor.ID, Action: ir.ChangeAdd, CommentID: id})
		return err
	})
	if err != nil {
		return ir.ID{}, err
	}
	s.logger.Debug("comment added", "comment", id.String(), "user", actor.ID, "mentions", len(mentions))
	return id, nil
}

// Reply answers parent. The parent's author is notified and the parent's
// updated time is bumped.
func (s *Service) Reply(actor ir.Author, parent ir.ID, text string) (ir.ID, error) {
	text, err := ValidateText(text)
	if err != nil {
		return ir.ID{}, err
	}
	mentions := mention.Extract(text, s.directory())

	var id ir.ID
	_, err = s.doc.RunTransaction(func(tx *document.Txn) error {
		p, err := liveNode(tx, parent)
		if err != nil {
			return err
		}
		id, err = tx.CreateNode(parent, text, actor, mentions)
		if err != nil {
			return err
		}
		if err := tx.Touch(parent); err != nil {
			return err
		}
		if err := notifyMentions(tx, id, actor, mentions); err != nil {
			return err
		}
		if p.Author.ID != actor.ID {
			err := notifyOnce(tx, ir.Notification{
				Type:        ir.NotificationReply,
				CommentID:   parent,
				Author:      actor,
				RecipientID: p.Author.ID,
				Content:     text,
			})
			if err != nil {
				return err
			}
		}
		_, err = tx.LogChange(ir.ChangeLogEntry{
			UserID:    actor.ID,
			Action:    ir.ChangeAdd,
			CommentID: id,
			Details:   "reply to " + parent.String(),
		})
		return err
	})
	if err != nil {
		return ir.ID{}, err
	}
	s.logger.Debug("reply added", "comment", id.String(), "parent", parent.String(), "user", actor.ID)
	return id, nil
}

// Edit replaces the text of the actor's own comment. Mentions are
// recomputed; only newly mentioned users are notified.
func (s *Service) Edit(actor ir.Author, id ir.ID, text string) error {
	text, err := ValidateText(text)
	if err != nil {
		return err
	}
	mentions := mention.Extract(text, s.directory())

	_, err = s.doc.RunTransaction(func(tx *document.Txn) error {
		n, err := liveNode(tx, id)
		if err != nil {
			return err
		}
		if n.Author.ID != actor.ID {
			return fmt.Errorf("edit %s: %w", id, ErrUnauthorized)
		}
		if n.Text == text && slices.Equal(n.Mentions, mentions) {
			return nil
		}
		if err := tx.SetText(id, text, mentions); err != nil {
			return err
		}
		if err := notifyMentions(tx, id, actor, mentions); err != nil {
			return err
		}
		_, err = tx.LogChange(ir.ChangeLogEntry{UserID: actor.ID, Action: ir.ChangeEdit, CommentID: id})
		return err
	})
	return err
}

// Delete removes the actor's own comment and, with it, its replies from
// the visible tree.
func (s *Service) Delete(actor ir.Author, id ir.ID) error {
	_, err := s.doc.RunTransaction(func(tx *document.Txn) error {
		n, err := liveNode(tx, id)
		if err != nil {
			return err
		}
		if n.Author.ID != actor.ID {
			return fmt.Errorf("delete %s: %w", id, ErrUnauthorized)
		}
		if err := tx.SetTombstone(id); err != nil {
			return err
		}
		_, err = tx.LogChange(ir.ChangeLogEntry{UserID: actor.ID, Action: ir.ChangeDelete, CommentID: id})
		return err
	})
	return err
}

// MarkRead marks one of the actor's notifications read.
func (s *Service) MarkRead(actor ir.Author, notificationID ir.ID) error {
	_, err := s.doc.RunTransaction(func(tx *document.Txn) error {
		for _, n := range tx.Notifications() {
			if n.ID != notificationID {
				continue
			}
			if n.RecipientID != actor.ID {
				return fmt.Errorf("mark read %s: %w", notificationID, ErrUnauthorized)
			}
			return tx.MarkRead(notificationID)
		}
		return tx.MarkRead(notificationID)
	})
	return err
}

// MarkAllRead marks every unread notification of the actor read, in one
// transaction.
func (s *Service) MarkAllRead(actor ir.Author) error {
	_, err := s.doc.RunTransaction(func(tx *document.Txn) error {
		for _, n := range tx.Notifications() {
			if n.RecipientID == actor.ID && !n.Read {
				if err := tx.MarkRead(n.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return err
}

// Notifications returns userID's notifications, newest first.
func (s *Service) Notifications(userID string) []ir.Notification {
	var out []ir.Notification
	for _, n := range s.doc.Notifications() {
		if n.RecipientID == userID {
			out = append(out, n)
		}
	}
	slices.Reverse(out)
	return out
}

// Unread returns userID's unread notifications, newest first.
func (s *Service) Unread(userID string) []ir.Notification {
	var out []ir.Notification
	for _, n := range s.Notifications(userID) {
		if !n.Read {
			out = append(out, n)
		}
	}
	return out
}

// History returns the change log of one comment, oldest first.
func (s *Service) History(commentID ir.ID) []ir.ChangeLogEntry {
	var out []ir.ChangeLogEntry
	for _, e := range s.doc.ChangeLog() {
		if e.CommentID == commentID {
			out = append(out, e)
		}
	}
	return out
}

// liveNode returns a node that exists and is not deleted.
func liveNode(tx *document.Txn, id ir.ID) (crdt.NodeView, error) {
	n, ok := tx.Node(id)
	if !ok || n.Deleted {
		return crdt.NodeView{}, crdt.NotFound(id)
	}
	return n, nil
}

// notifyMentions notifies every mentioned user except the actor, at most
// once per comment.
func notifyMentions(tx *document.Txn, comment ir.ID, actor ir.Author, mentions []ir.Mention) error {
	for _, m := range mentions {
		if m.UserID == actor.ID {
			continue
		}
		err := notifyOnce(tx, ir.Notification{
			Type:        ir.NotificationMention,
			CommentID:   comment,
			Author:      actor,
			RecipientID: m.UserID,
			Content:     "@" + m.UserName,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// notifyOnce adds n unless a notification with the same type, comment and
// recipient already exists.
func notifyOnce(tx *document.Txn, n ir.Notification) error {
	for _, existing := range tx.Notifications() {
		if existing.Type == n.Type && existing.CommentID == n.CommentID && existing.RecipientID == n.RecipientID {
			return nil
		}
	}
	_, err := tx.AddNotification(n)
	return err
}
