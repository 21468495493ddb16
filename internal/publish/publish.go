// Package publish persists accepted listings: the image goes to object
// storage, the record to SQLite, and optionally an announcement to a
// Telegram chat.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/lithammer/dedent"
	"github.com/rs/zerolog/log"

	"github.com/raine/listing-agent/internal/listing"
	"github.com/raine/listing-agent/internal/objectstore"
	"github.com/raine/listing-agent/internal/storage"
	"github.com/raine/listing-agent/internal/workflow"
)

// BotAPI is the subset of the Telegram API used for announcements.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Service struct {
	uploader objectstore.Uploader
	store    storage.Store
	tg       BotAPI
	chatID   int64
	newID    func() string
}

var _ workflow.Publisher = (*Service)(nil)

// NewService creates a publisher. tg may be nil to skip announcements.
func NewService(uploader objectstore.Uploader, store storage.Store, tg BotAPI, chatID int64) *Service {
	return &Service{
		uploader: uploader,
		store:    store,
		tg:       tg,
		chatID:   chatID,
		newID:    uuid.NewString,
	}
}

// Publish uploads the image, saves the listing record and announces it.
// Announcement failures are logged and do not fail the publish.
func (s *Service) Publish(ctx context.Context, sub workflow.Submission) error {
	if sub.Listing == nil || sub.Image == nil {
		return &listing.ServiceError{Op: "publish", Err: fmt.Errorf("listing and image are required")}
	}

	id := s.newID()
	objectName := id + sub.Image.Extension()

	url, err := s.uploader.Upload(ctx, objectName, sub.Image.MIMEType, bytes.NewReader(sub.Image.Data))
	if err != nil {
		return &listing.ServiceError{Op: "upload image", Err: err}
	}

	rec := &storage.ListingRecord{
		ID:             id,
		Title:          sub.Listing.Title,
		Description:    sub.Listing.Description,
		Price:          sub.Listing.Price,
		Category:       sub.Listing.Category,
		ImageURL:       url,
		ImageHash:      sub.Image.Hash(),
		ConversationID: sub.ConversationID,
		AnalysisText:   sub.AnalysisText,
		Transcript:     sub.Transcript,
	}
	if err := s.store.SaveListing(rec); err != nil {
		return &listing.ServiceError{Op: "save listing", Err: err}
	}

	log.Info().
		Str("id", id).
		Str("title", rec.Title).
		Float64("price", rec.Price).
		Str("imageURL", url).
		Msg("listing published")

	if s.tg != nil && s.chatID != 0 {
		if err := s.announce(sub); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("failed to announce listing")
		}
	}

	return nil
}

func (s *Service) announce(sub workflow.Submission) error {
	photo := tgbotapi.NewPhoto(s.chatID, tgbotapi.FileBytes{
		Name:  "listing" + sub.Image.Extension(),
		Bytes: sub.Image.Data,
	})
	photo.Caption = announcementCaption(sub.Listing)
	_, err := s.tg.Send(photo)
	return err
}

func announcementCaption(l *listing.Listing) string {
	return fmt.Sprintf(strings.TrimSpace(dedent.Dedent(`
		New listing: %s
		£%.2f · %s

		%s
	`)), l.Title, l.Price, l.Category, l.Description)
}
