package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chabi-bot/chabi/apperr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrLinkNotFound is returned by Get for senders that never linked an account.
var ErrLinkNotFound = errors.New("link not found")

// Link is the account-link state of one Messenger sender.
type Link struct {
	ID                uint   `gorm:"primaryKey"`
	SenderID          string `gorm:"uniqueIndex;not null"`
	Username          string
	AuthorizationCode string
	Linked            bool `gorm:"not null;default:false"`
	LinkedAt          *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Links stores whether a sender is logged in. A missing row means unlinked.
type Links struct {
	db     *gorm.DB
	crypto *dataCrypto
}

func NewLinks(db *DB, opts ...Option) (*Links, error) {
	if db == nil || db.DB == nil {
		return nil, errors.New("nil db")
	}
	options := linkOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	crypto, err := newDataCrypto(options.DataKey)
	if err != nil {
		return nil, fmt.Errorf("data key: %w", err)
	}
	return &Links{db: db.DB, crypto: crypto}, nil
}

func (l *Links) Get(ctx context.Context, senderID string) (*Link, error) {
	var link Link
	err := l.db.WithContext(ctx).Where("sender_id = ?", senderID).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "")
	}
	code, err := l.crypto.Decrypt(link.AuthorizationCode)
	if err != nil {
		return nil, fmt.Errorf("decrypt authorization code: %w", err)
	}
	link.AuthorizationCode = code
	return &link, nil
}

func (l *Links) IsLinked(ctx context.Context, senderID string) (bool, error) {
	link, err := l.Get(ctx, senderID)
	if errors.Is(err, ErrLinkNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return link.Linked, nil
}

// Link marks the sender as logged in. alreadyLinked reports whether it was
// linked before the call, in which case nothing is changed. The write is a
// single upsert keyed on sender_id, so concurrent logins for a new sender
// cannot collide on the unique index.
func (l *Links) Link(ctx context.Context, senderID, username, code string) (alreadyLinked bool, err error) {
	enc, err := l.crypto.Encrypt(code)
	if err != nil {
		return false, fmt.Errorf("encrypt authorization code: %w", err)
	}
	now := time.Now().UTC()
	link := Link{
		SenderID:          senderID,
		Username:          username,
		AuthorizationCode: enc,
		Linked:            true,
		LinkedAt:          &now,
	}
	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sender_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "authorization_code", "linked", "linked_at", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Eq{Column: clause.Column{Table: "links", Name: "linked"}, Value: false},
		}},
	}).Create(&link)
	if res.Error != nil {
		return false, apperr.Wrap(res.Error, apperr.ErrDatabase, "")
	}
	return res.RowsAffected == 0, nil
}

// Unlink marks the sender as logged out and reports whether it was linked.
func (l *Links) Unlink(ctx context.Context, senderID string) (wasLinked bool, err error) {
	res := l.db.WithContext(ctx).Model(&Link{}).
		Where("sender_id = ? AND linked = ?", senderID, true).
		Updates(map[string]interface{}{
			"linked":             false,
			"authorization_code": "",
			"linked_at":          nil,
		})
	if res.Error != nil {
		return false, apperr.Wrap(res.Error, apperr.ErrDatabase, "")
	}
	return res.RowsAffected > 0, nil
}
