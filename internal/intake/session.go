package intake

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/waybill/waybill/internal/models"
	"gorm.io/gorm"
)

// Sub-flow step markers. A marker in CurrentStep suspends normal
// field-gathering dispatch and routes input to the marker's handler.
const (
	stepDraftPrefix    = "draft:"
	stepPostSubPrefix  = "post_sub:"
	stepDupCheckPrefix = "dup_check:"
)

// Side-channel protocol keys. The "__" prefix separates transient protocol
// state from bare domain keys (follow-up answers, flagged-for-discussion
// notes, draft asset lists). Protocol state always lives here rather than
// in any in-memory field, so every handler sees it after a restart.
const (
	sideStashedStep     = "__stashed_step"
	sideStashedFollowUp = "__stashed_follow_up"
	sideDupThread       = "__dup_thread"
	sideDupChannel      = "__dup_channel"
	sideDupFirstMsg     = "__dup_first_msg"
	sideDraftPending    = "__draft_pending"
	sideLastQuestion    = "__last_question"
	sideRecovered       = "__recovered"
)

// Side-channel domain keys (bare, no "__" prefix).
const (
	sideDiscussList = "discuss_later"
	sideDraftAssets = "draft_assets"
)

// SideChannel is the open string-to-string mapping persisted with every
// session save.
type SideChannel map[string]string

// Extras returns only the bare (domain) keys, for ticket rendering.
func (sc SideChannel) Extras() map[string]string {
	out := make(map[string]string)
	for k, v := range sc {
		if !strings.HasPrefix(k, "__") {
			out[k] = v
		}
	}
	return out
}

// DraftAsset is one existing-asset record collected by the draft sub-flow.
type DraftAsset struct {
	Link     string `json:"link"`
	Status   string `json:"status"` // "ready" or "in_progress"
	Expected string `json:"expected,omitempty"`
}

// Session is the in-memory working copy of a persisted IntakeSession, with
// the JSON columns decoded. All mutation is read-modify-write: load, apply
// one handler, Save.
type Session struct {
	Rec       *models.IntakeSession
	Fields    Fields
	Side      SideChannel
	FollowUps []FollowUp
}

// NewSessionFor builds an unsaved gathering session for an inbound message.
func NewSessionFor(msg InboundMessage, threadID string, profile UserProfile) *Session {
	name := profile.DisplayName
	if name == "" {
		name = msg.UserName
	}
	return &Session{
		Rec: &models.IntakeSession{
			Platform:     msg.Platform,
			UserID:       msg.UserID,
			ThreadID:     threadID,
			ChannelID:    msg.ChannelID,
			UserName:     name,
			UserTitle:    profile.Title,
			Status:       models.StatusGathering,
			LastActivity: time.Now(),
		},
		Fields:    NewFields(),
		Side:      make(SideChannel),
		FollowUps: nil,
	}
}

// WrapSession decodes a persisted record into a working Session.
func WrapSession(rec *models.IntakeSession) (*Session, error) {
	fields, err := DecodeFields(rec.Fields)
	if err != nil {
		return nil, err
	}

	side := make(SideChannel)
	if strings.TrimSpace(rec.SideChannel) != "" {
		if err := json.Unmarshal([]byte(rec.SideChannel), &side); err != nil {
			return nil, fmt.Errorf("intake: decode side channel: %w", err)
		}
	}

	var followUps []FollowUp
	if strings.TrimSpace(rec.FollowUps) != "" {
		if err := json.Unmarshal([]byte(rec.FollowUps), &followUps); err != nil {
			return nil, fmt.Errorf("intake: decode follow-ups: %w", err)
		}
	}

	return &Session{Rec: rec, Fields: fields, Side: side, FollowUps: followUps}, nil
}

// Save encodes the working copy back into the record and persists it.
// Handlers save after every mutation; a failed save is fatal for the
// message being handled and leaves the previous persisted state intact.
func (s *Session) Save(db *gorm.DB) error {
	encoded, err := s.Fields.Encode()
	if err != nil {
		return err
	}
	s.Rec.Fields = encoded

	sideJSON, err := json.Marshal(s.Side)
	if err != nil {
		return fmt.Errorf("intake: encode side channel: %w", err)
	}
	s.Rec.SideChannel = string(sideJSON)

	if s.FollowUps == nil {
		s.Rec.FollowUps = ""
	} else {
		fuJSON, err := json.Marshal(s.FollowUps)
		if err != nil {
			return fmt.Errorf("intake: encode follow-ups: %w", err)
		}
		s.Rec.FollowUps = string(fuJSON)
	}

	s.Rec.LastActivity = time.Now()
	if err := db.Save(s.Rec).Error; err != nil {
		return fmt.Errorf("intake: save session %d: %w", s.Rec.ID, err)
	}
	return nil
}

// InStep reports whether CurrentStep carries the given sub-flow prefix.
func (s *Session) InStep(prefix string) bool {
	return strings.HasPrefix(s.Rec.CurrentStep, prefix)
}

// FollowUpActive reports whether the session is in the follow-up sub-mode
// of gathering: a persisted question sequence exists and the cursor has not
// walked off its end.
func (s *Session) FollowUpActive() bool {
	return len(s.FollowUps) > 0 && s.Rec.FollowUpIndex < len(s.FollowUps)
}

// FollowUpAnswered reports whether the follow-up at index i already has an
// answer, either stored under its side-channel key or pre-answered as a
// field by an earlier free-form message.
func (s *Session) FollowUpAnswered(i int) bool {
	if i < 0 || i >= len(s.FollowUps) {
		return false
	}
	key := s.FollowUps[i].FieldKey
	if v, ok := s.Side[key]; ok && strings.TrimSpace(v) != "" {
		return true
	}
	return s.Fields.IsSet(key)
}

// DraftAssets decodes the accumulated draft-asset list.
func (s *Session) DraftAssets() []DraftAsset {
	raw := s.Side[sideDraftAssets]
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var assets []DraftAsset
	if err := json.Unmarshal([]byte(raw), &assets); err != nil {
		return nil
	}
	return assets
}

// AppendDraftAsset adds a completed record to the draft-asset list.
func (s *Session) AppendDraftAsset(asset DraftAsset) error {
	assets := append(s.DraftAssets(), asset)
	data, err := json.Marshal(assets)
	if err != nil {
		return fmt.Errorf("intake: encode draft assets: %w", err)
	}
	s.Side[sideDraftAssets] = string(data)
	return nil
}

// AppendDiscussItem records a topic the user flagged for later discussion.
func (s *Session) AppendDiscussItem(topic string) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return
	}
	if existing := s.Side[sideDiscussList]; existing != "" {
		s.Side[sideDiscussList] = existing + "\n" + topic
	} else {
		s.Side[sideDiscussList] = topic
	}
}

// ---------------------------------------------------------------------------
// Store queries
// ---------------------------------------------------------------------------

// LatestSession returns the most recent session for (userID, threadID), or
// nil if none was ever persisted for the pair. Terminal rows are included —
// the caller decides whether a terminal latest row means "start fresh".
func LatestSession(db *gorm.DB, userID, threadID string) (*Session, error) {
	var rec models.IntakeSession
	result := db.Where("user_id = ? AND thread_id = ?", userID, threadID).
		Order("id DESC").First(&rec)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("intake: load session: %w", result.Error)
	}
	return WrapSession(&rec)
}

// SessionByID loads a session by surrogate id.
func SessionByID(db *gorm.DB, id uint) (*Session, error) {
	var rec models.IntakeSession
	if err := db.First(&rec, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("intake: load session %d: %w", id, err)
	}
	return WrapSession(&rec)
}

// OpenSessionElsewhere returns the user's open (gathering or confirming)
// session in any thread other than threadID, or nil. Used only by
// duplicate-session arbitration at creation time.
func OpenSessionElsewhere(db *gorm.DB, userID, threadID string) (*models.IntakeSession, error) {
	var rec models.IntakeSession
	result := db.Where("user_id = ? AND thread_id <> ? AND status IN ?",
		userID, threadID, []string{models.StatusGathering, models.StatusConfirming}).
		Order("id DESC").First(&rec)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("intake: find open session: %w", result.Error)
	}
	return &rec, nil
}

// CancelSessionByID marks a session cancelled. Cancelling an
// already-cancelled (or otherwise closed) session is a no-op, which makes
// arbitration's "cancel the other session" write safe to repeat.
func CancelSessionByID(db *gorm.DB, id uint) error {
	now := time.Now()
	result := db.Model(&models.IntakeSession{}).
		Where("id = ? AND status IN ?", id,
			[]string{models.StatusGathering, models.StatusConfirming}).
		Updates(map[string]interface{}{
			"status":       models.StatusCancelled,
			"completed_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("intake: cancel session %d: %w", id, result.Error)
	}
	return nil
}
