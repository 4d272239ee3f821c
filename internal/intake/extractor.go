package intake

import "context"

// Extractor is the natural-language collaborator that turns free text into
// structured field values. Waybill only depends on this boundary; the
// service behind it (and its prompt engineering) lives elsewhere.
type Extractor interface {
	// ExtractFields pulls field values out of text given what is already
	// known and, optionally, which field the dialog is currently asking for.
	ExtractFields(ctx context.Context, text string, known Fields, currentStep string) (ExtractResult, error)

	// ClassifyRequest tags the request type once gathering is complete.
	ClassifyRequest(ctx context.Context, fields Fields) ([]string, error)

	// GenerateFollowUps produces the ordered adaptive question sequence for
	// a completed field set. Called once per session; the result is
	// persisted, never recomputed.
	GenerateFollowUps(ctx context.Context, fields Fields, tags []string) ([]FollowUp, error)

	// InterpretAnswer evaluates a reply to one follow-up question, possibly
	// also extracting answers to later questions in the same message.
	InterpretAnswer(ctx context.Context, text string, question FollowUp, known Fields, remaining []FollowUp) (AnswerResult, error)
}

// FollowUp is one adaptively generated question. FieldKey names the
// side-channel key the answer is stored under.
type FollowUp struct {
	FieldKey string `json:"field_key"`
	Question string `json:"question"`
}

// ExtractResult is the outcome of one ExtractFields call.
type ExtractResult struct {
	Fields         Fields  `json:"fields"`
	Confidence     float64 `json:"confidence"`
	Acknowledgment string  `json:"acknowledgment,omitempty"`
}

// AnswerResult is the outcome of one InterpretAnswer call.
type AnswerResult struct {
	Value            string `json:"value"`
	AdditionalFields Fields `json:"additional_fields,omitempty"`
}
