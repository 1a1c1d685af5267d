package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"elexis-pipeline/internal/constants"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// Message is one decoded queue message. The concrete payload types below are
// the only implementations.
type Message interface {
	Type() string
	// Ref identifies the main record the message is about, for logs.
	Ref() string
}

// ScoreMessage asks for the similarity score of a score record.
type ScoreMessage struct {
	ScoreID string `mapstructure:"id" json:"id"`
}

// AIEvaluationMessage asks for the AI fit evaluation of a score record.
// BatchJobID is set when the record came from a bulk upload.
type AIEvaluationMessage struct {
	ScoreID    string `mapstructure:"id" json:"id"`
	BatchJobID string `mapstructure:"batch_job_id" json:"batch_job_id,omitempty"`
}

type RankMessage struct {
	JobID string `mapstructure:"jobId" json:"jobId"`
}

// SuggestionMessage evaluates one candidate for a job, or finds new candidates
// when CandidateID is empty.
type SuggestionMessage struct {
	JobID       string `mapstructure:"jobId" json:"jobId"`
	CandidateID string `mapstructure:"candidateId" json:"candidateId,omitempty"`
}

type BulkMessage struct {
	BatchJobID     string `mapstructure:"batch_job_id" json:"batch_job_id"`
	OrganizationID string `mapstructure:"organization_id" json:"organization_id"`
	UserID         string `mapstructure:"user_id" json:"user_id,omitempty"`
	JobID          string `mapstructure:"job_id" json:"job_id,omitempty"`
	FileCount      int    `mapstructure:"file_count" json:"file_count"`
}

// EmbeddingMessage embeds a candidate resume or a job description.
type EmbeddingMessage struct {
	CandidateID string `mapstructure:"candidate_id" json:"candidate_id,omitempty"`
	JobID       string `mapstructure:"job_id" json:"job_id,omitempty"`
	BatchJobID  string `mapstructure:"batch_job_id" json:"batch_job_id,omitempty"`
	Namespace   string `mapstructure:"organization_namespace" json:"organization_namespace,omitempty"`
}

// ProctorMessage has no data wrapper on the wire.
type ProctorMessage struct {
	RoomURL  string `mapstructure:"room_url" json:"room_url"`
	VideoURL string `mapstructure:"video_url" json:"video_url"`
}

// CompletionMessage is the untyped transcript-ready message. Either InterviewID
// or RoomURL locates the interview.
type CompletionMessage struct {
	TranscriptURL string `mapstructure:"s3_file_url" json:"s3_file_url"`
	RoomURL       string `mapstructure:"room_url" json:"room_url,omitempty"`
	InterviewID   string `mapstructure:"interview_id" json:"interview_id,omitempty"`
}

func (ScoreMessage) Type() string        { return constants.MsgJobResumeMatchingScore }
func (AIEvaluationMessage) Type() string { return constants.MsgAIJobResumeEvaluation }
func (RankMessage) Type() string         { return constants.MsgRankResumes }
func (SuggestionMessage) Type() string   { return constants.MsgGenerateCandidateSuggest }
func (BulkMessage) Type() string         { return constants.MsgProcessBulkResumes }
func (EmbeddingMessage) Type() string    { return constants.MsgGenerateEmbedding }
func (ProctorMessage) Type() string      { return constants.MsgProctor }
func (CompletionMessage) Type() string   { return constants.MsgInterviewCompletionLegacy }

func (m ScoreMessage) Ref() string        { return "score=" + m.ScoreID }
func (m AIEvaluationMessage) Ref() string { return "score=" + m.ScoreID }
func (m RankMessage) Ref() string         { return "job=" + m.JobID }
func (m SuggestionMessage) Ref() string   { return "job=" + m.JobID }
func (m BulkMessage) Ref() string         { return "batch=" + m.BatchJobID }
func (m ProctorMessage) Ref() string      { return "room=" + m.RoomURL }

func (m EmbeddingMessage) Ref() string {
	if m.CandidateID != "" {
		return "candidate=" + m.CandidateID
	}
	return "job=" + m.JobID
}

func (m CompletionMessage) Ref() string {
	if m.InterviewID != "" {
		return "interview=" + m.InterviewID
	}
	return "room=" + m.RoomURL
}

// Decode parses a queue body into a Message. Every failure wraps ErrMalformedMessage.
func Decode(body []byte) (Message, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, malformed("invalid json: %v", err)
	}

	msgType, _ := raw["type"].(string)
	if msgType == "" {
		return decodeLegacyCompletion(raw)
	}

	var data map[string]interface{}
	switch d := raw["data"].(type) {
	case map[string]interface{}:
		data = d
	case nil:
		if msgType != constants.MsgProctor {
			return nil, malformed("%s: missing data", msgType)
		}
		data = raw
	default:
		return nil, malformed("%s: data is %T, want object", msgType, d)
	}

	switch msgType {
	case constants.MsgJobResumeMatchingScore:
		var m ScoreMessage
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		return checked(m, requireIDs(msgType, "id", m.ScoreID))

	case constants.MsgAIJobResumeEvaluation:
		var m AIEvaluationMessage
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		return checked(m, requireIDs(msgType, "id", m.ScoreID))

	case constants.MsgRankResumes:
		var m RankMessage
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		return checked(m, requireIDs(msgType, "jobId", m.JobID))

	case constants.MsgGenerateCandidateSuggest:
		var m SuggestionMessage
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		if err := requireIDs(msgType, "jobId", m.JobID); err != nil {
			return nil, err
		}
		if m.CandidateID != "" {
			return checked(m, requireIDs(msgType, "candidateId", m.CandidateID))
		}
		return m, nil

	case constants.MsgProcessBulkResumes:
		var m BulkMessage
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		if m.BatchJobID == "" || m.OrganizationID == "" {
			return nil, malformed("%s: batch_job_id and organization_id are required", msgType)
		}
		return m, nil

	case constants.MsgGenerateEmbedding:
		var m EmbeddingMessage
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		if (m.CandidateID == "") == (m.JobID == "") {
			return nil, malformed("%s: exactly one of candidate_id and job_id is required", msgType)
		}
		return m, nil

	case constants.MsgProctor:
		var m ProctorMessage
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		if m.RoomURL == "" || m.VideoURL == "" {
			return nil, malformed("%s: room_url and video_url are required", msgType)
		}
		return m, nil
	}
	return nil, malformed("unknown message type %q", msgType)
}

func checked(m Message, err error) (Message, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}

func decodeLegacyCompletion(raw map[string]interface{}) (Message, error) {
	var m CompletionMessage
	if err := decodeInto(raw, &m); err != nil {
		return nil, err
	}
	if m.TranscriptURL == "" || (m.RoomURL == "" && m.InterviewID == "") {
		return nil, malformed("untyped message is not a transcript completion")
	}
	return m, nil
}

// decodeInto 弱类型解码，键名忽略大小写、下划线和连字符 (jobId == job_id)
func decodeInto(data map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(data); err != nil {
		return malformed("decode payload: %v", err)
	}
	return nil
}

func normalizeKey(k string) string {
	k = strings.ToLower(k)
	return strings.NewReplacer("_", "", "-", "").Replace(k)
}

// requireIDs 字段必须是合法 UUID
func requireIDs(msgType, field, value string) error {
	if value == "" {
		return malformed("%s: %s is required", msgType, field)
	}
	if _, err := uuid.Parse(value); err != nil {
		return malformed("%s: %s %q is not a uuid", msgType, field, value)
	}
	return nil
}

// Envelope is the wire form of typed messages: {"type", "data"} plus an optional
// request id that makes manual re-triggers distinct from earlier deliveries.
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// Encode renders msg in its wire form. Proctor and completion messages keep their
// unwrapped legacy shape.
func Encode(msg Message, requestID string) ([]byte, error) {
	switch m := msg.(type) {
	case ProctorMessage:
		return json.Marshal(struct {
			Type string `json:"type"`
			ProctorMessage
			RequestID string `json:"request_id,omitempty"`
		}{Type: m.Type(), ProctorMessage: m, RequestID: requestID})
	case CompletionMessage:
		return json.Marshal(struct {
			CompletionMessage
			RequestID string `json:"request_id,omitempty"`
		}{CompletionMessage: m, RequestID: requestID})
	case nil:
		return nil, fmt.Errorf("encode: nil message")
	}
	return json.Marshal(Envelope{Type: msg.Type(), Data: msg, RequestID: requestID})
}
