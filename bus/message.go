package bus

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/docqa/core"
)

// Kind identifies the purpose of a Message.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindIngestionRequest
	KindIngestionResponse
	KindRetrievalRequest
	KindRetrievalResponse
	KindAnswerRequest
	KindAnswerResponse
	KindGeneralRequest
	KindGeneralResponse
	KindError
)

var kindNames = [...]string{
	KindUnknown:           "UNKNOWN",
	KindIngestionRequest:  "INGESTION_REQUEST",
	KindIngestionResponse: "INGESTION_RESPONSE",
	KindRetrievalRequest:  "RETRIEVAL_REQUEST",
	KindRetrievalResponse: "RETRIEVAL_RESPONSE",
	KindAnswerRequest:     "ANSWER_REQUEST",
	KindAnswerResponse:    "ANSWER_RESPONSE",
	KindGeneralRequest:    "GENERAL_REQUEST",
	KindGeneralResponse:   "GENERAL_RESPONSE",
	KindError:             "ERROR",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind maps an upper-snake kind name back to its Kind.
func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if i != int(KindUnknown) && n == name {
			return Kind(i), nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Response returns the response kind paired with a request kind.
// Kinds that are not requests map to KindUnknown.
func (k Kind) Response() Kind {
	switch k {
	case KindIngestionRequest:
		return KindIngestionResponse
	case KindRetrievalRequest:
		return KindRetrievalResponse
	case KindAnswerRequest:
		return KindAnswerResponse
	case KindGeneralRequest:
		return KindGeneralResponse
	default:
		return KindUnknown
	}
}

// IsRequest reports whether k starts an exchange.
func (k Kind) IsRequest() bool {
	return k.Response() != KindUnknown
}

// IsResponse reports whether k can answer a request. KindError answers any request.
func (k Kind) IsResponse() bool {
	switch k {
	case KindIngestionResponse, KindRetrievalResponse, KindAnswerResponse, KindGeneralResponse, KindError:
		return true
	default:
		return false
	}
}

// Payload is the typed body of a Message. Every payload type reports the
// kind it travels as.
type Payload interface {
	Kind() Kind
}

// IngestionRequest asks the ingestion stage to index a document.
type IngestionRequest struct {
	DocumentPath    string `json:"document_path"`
	TargetStorePath string `json:"target_store_path"`
	IndexCacheKey   string `json:"index_cache_key"`
}

// IngestionResponse reports the outcome of an ingestion.
type IngestionResponse struct {
	Success            bool   `json:"success"`
	StoreReady         bool   `json:"store_ready"`
	StorePath          string `json:"store_path"`
	DocumentsProcessed int    `json:"documents_processed"`
	Message            string `json:"message"`
}

// RetrievalRequest asks the retrieval stage for passages relevant to Query.
type RetrievalRequest struct {
	Query         string `json:"query"`
	StorePath     string `json:"store_path"`
	IndexCacheKey string `json:"index_cache_key"`
}

// RetrievalResponse carries the deduplicated passages for a query.
type RetrievalResponse struct {
	Passages     []*core.Passage `json:"passages"`
	MatchedCount int             `json:"matched_count"`
	Queries      []string        `json:"queries,omitempty"`
}

// AnswerRequest asks the answering stage to answer Query from Passages.
type AnswerRequest struct {
	Query    string          `json:"query"`
	Passages []*core.Passage `json:"passages"`
}

// AnswerResponse carries a grounded answer and the context it was built from.
type AnswerResponse struct {
	AnswerText       string `json:"answer_text"`
	FormattedContext string `json:"formatted_context"`
}

// GeneralRequest asks the general stage to answer without documents.
type GeneralRequest struct {
	Query string `json:"query"`
}

// GeneralResponse carries a general-knowledge answer.
type GeneralResponse struct {
	AnswerText string `json:"answer_text"`
}

// ErrorPayload describes a stage failure.
type ErrorPayload struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
	Trace string `json:"trace,omitempty"`
}

func (IngestionRequest) Kind() Kind  { return KindIngestionRequest }
func (IngestionResponse) Kind() Kind { return KindIngestionResponse }
func (RetrievalRequest) Kind() Kind  { return KindRetrievalRequest }
func (RetrievalResponse) Kind() Kind { return KindRetrievalResponse }
func (AnswerRequest) Kind() Kind     { return KindAnswerRequest }
func (AnswerResponse) Kind() Kind    { return KindAnswerResponse }
func (GeneralRequest) Kind() Kind    { return KindGeneralRequest }
func (GeneralResponse) Kind() Kind   { return KindGeneralResponse }
func (ErrorPayload) Kind() Kind      { return KindError }

func newPayload(k Kind) (Payload, error) {
	switch k {
	case KindIngestionRequest:
		return &IngestionRequest{}, nil
	case KindIngestionResponse:
		return &IngestionResponse{}, nil
	case KindRetrievalRequest:
		return &RetrievalRequest{}, nil
	case KindRetrievalResponse:
		return &RetrievalResponse{}, nil
	case KindAnswerRequest:
		return &AnswerRequest{}, nil
	case KindAnswerResponse:
		return &AnswerResponse{}, nil
	case KindGeneralRequest:
		return &GeneralRequest{}, nil
	case KindGeneralResponse:
		return &GeneralResponse{}, nil
	case KindError:
		return &ErrorPayload{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, k)
	}
}

// deref turns the pointer produced by newPayload back into the value form
// every constructor stores.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *IngestionRequest:
		return *v
	case *IngestionResponse:
		return *v
	case *RetrievalRequest:
		return *v
	case *RetrievalResponse:
		return *v
	case *AnswerRequest:
		return *v
	case *AnswerResponse:
		return *v
	case *GeneralRequest:
		return *v
	case *GeneralResponse:
		return *v
	case *ErrorPayload:
		return *v
	default:
		return p
	}
}

// Message is an envelope exchanged between two named stages of one session.
// Messages are values; build them with NewRequest, Reply or ErrorReply.
type Message struct {
	Sender        string
	Receiver      string
	CorrelationID string
	CreatedAt     time.Time
	Payload       Payload
	Metadata      map[string]string
}

// Kind returns the kind of the message's payload.
func (m Message) Kind() Kind {
	if m.Payload == nil {
		return KindUnknown
	}
	return m.Payload.Kind()
}

// NewCorrelationID returns a fresh, unique correlation token.
func NewCorrelationID() string {
	return uuid.NewString()
}

// NewRequest builds a request from sender to receiver. An empty
// correlationID is replaced by a fresh one.
func NewRequest(sender, receiver, correlationID string, payload Payload) Message {
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return Message{
		Sender:        sender,
		Receiver:      receiver,
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
		Payload:       payload,
	}
}

// Reply builds the response to req: sender and receiver are swapped and the
// correlation id is copied.
func Reply(req Message, payload Payload) Message {
	return Message{
		Sender:        req.Receiver,
		Receiver:      req.Sender,
		CorrelationID: req.CorrelationID,
		CreatedAt:     time.Now(),
		Payload:       payload,
		Metadata:      maps.Clone(req.Metadata),
	}
}

// MetadataDeadline is the metadata key carrying the time after which the
// requester stops waiting, in RFC 3339 form with nanoseconds.
const MetadataDeadline = "deadline"

// WithDeadline returns a copy of m whose metadata carries d.
func (m Message) WithDeadline(d time.Time) Message {
	md := maps.Clone(m.Metadata)
	if md == nil {
		md = make(map[string]string, 1)
	}
	md[MetadataDeadline] = d.UTC().Format(time.RFC3339Nano)
	m.Metadata = md
	return m
}

// Deadline reports the deadline stamped by WithDeadline. Missing or
// malformed values report false.
func (m Message) Deadline() (time.Time, bool) {
	raw, ok := m.Metadata[MetadataDeadline]
	if !ok {
		return time.Time{}, false
	}
	d, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// ErrorReply builds an ERROR response to req on behalf of stage.
func ErrorReply(req Message, stage string, err error, trace string) Message {
	desc := "unknown error"
	if err != nil {
		desc = err.Error()
	}
	return Reply(req, ErrorPayload{Stage: stage, Error: desc, Trace: trace})
}

type wireMessage struct {
	Sender        string            `json:"sender"`
	Receiver      string            `json:"receiver"`
	Kind          Kind              `json:"kind"`
	CorrelationID string            `json:"correlation_id"`
	CreatedAt     time.Time         `json:"created_at"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// MarshalJSON renders the message with its kind as an upper-snake name.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		Sender:        m.Sender,
		Receiver:      m.Receiver,
		Kind:          m.Kind(),
		CorrelationID: m.CorrelationID,
		CreatedAt:     m.CreatedAt,
		Metadata:      m.Metadata,
	}
	if m.Payload != nil {
		raw, err := json.Marshal(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", m.Kind(), err)
		}
		w.Payload = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a message, choosing the payload type from its kind.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p, err := newPayload(w.Kind)
	if err != nil {
		return err
	}
	if len(w.Payload) > 0 {
		if err := json.Unmarshal(w.Payload, p); err != nil {
			return fmt.Errorf("failed to unmarshal %s payload: %w", w.Kind, err)
		}
	}
	*m = Message{
		Sender:        w.Sender,
		Receiver:      w.Receiver,
		CorrelationID: w.CorrelationID,
		CreatedAt:     w.CreatedAt,
		Payload:       deref(p),
		Metadata:      w.Metadata,
	}
	return nil
}

// String renders the message as "sender → receiver: KIND".
func (m Message) String() string {
	return fmt.Sprintf("%s → %s: %s", m.Sender, m.Receiver, m.Kind())
}
