package celery

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/ramiqadoumi/celery-exporter/internal/domain"
)

const (
	contentTypeJSON = "application/json"
	bodyBase64      = "base64"
)

// DeliveryInfo tells the broker where a message was published.
type DeliveryInfo struct {
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
}

// Properties are the kombu message properties.
type Properties struct {
	BodyEncoding  string       `json:"body_encoding"`
	DeliveryTag   string       `json:"delivery_tag"`
	DeliveryMode  int          `json:"delivery_mode,omitempty"`
	Priority      int          `json:"priority"`
	DeliveryInfo  DeliveryInfo `json:"delivery_info"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	ReplyTo       string       `json:"reply_to,omitempty"`
}

// Envelope is a message as kombu stores it in Redis.
type Envelope struct {
	Body            json.RawMessage `json:"body"`
	ContentEncoding string          `json:"content-encoding"`
	ContentType     string          `json:"content-type"`
	Headers         map[string]any  `json:"headers"`
	Properties      Properties      `json:"properties"`
}

// NewEnvelope JSON-encodes body and wraps it the way kombu does, base64 body
// included.
func NewEnvelope(body any, exchange, routingKey string, headers map[string]any) (*Envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, &domain.MalformedMessageError{Reason: "encode body", Err: err}
	}
	encoded, err := json.Marshal(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		return nil, &domain.MalformedMessageError{Reason: "encode body", Err: err}
	}
	if headers == nil {
		headers = map[string]any{}
	}
	return &Envelope{
		Body:            encoded,
		ContentEncoding: "utf-8",
		ContentType:     contentTypeJSON,
		Headers:         headers,
		Properties: Properties{
			BodyEncoding: bodyBase64,
			DeliveryTag:  uuid.NewString(),
			DeliveryMode: 2,
			DeliveryInfo: DeliveryInfo{Exchange: exchange, RoutingKey: routingKey},
		},
	}, nil
}

// Marshal returns the wire form of e.
func (e *Envelope) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, &domain.MalformedMessageError{Reason: "encode envelope", Err: err}
	}
	return b, nil
}

// ParseEnvelope decodes the wire form of a message.
func ParseEnvelope(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &domain.MalformedMessageError{Reason: "decode envelope", Err: err}
	}
	return &env, nil
}

// BodyBytes returns the raw body after undoing the body encoding. A body that
// is not a JSON string is returned as is.
func (e *Envelope) BodyBytes() ([]byte, error) {
	trimmed := bytes.TrimSpace(e.Body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, &domain.MalformedMessageError{Reason: "empty body"}
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, &domain.MalformedMessageError{Reason: "decode body", Err: err}
	}
	if e.Properties.BodyEncoding == bodyBase64 {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, &domain.MalformedMessageError{Reason: "decode base64 body", Err: err}
		}
		return b, nil
	}
	return []byte(s), nil
}

// DecodeBody unmarshals the JSON body into v.
func (e *Envelope) DecodeBody(v any) error {
	if ct := e.ContentType; ct != "" && !strings.HasPrefix(ct, contentTypeJSON) {
		return &domain.MalformedMessageError{Reason: "unsupported content type " + ct}
	}
	b, err := e.BodyBytes()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return &domain.MalformedMessageError{Reason: "decode body", Err: err}
	}
	return nil
}

// Header returns a string header, or "" when absent.
func (e *Envelope) Header(name string) string {
	s, _ := e.Headers[name].(string)
	return s
}
