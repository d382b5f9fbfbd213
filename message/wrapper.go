package message

import (
	"encoding/base64"
	"encoding/json"
)

// Wrapper actions and message types used by the publisher
const (
	ActionCreate              = "create"
	MessageTypeAnnotationList = "AnnotationList"
)

// Wrapper is the envelope that carries an annotation bundle on the log
type Wrapper struct {
	Action      string `json:"action"`
	MessageType string `json:"messageType"`
	Content     string `json:"content"`
}

// WrapAnnotations encodes list as the content of a create wrapper
func WrapAnnotations(list AnnotationList) (Wrapper, error) {
	body, err := json.Marshal(list)
	if err != nil {
		return Wrapper{}, err
	}
	return Wrapper{
		Action:      ActionCreate,
		MessageType: MessageTypeAnnotationList,
		Content:     base64.StdEncoding.EncodeToString(body),
	}, nil
}

// Bytes is the JSON encoding of the wrapper
func (w Wrapper) Bytes() ([]byte, error) {
	return json.Marshal(w)
}

// ContentBytes base64-decodes the content field
func (w Wrapper) ContentBytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(w.Content)
}
