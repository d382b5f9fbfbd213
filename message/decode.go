package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// strictUnmarshal decodes exactly one JSON value into v, rejecting unknown fields
func strictUnmarshal(data []byte, v any) bool {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return false
	}
	var extra json.RawMessage
	return errors.Is(dec.Decode(&extra), io.EOF)
}

type wireReading struct {
	SensorID  *string    `json:"id"`
	Value     *uint8     `json:"value"`
	Timestamp *time.Time `json:"timestamp"`
}

// DecodeReading accepts only {id, value, timestamp} with all three present
func DecodeReading(data []byte) (Reading, bool) {
	var w wireReading
	if !strictUnmarshal(data, &w) {
		return Reading{}, false
	}
	if w.SensorID == nil || *w.SensorID == "" || w.Value == nil || w.Timestamp == nil {
		return Reading{}, false
	}
	return Reading{SensorID: *w.SensorID, Value: *w.Value, Timestamp: w.Timestamp.UTC()}, true
}

type wireSignable struct {
	Seed      *string `json:"seed"`
	Signature *string `json:"signature"`
}

// DecodeSignable accepts only {seed, signature} with both present
func DecodeSignable(data []byte) (Signable, bool) {
	var w wireSignable
	if !strictUnmarshal(data, &w) {
		return Signable{}, false
	}
	if w.Seed == nil || w.Signature == nil {
		return Signable{}, false
	}
	return Signable{Seed: *w.Seed, Signature: *w.Signature}, true
}

type wireWrapper struct {
	Action      *string `json:"action"`
	MessageType *string `json:"messageType"`
	Content     *string `json:"content"`
}

// DecodeWrapper accepts only {action, messageType, content} with all three present
func DecodeWrapper(data []byte) (Wrapper, bool) {
	var w wireWrapper
	if !strictUnmarshal(data, &w) {
		return Wrapper{}, false
	}
	if w.Action == nil || w.MessageType == nil || w.Content == nil {
		return Wrapper{}, false
	}
	return Wrapper{Action: *w.Action, MessageType: *w.MessageType, Content: *w.Content}, true
}

type wireAnnotationList struct {
	Items *[]Annotation `json:"items"`
}

// DecodeAnnotationList accepts {items: [...]} whose items carry an id and a key.
// Kinds outside the known set decode fine and score zero. The bundle
// invariant is checked separately by AnnotationList.Validate.
func DecodeAnnotationList(data []byte) (AnnotationList, bool) {
	var w wireAnnotationList
	if !strictUnmarshal(data, &w) || w.Items == nil {
		return AnnotationList{}, false
	}
	for _, a := range *w.Items {
		if a.Key == "" || a.ID == uuid.Nil {
			return AnnotationList{}, false
		}
	}
	return AnnotationList{Items: *w.Items}, true
}
