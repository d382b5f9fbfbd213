package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestDecodeReading(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	valid := mustJSON(t, Reading{SensorID: "Flow_Sensor_1", Value: 190, Timestamp: ts})

	r, ok := DecodeReading(valid)
	require.True(t, ok)
	assert.Equal(t, "Flow_Sensor_1", r.SensorID)
	assert.EqualValues(t, 190, r.Value)
	assert.True(t, ts.Equal(r.Timestamp))

	tests := []struct {
		name string
		raw  string
	}{
		{"missing value", `{"id":"S1","timestamp":"2024-03-01T12:00:00Z"}`},
		{"missing id", `{"value":1,"timestamp":"2024-03-01T12:00:00Z"}`},
		{"empty id", `{"id":"","value":1,"timestamp":"2024-03-01T12:00:00Z"}`},
		{"missing timestamp", `{"id":"S1","value":1}`},
		{"value overflow", `{"id":"S1","value":300,"timestamp":"2024-03-01T12:00:00Z"}`},
		{"extra field", `{"id":"S1","value":1,"timestamp":"2024-03-01T12:00:00Z","seed":"x"}`},
		{"trailing data", `{"id":"S1","value":1,"timestamp":"2024-03-01T12:00:00Z"}{}`},
		{"signable", `{"seed":"{}","signature":"00"}`},
		{"not json", `hello`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := DecodeReading([]byte(tt.raw))
			assert.False(t, ok)
		})
	}
}

func TestDecodeSignable(t *testing.T) {
	s, ok := DecodeSignable([]byte(`{"seed":"{\"id\":\"S1\"}","signature":"abcd"}`))
	require.True(t, ok)
	assert.Equal(t, `{"id":"S1"}`, s.Seed)
	assert.Equal(t, "abcd", s.Signature)

	_, ok = DecodeSignable([]byte(`{"seed":"x"}`))
	assert.False(t, ok, "signature is required")

	_, ok = DecodeSignable([]byte(`{"id":"S1","value":1,"timestamp":"2024-03-01T12:00:00Z"}`))
	assert.False(t, ok, "a bare reading is not a signable")
}

func TestWrapAndDecodeAnnotations(t *testing.T) {
	a := NewAnnotation("k1", HashSHA256, "host-a", KindThreshold, true)
	a.Signature = "sig"
	b := NewAnnotation("k1", HashSHA256, "host-a", KindSource, false)
	list := AnnotationList{Items: []Annotation{a, b}}

	w, err := WrapAnnotations(list)
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, w.Action)
	assert.Equal(t, MessageTypeAnnotationList, w.MessageType)

	raw, err := w.Bytes()
	require.NoError(t, err)

	_, isReading := DecodeReading(raw)
	assert.False(t, isReading)

	decoded, ok := DecodeWrapper(raw)
	require.True(t, ok)

	content, err := decoded.ContentBytes()
	require.NoError(t, err)

	got, ok := DecodeAnnotationList(content)
	require.True(t, ok)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "k1", got.Key())
	assert.Equal(t, a.ID, got.Items[0].ID)
	assert.Equal(t, "sig", got.Items[0].Signature)
	assert.True(t, got.Items[0].IsSatisfied)
	assert.NoError(t, got.Validate())
}

func TestDecodeAnnotationList_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no items field", `{}`},
		{"unknown field", `{"items":[],"extra":1}`},
		{"missing key", `{"items":[{"id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8","kind":"threshold"}]}`},
		{"missing id", `{"items":[{"key":"k","kind":"threshold"}]}`},
		{"unknown annotation field", `{"items":[{"id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8","key":"k","tag":"x"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := DecodeAnnotationList([]byte(tt.raw))
			assert.False(t, ok)
		})
	}

	empty, ok := DecodeAnnotationList([]byte(`{"items":[]}`))
	require.True(t, ok, "empty list decodes; the invariant check rejects it")
	assert.Error(t, empty.Validate())
}

func TestAnnotationList_Validate(t *testing.T) {
	a := NewAnnotation("k1", HashSHA256, "h", KindThreshold, true)
	b := NewAnnotation("k2", HashSHA256, "h", KindThreshold, true)

	assert.NoError(t, AnnotationList{Items: []Annotation{a}}.Validate())
	assert.Error(t, AnnotationList{Items: []Annotation{a, b}}.Validate())
	assert.Error(t, AnnotationList{}.Validate())
	assert.Equal(t, "", AnnotationList{}.Key())
}

func TestAnnotation_SigningBytesIgnoresSignature(t *testing.T) {
	a := NewAnnotation("k1", HashSHA256, "h", KindPKI, true)
	unsigned, err := a.SigningBytes()
	require.NoError(t, err)

	a.Signature = "deadbeef"
	signed, err := a.SigningBytes()
	require.NoError(t, err)

	assert.Equal(t, unsigned, signed)
	assert.Contains(t, string(signed), `"signature":""`)
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("checksum")
	assert.Error(t, err)
}
