package draft

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadFields(t *testing.T) {
	assert := assert.New(t)

	p := Payload{
		FieldTitle:   "Sunday service",
		FieldContent: "Join us\n\nat   ten",
		FieldMedia:   []any{"img/1.png"},
	}
	assert.Equal("Sunday service", p.Title())
	assert.Equal("Join us\n\nat   ten", p.Content())
	assert.False(p.IsEmpty())
	assert.Equal("Join us at ten", p.Preview(0))
	assert.Equal("Join...", p.Preview(4))

	assert.True(Payload{}.IsEmpty())
	assert.True(NewPayload("  ", "\n").IsEmpty())
	// non-string fields read as empty
	assert.Equal("", Payload{FieldTitle: 12}.Title())
}

func TestPayloadEqualClone(t *testing.T) {
	assert := assert.New(t)

	a := Payload{FieldTitle: "t", FieldFlags: map[string]any{"pinned": true, "draft": false}}
	b := Payload{FieldFlags: map[string]any{"draft": false, "pinned": true}, FieldTitle: "t"}
	assert.True(a.Equal(b))
	assert.False(a.Equal(NewPayload("t", "")))
	assert.True(Payload(nil).Equal(Payload{}))

	c := a.Clone()
	assert.True(a.Equal(c))
	c[FieldFlags].(map[string]any)["pinned"] = false
	assert.Equal(true, a[FieldFlags].(map[string]any)["pinned"], "clone must be deep")
}

func TestPayloadValidate(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(NewPayload("ok", "ok").Validate())
	assert.NoError(Payload{}.Validate())

	err := Payload{FieldTitle: 7}.Validate()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(FieldTitle, ve.Field)

	assert.Error(Payload{FieldContent: []int{1}}.Validate())
	assert.Error(Payload{"bad": make(chan int)}.Validate())
}

func TestPayloadScanValue(t *testing.T) {
	assert := assert.New(t)

	v, err := NewPayload("a", "b").Value()
	require.NoError(t, err)
	assert.Equal(`{"content":"b","title":"a"}`, v)

	var p Payload
	require.NoError(t, p.Scan([]byte(`{"title":"x"}`)))
	assert.Equal("x", p.Title())
	require.NoError(t, p.Scan(nil))
	assert.Empty(p)
	assert.Error(p.Scan(42))
	assert.Error(p.Scan("{not json"))
}
