package listing

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListing_UnmarshalPrice(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  float64
	}{
		{"number", `{"price": 49.99}`, 49.99},
		{"integer", `{"price": 120}`, 120},
		{"numeric string", `{"price": "49.99"}`, 49.99},
		{"currency string", `{"price": "£1,299.00"}`, 1299},
		{"missing", `{}`, 0},
		{"null", `{"price": null}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l Listing
			require.NoError(t, json.Unmarshal([]byte(tt.input), &l))
			assert.Equal(t, tt.want, l.Price)
		})
	}
}

func TestListing_UnmarshalRejectsGarbagePrice(t *testing.T) {
	var l Listing
	err := json.Unmarshal([]byte(`{"price": "about fifty"}`), &l)
	assert.Error(t, err)
}

func TestListing_UnmarshalKeepsFields(t *testing.T) {
	var l Listing
	err := json.Unmarshal([]byte(`{"title":"Vintage Camera","description":"Works","price":49.99,"category":"Electronics"}`), &l)
	require.NoError(t, err)
	assert.Equal(t, Listing{Title: "Vintage Camera", Description: "Works", Price: 49.99, Category: "Electronics"}, l)
}

func TestListing_Clone(t *testing.T) {
	var nilListing *Listing
	assert.Nil(t, nilListing.Clone())

	orig := &Listing{Title: "a", Price: 1}
	c := orig.Clone()
	c.Title = "b"
	assert.Equal(t, "a", orig.Title)
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("boom")

	wrapped := fmt.Errorf("stage failed: %w", &ServiceError{Op: "POST /process-image", StatusCode: 502, Err: cause})
	assert.True(t, IsService(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "status: 502")

	assert.True(t, IsNotFound(&NotFoundError{Resource: "transcript", ID: "c1"}))
	assert.True(t, IsCapture(&CaptureError{Op: "microphone", Err: cause}))
	assert.True(t, IsSession(&SessionError{Op: "open"}))
	assert.Equal(t, "voice session: open", (&SessionError{Op: "open"}).Error())
}
