package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	msg, err := encode(Event{Key: "q-1", Value: map[string]int{"total": 3}})
	require.NoError(t, err)
	assert.Equal(t, []byte("q-1"), msg.Key)
	assert.JSONEq(t, `{"total":3}`, string(msg.Value))
}

func TestEncode_Unsupported(t *testing.T) {
	_, err := encode(Event{Key: "bad", Value: make(chan int)})
	assert.Error(t, err)
}
