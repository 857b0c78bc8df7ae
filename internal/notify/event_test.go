package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FromAttributes(t *testing.T) {
	t.Parallel()

	ev, err := Parse(map[string]string{
		"eventType": "OBJECT_FINALIZE",
		"bucketId":  "raw-docs",
		"objectId":  "example.com_a_b.html",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, Event{Bucket: "raw-docs", Key: "example.com_a_b.html"}, ev)
}

func TestParse_FromBody(t *testing.T) {
	t.Parallel()

	ev, err := Parse(nil, []byte(`{"bucket":"raw-docs","name":"example.com_doc.html"}`))
	require.NoError(t, err)
	assert.Equal(t, Event{Bucket: "raw-docs", Key: "example.com_doc.html"}, ev)
}

func TestParse_DecodesObjectKey(t *testing.T) {
	t.Parallel()

	ev, err := Parse(map[string]string{
		"eventType": "OBJECT_FINALIZE",
		"objectId":  "example.com_some%2Bdoc+v2.html",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "example.com_some+doc v2.html", ev.Key)
}

func TestParse_IgnoresNonFinalizeEvents(t *testing.T) {
	t.Parallel()

	_, err := Parse(map[string]string{
		"eventType": "OBJECT_DELETE",
		"objectId":  "gone.html",
	}, nil)
	require.ErrorIs(t, err, ErrIgnore)
}

func TestParse_MalformedNotification(t *testing.T) {
	t.Parallel()

	_, err := Parse(nil, []byte("not json"))
	require.Error(t, err)

	_, err = Parse(nil, []byte(`{"bucket":"b"}`))
	require.Error(t, err)

	_, err = Parse(map[string]string{"objectId": "bad%zz"}, nil)
	require.Error(t, err)
}
