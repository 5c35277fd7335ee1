package wire

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte(""),
		[]byte("EXIT"),
		[]byte("BID 150"),
		[]byte("alice,1000"),
		{0x00, 0xff, 0x00, 0xff},
	}
	for i := 0; i < 50; i++ {
		p := make([]byte, rand.Intn(4096))
		rand.Read(p)
		payloads = append(payloads, p)
	}

	for _, payload := range payloads {
		var buf bytes.Buffer
		require.NoError(t, WriteMessage(&buf, payload))

		got, err := ReadMessage(&buf)
		require.NoError(t, err)
		require.Equal(t, payload, got)
	}
}

func TestReadPreservesBoundaries(t *testing.T) {
	// Two frames written back to back must come out as two messages, not one.
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, []byte("BID 20")))
	require.NoError(t, WriteMessage(&buf, []byte("BID 25")))

	first, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, "BID 20", string(first))

	second, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, "BID 25", string(second))
}

func TestReadCleanEOF(t *testing.T) {
	_, err := ReadMessage(bytes.NewReader(nil))
	require.ErrorIs(t, err, io.EOF)
}

func TestReadTruncatedFrame(t *testing.T) {
	// Prefix promises 10 bytes, stream delivers 3.
	data := []byte{0, 0, 0, 10, 'a', 'b', 'c'}
	_, err := ReadMessage(bytes.NewReader(data))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadTruncatedPrefix(t *testing.T) {
	_, err := ReadMessage(bytes.NewReader([]byte{0, 0}))
	require.Error(t, err)
	require.NotErrorIs(t, err, io.EOF)
}

func TestReadRejectsOversizedFrame(t *testing.T) {
	data := []byte{0xff, 0xff, 0xff, 0xff}
	_, err := ReadMessage(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestZeroLengthFrameIsValid(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, nil))
	require.Equal(t, []byte{0, 0, 0, 0}, buf.Bytes())

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.Empty(t, got)
}
