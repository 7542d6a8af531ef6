package wire

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestEnvelopeRoundTripUpload(t *testing.T) {
	original := &Upload{
		SessionIdent:          7,
		ProgressClientVersion: 42,
		ProgressServerVersion: 10,
		Changesets: []Changeset{
			{OriginFileIdent: 1, ServerVersion: 9, ClientVersion: 41, Timestamp: -5, Data: []byte("hello")},
			{OriginFileIdent: 1, ServerVersion: 10, ClientVersion: 42, Timestamp: 6, Data: []byte("world")},
		},
	}

	encoded, err := EncodeEnvelope(original)
	assert.Equal(t, err, nil)

	decoded, err := DecodeEnvelope(encoded)
	assert.Equal(t, err, nil)

	roundTripped, ok := decoded.(*Upload)
	assert.Equal(t, ok, true)
	assert.Equal(t, roundTripped.SessionIdent, original.SessionIdent)
	assert.Equal(t, roundTripped.ProgressClientVersion, original.ProgressClientVersion)
	assert.Equal(t, roundTripped.ProgressServerVersion, original.ProgressServerVersion)
	assert.Equal(t, len(roundTripped.Changesets), 2)
	assert.Equal(t, roundTripped.Changesets[0].Data, original.Changesets[0].Data)
	assert.Equal(t, roundTripped.Changesets[1].Timestamp, original.Changesets[1].Timestamp)
}

func TestEnvelopeRoundTripDownloadWithNegativeSalt(t *testing.T) {
	original := &Download{
		SessionIdent:                        3,
		DownloadServerVersion:               100,
		DownloadLastIntegratedClientVersion: 5,
		UploadClientVersion:                 5,
		UploadLastIntegratedServerVersion:   99,
		LatestServerVersion:                 LatestServerVersion{Version: 100, Salt: -42},
		DownloadableBytes:                   1024,
		LastInBatch:                         true,
		QueryVersion:                        7,
		Changesets:                          []Changeset{{OriginFileIdent: 2, ServerVersion: 100, Data: []byte{1, 2, 3}}},
	}

	encoded, err := EncodeEnvelope(original)
	assert.Equal(t, err, nil)

	decoded, err := DecodeEnvelope(encoded)
	assert.Equal(t, err, nil)

	roundTripped := decoded.(*Download)
	assert.Equal(t, roundTripped.LatestServerVersion.Salt, int64(-42))
	assert.Equal(t, roundTripped.LastInBatch, true)
	assert.Equal(t, roundTripped.DownloadableBytes, uint64(1024))
	assert.Equal(t, len(roundTripped.Changesets), 1)
}

func TestEnvelopeRoundTripErrorWithResumptionDelay(t *testing.T) {
	original := &Error{
		SessionIdent: 9,
		RawErrorCode: -3,
		Message:      "try again later",
		TryAgain:     true,
		Action:       ErrorAction(4),
		ResumptionDelay: &ResumptionDelayInfo{
			InitialMillis: 120000,
			Multiplier:    2.0,
			CapMillis:     600000,
		},
	}

	encoded, err := EncodeEnvelope(original)
	assert.Equal(t, err, nil)

	decoded, err := DecodeEnvelope(encoded)
	assert.Equal(t, err, nil)

	roundTripped := decoded.(*Error)
	assert.Equal(t, roundTripped.Message, "try again later")
	assert.Equal(t, roundTripped.TryAgain, true)
	assert.Equal(t, roundTripped.ResumptionDelay.Multiplier, 2.0)
	assert.Equal(t, roundTripped.ResumptionDelay.CapMillis, int64(600000))
}

func TestEnvelopePingPongEchoesTimestamp(t *testing.T) {
	ping := &Ping{TimestampNanos: 1234567890}
	encoded, err := EncodeEnvelope(ping)
	assert.Equal(t, err, nil)
	decoded, err := DecodeEnvelope(encoded)
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded.(*Ping).TimestampNanos, int64(1234567890))

	pong := &Pong{TimestampNanos: ping.TimestampNanos}
	encoded, err = EncodeEnvelope(pong)
	assert.Equal(t, err, nil)
	decoded, err = DecodeEnvelope(encoded)
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded.(*Pong).TimestampNanos, ping.TimestampNanos)
}

func TestDecodeEnvelopeRejectsEmptyFrame(t *testing.T) {
	_, err := DecodeEnvelope(nil)
	assert.NotEqual(t, err, nil)
}
