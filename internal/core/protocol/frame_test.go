package protocol

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/component"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/slot"
)

func handRecord() slot.Record {
	return slot.Record{
		TemplateID: "simple_hand",
		SlotType:   "hand",
		Installed:  true,
		Components: map[string]component.Record{
			"inventory": {Kind: "inventory", Active: true, MaxStack: 64},
			"skill": {Kind: "skill", Active: true, Skills: []component.SkillState{
				{Name: "grab", Cooldown: 2},
			}},
		},
	}
}

func TestFrameRoundTrip(t *testing.T) {
	rec := handRecord()
	messages := []Message{
		&FullSnapshot{Entity: "E", Seq: 7, Slots: map[slot.ID]slot.Record{"s1": rec}},
		&IncrementalUpdate{Entity: "E", Slot: "s1", Record: &rec},
		&IncrementalUpdate{Entity: "E", Slot: "s1", Removed: true},
		&ComponentUpdate{Entity: "E", Slot: "s1", Tag: "skill", Payload: []byte("grab")},
		&ConfigPush{Name: "balance", Data: []byte(`{"speed":2}`)},
		&Ack{Entity: "E", Seq: 7, Digest: 12345},
	}
	for _, m := range messages {
		t.Run(m.Kind().String(), func(t *testing.T) {
			data, err := Encode(m)
			require.NoError(t, err)
			assert.Equal(t, byte(m.Kind()), data[4])
			assert.Equal(t, uint32(len(data)-4), binary.BigEndian.Uint32(data))

			f, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, m.Kind(), f.Kind)
			assert.Equal(t, len(data), f.Size)
			if diff := cmp.Diff(m, f.Message); diff != "" {
				t.Fatalf("decoded message differs (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLargeBodiesAreCompressed(t *testing.T) {
	slots := make(map[slot.ID]slot.Record)
	for i := range 200 {
		slots[slot.ID(fmt.Sprintf("slot-%03d", i))] = handRecord()
	}
	snap := &FullSnapshot{Entity: "E", Seq: 1, Slots: slots}

	data, err := Encode(snap)
	require.NoError(t, err)
	assert.NotZero(t, data[4]&compressedFlag)

	raw, err := bodyCodec.Marshal(snap)
	require.NoError(t, err)
	assert.Less(t, len(data), len(raw))

	f, err := Decode(data)
	require.NoError(t, err)
	if diff := cmp.Diff(snap, f.Message); diff != "" {
		t.Fatalf("decoded snapshot differs (-want +got):\n%s", diff)
	}
}

func TestEncodeRejectsOversized(t *testing.T) {
	payload := make([]byte, 5000)
	r := rand.New(rand.NewPCG(1, 2))
	for i := range payload {
		payload[i] = byte(r.UintN(256))
	}
	_, err := Encode(&ComponentUpdate{Entity: "E", Slot: "s1", Tag: "skill", Payload: payload})
	assert.ErrorIs(t, err, ErrMessageTooLarge)
	assert.Equal(t, "too_large", Reason(err))
}

func rawFrame(tag byte, body []byte) []byte {
	out := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)+1))
	out[4] = tag
	copy(out[headerSize:], body)
	return out
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", []byte{0, 0, 0}, ErrMalformedFrame},
		{"length mismatch", append(rawFrame(byte(KindAck), []byte(`{}`)), 'x'), ErrMalformedFrame},
		{"unknown kind", rawFrame(9, []byte(`{}`)), ErrUnknownKind},
		{"bad body", rawFrame(byte(KindAck), []byte(`{"seq":`)), ErrMalformedFrame},
		{"bad compression", rawFrame(byte(KindAck)|compressedFlag, []byte{0xff, 0xff, 0xff}), ErrDecompression},
		{"oversized ack", rawFrame(byte(KindAck), []byte(`{"entity":"`+strings.Repeat("x", 80)+`"}`)), ErrMessageTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDigestIsOrderIndependent(t *testing.T) {
	a := map[slot.ID]slot.Record{"a": handRecord(), "b": {TemplateID: "booster", Components: map[string]component.Record{}}}
	b := map[slot.ID]slot.Record{"b": {TemplateID: "booster", Components: map[string]component.Record{}}, "a": handRecord()}
	assert.Equal(t, Digest(a), Digest(b))
	assert.Equal(t, Digest(nil), Digest(map[slot.ID]slot.Record{}))

	changed := handRecord()
	changed.Installed = false
	b["a"] = changed
	assert.NotEqual(t, Digest(a), Digest(b))
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		err    error
		code   ErrorCode
		reason string
	}{
		{nil, ErrorCodeSuccess, "ok"},
		{fmt.Errorf("wrapped: %w", ErrRateLimited), ErrorCodeRateLimited, "rate_limited"},
		{ErrSlotNotOwned, ErrorCodeSlotNotOwned, "rejected"},
		{ErrDigestMismatch, ErrorCodeDigestMismatch, "digest_mismatch"},
		{NewProtocolError(ErrorCodeOutboxFull, "queue", nil), ErrorCodeOutboxFull, "outbox_full"},
		{fmt.Errorf("other"), ErrorCodeUnknownError, "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, GetErrorCode(tt.err))
		assert.Equal(t, tt.reason, Reason(tt.err))
	}

	wrapped := WrapError(ErrMalformedFrame, "decode").WithContext("peer", "p1")
	assert.ErrorIs(t, wrapped, ErrMalformedFrame)
	assert.Equal(t, ErrorCodeMalformedFrame, wrapped.Code)
	assert.False(t, wrapped.IsFatal())
}
