package protocol

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/kenshi-mp/internal/entity"
	"github.com/annel0/kenshi-mp/internal/tick"
	"github.com/annel0/kenshi-mp/internal/vec"
)

func TestCodecSmallMessageUncompressed(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)
	defer codec.Close()

	frame, err := codec.EncodePayload(MsgTickAck, &TickAck{ClientID: "c1", TickID: 42})
	require.NoError(t, err)
	assert.Equal(t, frameRaw, frame[0])

	msg, err := codec.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, MsgTickAck, msg.Type)

	var ack TickAck
	require.NoError(t, msg.DecodePayload(&ack))
	assert.Equal(t, "c1", ack.ClientID)
	assert.Equal(t, uint64(42), ack.TickID)
}

func TestCodecLargeMessageCompressed(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)
	defer codec.Close()

	// Полный тик с десятками сущностей заведомо превышает порог сжатия
	wt := tick.NewWorldTick(60, "session-1", tick.DefaultSnapshotInterval)
	for i := 0; i < 50; i++ {
		e := entity.NewEntityState(fmt.Sprintf("npc-%d", i), entity.TypeNPC)
		e.Position = vec.Vec3{X: float64(i), Y: 0, Z: float64(-i)}
		wt.AddEntity(e)
	}
	wt.ComputeHash()

	frame, err := codec.EncodePayload(MsgWorldTick, wt)
	require.NoError(t, err)
	assert.Equal(t, frameZstd, frame[0])

	msg, err := codec.Decode(frame)
	require.NoError(t, err)
	require.Equal(t, MsgWorldTick, msg.Type)

	var restored tick.WorldTick
	require.NoError(t, msg.DecodePayload(&restored))
	assert.Equal(t, wt.TickID, restored.TickID)
	assert.Equal(t, wt.Hash, restored.Hash)
	assert.Len(t, restored.Entities, 50)
	assert.True(t, restored.IsFullSnapshot)
}

func TestCodecRejectsGarbage(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)
	defer codec.Close()

	_, err = codec.Decode([]byte{})
	assert.Error(t, err)

	_, err = codec.Decode([]byte{0x7f, 0x01, 0x02})
	assert.Error(t, err)

	_, err = codec.Decode([]byte{frameZstd, 0xde, 0xad, 0xbe, 0xef})
	assert.Error(t, err)
}
