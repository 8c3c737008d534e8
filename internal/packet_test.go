package internal_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-game-lobby/internal"
)

// decodeOne 解碼一個封包（測試輔助）：餵入全部位元組後要求恰好解出一個
func decodeOne(t *testing.T, data []byte) *internal.Packet {
	t.Helper()
	parser := internal.NewFrameParser()
	parser.Feed(data)
	packet, err := parser.Next()
	require.NoError(t, err)
	require.NotNil(t, packet)
	require.Equal(t, 0, parser.Buffered(), "封包之後不應殘留位元組")
	return packet
}

// TestPacket_RoundTrip 測試各種欄位組合的編碼/解碼往返
func TestPacket_RoundTrip(t *testing.T) {
	session := internal.NewSessionInfo(internal.NationDE, internal.SessionUser, internal.AccessPublic)

	tests := []struct {
		name   string
		packet *internal.Packet
	}{
		{
			name:   "no fields",
			packet: internal.NewPacket(internal.CodeListEnd),
		},
		{
			name:   "single value",
			packet: internal.NewPacket(internal.CodeClose).WithValue10(0x1234),
		},
		{
			name: "all values",
			packet: internal.NewPacket(internal.CodeJoin).
				WithValue0(1).WithValue1(2).WithValue2(3).
				WithValue3(4).WithValue4(5).WithValue10(10),
		},
		{
			name: "login",
			packet: internal.NewPacket(internal.CodeLogin).
				WithValue1(0).WithValue4(0).
				WithName("Alice").
				WithSession(session),
		},
		{
			name: "data and error",
			packet: internal.NewPacket(internal.CodeConnectGameReply).
				WithData("192.168.0.1").
				WithError(0),
		},
		{
			name:   "empty data",
			packet: internal.NewPacket(internal.CodeCreateRoom).WithValue1(0).WithValue4(0).WithData("").WithName("Arena").WithSession(session),
		},
		{
			name: "chat message",
			packet: internal.NewPacket(internal.CodeChatRoom).
				WithValue0(0x1001).WithValue3(0x1002).
				WithData("GRP:[ Alice ]  hello there"),
		},
		{
			name: "windows-1252 text",
			packet: internal.NewPacket(internal.CodeChatRoom).
				WithValue0(1).WithValue3(2).
				WithData("héllo wörld ÿ"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.packet.Encode()

			// decode(encode(packet)) == packet
			decoded := decodeOne(t, encoded)
			assert.Equal(t, tt.packet, decoded)

			// encode(decode(bytes)) == bytes
			assert.Equal(t, encoded, decoded.Encode())
		})
	}
}

// TestPacket_WireLayout 測試線路格式的精確位元組佈局
func TestPacket_WireLayout(t *testing.T) {
	t.Run("no fields is eight bytes", func(t *testing.T) {
		encoded := internal.NewPacket(internal.CodeListEnd).Encode()
		require.Len(t, encoded, 8)
		assert.Equal(t, uint32(351), binary.LittleEndian.Uint32(encoded[0:4]))
		assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(encoded[4:8]))
	})

	t.Run("data length includes terminator", func(t *testing.T) {
		encoded := internal.NewPacket(internal.CodeConnectGameReply).WithData("ab").WithError(0).Encode()
		// 代碼 4 + 遮罩 4 + 長度 4 + 資料 3（含終止符）+ 錯誤 4
		require.Len(t, encoded, 19)
		assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(encoded[8:12]))
		assert.Equal(t, byte('a'), encoded[12])
		assert.Equal(t, byte('b'), encoded[13])
		assert.Equal(t, byte(0), encoded[14])
	})

	t.Run("name is exactly twenty bytes null padded", func(t *testing.T) {
		encoded := internal.NewPacket(internal.CodeLogin).WithName("Bob").Encode()
		require.Len(t, encoded, 8+internal.NameLength)
		assert.Equal(t, []byte{'B', 'o', 'b', 0}, encoded[8:12])
		for i := 12; i < 8+internal.NameLength; i++ {
			assert.Equal(t, byte(0), encoded[i])
		}
	})

	t.Run("value10 bit position", func(t *testing.T) {
		encoded := internal.NewPacket(internal.CodeClose).WithValue10(7).Encode()
		// Value10 的遮罩位元是 1<<10，不是 1<<5
		assert.Equal(t, uint32(1<<10), binary.LittleEndian.Uint32(encoded[4:8]))
	})

	t.Run("field order is fixed", func(t *testing.T) {
		// Value10 雖然位元編號最高，線路上仍排在資料長度之前
		encoded := internal.NewPacket(internal.CodeChatRoom).
			WithValue10(0x0A0A0A0A).
			WithData("x").
			Encode()
		assert.Equal(t, uint32(0x0A0A0A0A), binary.LittleEndian.Uint32(encoded[8:12]))
		assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(encoded[12:16]))
	})
}

// TestSessionInfo 測試會話區塊的序列化
func TestSessionInfo(t *testing.T) {
	t.Run("serializes to exactly fifty bytes", func(t *testing.T) {
		session := internal.NewSessionInfo(internal.NationUK, internal.SessionRoom, internal.AccessProtected)
		encoded := internal.NewPacket(internal.CodeListItem).WithSession(session).Encode()
		assert.Len(t, encoded, 8+internal.SessionLength)
	})

	t.Run("construction constants", func(t *testing.T) {
		session := internal.NewSessionInfo(internal.NationFR, internal.SessionGame, internal.AccessPublic)
		assert.Equal(t, uint32(0x17171717), session.Unknown0)
		assert.Equal(t, uint32(0x02010101), session.Unknown4)
		assert.Equal(t, byte(49), session.GameVersion)
		assert.Equal(t, byte(49), session.GameRelease)
		assert.Equal(t, internal.SessionGame, session.Type)
		assert.Equal(t, byte(1), session.Unknown13)
	})

	t.Run("reserved tail round trips byte for byte", func(t *testing.T) {
		session := internal.NewSessionInfo(internal.NationUS, internal.SessionUser, internal.AccessPublic)
		for i := range session.Unused {
			session.Unused[i] = byte(100 + i)
		}
		packet := internal.NewPacket(internal.CodeListItem).WithSession(session)
		decoded := decodeOne(t, packet.Encode())
		assert.Equal(t, session, decoded.Session)
	})
}

// TestPacket_DecodeErrors 測試協議錯誤的偵測
func TestPacket_DecodeErrors(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected error
	}{
		{
			name: "unknown packet code",
			data: func() []byte {
				b := make([]byte, 8)
				binary.LittleEndian.PutUint32(b[0:4], 123)
				return b
			}(),
			expected: internal.ErrUnknownCode,
		},
		{
			name: "unknown field bits",
			data: func() []byte {
				b := make([]byte, 8)
				binary.LittleEndian.PutUint32(b[0:4], 600)
				binary.LittleEndian.PutUint32(b[4:8], 1<<11)
				return b
			}(),
			expected: internal.ErrUnknownField,
		},
		{
			name: "data bit without length bit",
			data: func() []byte {
				b := make([]byte, 8)
				binary.LittleEndian.PutUint32(b[0:4], 600)
				binary.LittleEndian.PutUint32(b[4:8], uint32(internal.FieldData))
				return b
			}(),
			expected: internal.ErrUnknownField,
		},
		{
			name: "oversized data length",
			data: func() []byte {
				b := make([]byte, 12)
				binary.LittleEndian.PutUint32(b[0:4], 1300)
				binary.LittleEndian.PutUint32(b[4:8], uint32(internal.FieldDataLength|internal.FieldData))
				binary.LittleEndian.PutUint32(b[8:12], internal.MaxDataLength+1)
				return b
			}(),
			expected: internal.ErrDataTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := internal.NewFrameParser()
			parser.Feed(tt.data)
			packet, err := parser.Next()
			require.Error(t, err)
			assert.Nil(t, packet)
			assert.ErrorIs(t, err, tt.expected)

			// 錯誤具黏性：解析器不可再用
			_, err = parser.Next()
			assert.Error(t, err)
		})
	}
}

// TestPacket_NameTruncation 測試超長名稱截斷到固定欄寬
func TestPacket_NameTruncation(t *testing.T) {
	longName := "abcdefghijklmnopqrstuvwxyz" // 26 字元 > 20
	encoded := internal.NewPacket(internal.CodeLogin).WithName(longName).Encode()
	require.Len(t, encoded, 8+internal.NameLength)

	decoded := decodeOne(t, encoded)
	assert.Equal(t, longName[:internal.NameLength], decoded.Name)
}
