package internal

import (
	"fmt"
	"strings"
)

// 系統設計問題：
//   如何在 Go 中表達一個「長度隱含」的二進位封包？封包沒有總長度前綴，
//   哪些欄位存在完全由欄位遮罩（bitmask）決定。
//
// 核心挑戰：
//   1. 稀疏欄位：十一個可選欄位，任意組合出現
//   2. 線路相容：欄位位元編號有空隙（0-4、10 之間跳過），對端依賴精確位元位置
//   3. 順序固定：無論遮罩為何，欄位一律以固定順序編碼
//
// 設計方案：
//   ✅ 遮罩 + 平面欄位 - 存在性由 Fields 位元表示，不用指標欄位
//   ✅ With* 建構器 - 設值同時設定對應位元，避免遮罩與欄位不同步
//   ✅ 固定欄位順序表 - 編碼與解碼共用同一份順序定義

// PacketCode 封包代碼，決定封包的語意與合法欄位組合。
//
// 代碼以用戶端視角命名（因此 "Reply" 由伺服器發出）。
type PacketCode int32

const (
	CodeListRooms        PacketCode = 200
	CodeListItem         PacketCode = 350
	CodeListEnd          PacketCode = 351
	CodeListUsers        PacketCode = 400
	CodeListGames        PacketCode = 500
	CodeLogin            PacketCode = 600
	CodeLoginReply       PacketCode = 601
	CodeCreateRoom       PacketCode = 700
	CodeCreateRoomReply  PacketCode = 701
	CodeJoin             PacketCode = 800
	CodeJoinReply        PacketCode = 801
	CodeLeave            PacketCode = 900
	CodeLeaveReply       PacketCode = 901
	CodeDisconnectUser   PacketCode = 1000
	CodeClose            PacketCode = 1100
	CodeCloseReply       PacketCode = 1101
	CodeCreateGame       PacketCode = 1200
	CodeCreateGameReply  PacketCode = 1201
	CodeChatRoom         PacketCode = 1300
	CodeChatRoomReply    PacketCode = 1301
	CodeConnectGame      PacketCode = 1326
	CodeConnectGameReply PacketCode = 1327
)

// packetCodeNames 封包代碼的顯示名稱（日誌與監控用）
var packetCodeNames = map[PacketCode]string{
	CodeListRooms:        "ListRooms",
	CodeListItem:         "ListItem",
	CodeListEnd:          "ListEnd",
	CodeListUsers:        "ListUsers",
	CodeListGames:        "ListGames",
	CodeLogin:            "Login",
	CodeLoginReply:       "LoginReply",
	CodeCreateRoom:       "CreateRoom",
	CodeCreateRoomReply:  "CreateRoomReply",
	CodeJoin:             "Join",
	CodeJoinReply:        "JoinReply",
	CodeLeave:            "Leave",
	CodeLeaveReply:       "LeaveReply",
	CodeDisconnectUser:   "DisconnectUser",
	CodeClose:            "Close",
	CodeCloseReply:       "CloseReply",
	CodeCreateGame:       "CreateGame",
	CodeCreateGameReply:  "CreateGameReply",
	CodeChatRoom:         "ChatRoom",
	CodeChatRoomReply:    "ChatRoomReply",
	CodeConnectGame:      "ConnectGame",
	CodeConnectGameReply: "ConnectGameReply",
}

// Valid 回報代碼是否為已知值。未知代碼表示流的分幀已不可信任。
func (c PacketCode) Valid() bool {
	_, ok := packetCodeNames[c]
	return ok
}

// String 實現 fmt.Stringer
func (c PacketCode) String() string {
	if name, ok := packetCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("PacketCode(%d)", int32(c))
}

// PacketField 欄位遮罩，位元 i 表示對應欄位存在。
//
// 位元編號有空隙：Value 欄位佔 0-4 與 10，資料長度/資料/錯誤/名稱/會話
// 佔 5-9。空隙是線路格式的一部分，對端依賴精確的位元位置。
type PacketField int32

const (
	FieldValue0     PacketField = 1 << 0
	FieldValue1     PacketField = 1 << 1
	FieldValue2     PacketField = 1 << 2
	FieldValue3     PacketField = 1 << 3
	FieldValue4     PacketField = 1 << 4
	FieldDataLength PacketField = 1 << 5
	FieldData       PacketField = 1 << 6
	FieldError      PacketField = 1 << 7
	FieldName       PacketField = 1 << 8
	FieldSession    PacketField = 1 << 9
	FieldValue10    PacketField = 1 << 10

	// fieldAll 所有已知位元；遮罩出現其他位元即為協議錯誤
	fieldAll = FieldValue0 | FieldValue1 | FieldValue2 | FieldValue3 |
		FieldValue4 | FieldDataLength | FieldData | FieldError |
		FieldName | FieldSession | FieldValue10
)

const (
	// MaxDataLength 資料欄位上限（位元組，含終止符）；超過即為協議錯誤
	MaxDataLength = 4096
	// NameLength 名稱欄位固定長度（位元組，不足補零）
	NameLength = 20
)

// Packet 用戶端與伺服器之間的一個通訊單位。
//
// 欄位存在性由 Fields 遮罩表示，而非指標：這與線路格式一一對應，
// 也讓處理器能以 Has 檢查前置條件。封包只在一次收發期間存活。
type Packet struct {
	Code   PacketCode
	Fields PacketField

	Value0  int32
	Value1  int32
	Value2  int32
	Value3  int32
	Value4  int32
	Value10 int32

	// Data 文字參數（線路上為 Windows-1252、以零終止）
	Data string
	// Error 伺服器執行動作後回傳的錯誤碼
	Error int32
	// Name 名稱參數（線路上固定 20 位元組）
	Name string
	// Session 描述房間/遊戲/使用者的會話資訊
	Session SessionInfo
}

// NewPacket 建立指定代碼的封包，欄位以 With* 鏈式設定
func NewPacket(code PacketCode) *Packet {
	return &Packet{Code: code}
}

// Has 回報欄位是否存在
func (p *Packet) Has(field PacketField) bool {
	return p.Fields&field == field
}

// WithValue0 設定 Value0 欄位
func (p *Packet) WithValue0(v int32) *Packet {
	p.Value0 = v
	p.Fields |= FieldValue0
	return p
}

// WithValue1 設定 Value1 欄位
func (p *Packet) WithValue1(v int32) *Packet {
	p.Value1 = v
	p.Fields |= FieldValue1
	return p
}

// WithValue2 設定 Value2 欄位
func (p *Packet) WithValue2(v int32) *Packet {
	p.Value2 = v
	p.Fields |= FieldValue2
	return p
}

// WithValue3 設定 Value3 欄位
func (p *Packet) WithValue3(v int32) *Packet {
	p.Value3 = v
	p.Fields |= FieldValue3
	return p
}

// WithValue4 設定 Value4 欄位
func (p *Packet) WithValue4(v int32) *Packet {
	p.Value4 = v
	p.Fields |= FieldValue4
	return p
}

// WithValue10 設定 Value10 欄位
func (p *Packet) WithValue10(v int32) *Packet {
	p.Value10 = v
	p.Fields |= FieldValue10
	return p
}

// WithData 設定資料欄位。長度與資料位元一律成對出現。
func (p *Packet) WithData(data string) *Packet {
	p.Data = data
	p.Fields |= FieldDataLength | FieldData
	return p
}

// WithError 設定錯誤碼欄位
func (p *Packet) WithError(code int32) *Packet {
	p.Error = code
	p.Fields |= FieldError
	return p
}

// WithName 設定名稱欄位
func (p *Packet) WithName(name string) *Packet {
	p.Name = name
	p.Fields |= FieldName
	return p
}

// WithSession 設定會話欄位
func (p *Packet) WithSession(session SessionInfo) *Packet {
	p.Session = session
	p.Fields |= FieldSession
	return p
}

// String 以多行格式傾印封包內容（日誌與除錯代理用）
func (p *Packet) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d %s", int32(p.Code), p.Code)
	if p.Has(FieldValue0) {
		fmt.Fprintf(&sb, "\n   Value0: %08X", p.Value0)
	}
	if p.Has(FieldValue1) {
		fmt.Fprintf(&sb, "\n   Value1: %08X", p.Value1)
	}
	if p.Has(FieldValue2) {
		fmt.Fprintf(&sb, "\n   Value2: %08X", p.Value2)
	}
	if p.Has(FieldValue3) {
		fmt.Fprintf(&sb, "\n   Value3: %08X", p.Value3)
	}
	if p.Has(FieldValue4) {
		fmt.Fprintf(&sb, "\n   Value4: %08X", p.Value4)
	}
	if p.Has(FieldValue10) {
		fmt.Fprintf(&sb, "\n  Value10: %08X", p.Value10)
	}
	if p.Has(FieldData) {
		fmt.Fprintf(&sb, "\n     Data: %s", p.Data)
	}
	if p.Has(FieldError) {
		fmt.Fprintf(&sb, "\n    Error: %08X", p.Error)
	}
	if p.Has(FieldName) {
		fmt.Fprintf(&sb, "\n     Name: %s", p.Name)
	}
	if p.Has(FieldSession) {
		fmt.Fprintf(&sb, "\n  Session: %s", p.Session)
	}
	return sb.String()
}
