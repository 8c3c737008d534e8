package internal

import (
	"encoding/binary"
	"fmt"
)

// SessionLength 會話區塊在線路上的固定長度（位元組）
const SessionLength = 50

// SessionType 會話描述的實體種類
type SessionType byte

const (
	SessionRoom SessionType = 1
	SessionGame SessionType = 4
	SessionUser SessionType = 5
)

// SessionAccess 會話的存取等級
type SessionAccess byte

const (
	AccessPublic    SessionAccess = 1
	AccessProtected SessionAccess = 2
)

// SessionInfo 描述房間/遊戲/使用者的 50 位元組固定記錄，內嵌於多數封包。
//
// 只有少數欄位的意義已知；其餘為保留位元組，轉發時必須逐位元組保留，
// 但自行建構時可以補零。Unknown 欄位的預設值為對端觀察所得的常數，
// 不要推斷其語意。
type SessionInfo struct {
	Unknown0    uint32
	Unknown4    uint32
	Nation      Nation
	GameVersion byte
	GameRelease byte
	Type        SessionType
	Access      SessionAccess
	Unknown13   byte
	Unknown14   byte

	// Unused 保留的尾端 35 位元組（偏移 15-49），逐位元組往返
	Unused [35]byte
}

// NewSessionInfo 以對端預期的常數建構會話記錄
func NewSessionInfo(nation Nation, sessionType SessionType, access SessionAccess) SessionInfo {
	return SessionInfo{
		Unknown0:    0x17171717,
		Unknown4:    0x02010101,
		Nation:      nation,
		GameVersion: 49,
		GameRelease: 49,
		Type:        sessionType,
		Access:      access,
		Unknown13:   1,
	}
}

// marshal 將會話記錄寫入 dst（長度必須至少 SessionLength）
func (s *SessionInfo) marshal(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], s.Unknown0)
	binary.LittleEndian.PutUint32(dst[4:8], s.Unknown4)
	dst[8] = byte(s.Nation)
	dst[9] = s.GameVersion
	dst[10] = s.GameRelease
	dst[11] = byte(s.Type)
	dst[12] = byte(s.Access)
	dst[13] = s.Unknown13
	dst[14] = s.Unknown14
	copy(dst[15:SessionLength], s.Unused[:])
}

// unmarshal 從 src 讀出會話記錄（長度必須至少 SessionLength）
func (s *SessionInfo) unmarshal(src []byte) {
	s.Unknown0 = binary.LittleEndian.Uint32(src[0:4])
	s.Unknown4 = binary.LittleEndian.Uint32(src[4:8])
	s.Nation = Nation(src[8])
	s.GameVersion = src[9]
	s.GameRelease = src[10]
	s.Type = SessionType(src[11])
	s.Access = SessionAccess(src[12])
	s.Unknown13 = src[13]
	s.Unknown14 = src[14]
	copy(s.Unused[:], src[15:SessionLength])
}

// String 實現 fmt.Stringer
func (s SessionInfo) String() string {
	return fmt.Sprintf("%08X-%08X %d %d/%d %d/%d/%02X/%02X",
		s.Unknown0, s.Unknown4, s.Nation, s.GameVersion, s.GameRelease,
		s.Type, s.Access, s.Unknown13, s.Unknown14)
}

// Nation 會話中攜帶的國旗代碼，名稱採 ISO 3166 Alpha-2 表示法
type Nation byte

const (
	NationNone Nation = iota
	NationUK
	NationAR
	NationAU
	NationAT
	NationBE
	NationBR
	NationCA
	NationHR
	NationBA
	NationCY
	NationCZ
	NationDK
	NationFI
	NationFR
	NationGE
	NationDE
	NationGR
	NationHK
	NationHU
	NationIS
	NationIN
	NationID
	NationIR
	NationIQ
	NationIE
	NationIL
	NationIT
	NationJP
	NationLI
	NationLU
	NationMY
	NationMT
	NationMX
	NationMA
	NationNL
	NationNZ
	NationNO
	NationPL
	NationPT
	NationPR
	NationRO
	NationRU
	NationSG
	NationZA
	NationES
	NationSE
	NationCH
	NationTR
	NationUS
)
