package internal

import (
	"bytes"
	"encoding/binary"
	"errors"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// 協議錯誤：分幀在這些錯誤之後不可信任，連線必須整個斷開
var (
	// ErrUnknownCode 封包代碼不在已知集合內
	ErrUnknownCode = errors.New("未知的封包代碼")
	// ErrUnknownField 欄位遮罩含有未定義的位元
	ErrUnknownField = errors.New("欄位遮罩含未知位元")
	// ErrDataTooLong 宣告的資料長度超過上限
	ErrDataTooLong = errors.New("資料長度超過上限")
)

// 文字欄位使用 Windows-1252 單位元組編碼。
// 編碼端以替換字元處理無法對應的符文，使編碼永不失敗；
// 解碼端每個位元組都有對應，同樣不會失敗。
var (
	win1252Encoder = encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder())
	win1252Decoder = charmap.Windows1252.NewDecoder()
)

// encodeText 將字串轉為 Windows-1252 位元組
func encodeText(s string) []byte {
	b, err := win1252Encoder.Bytes([]byte(s))
	if err != nil {
		// ReplaceUnsupported 下不會發生；保底退回原始位元組
		return []byte(s)
	}
	return b
}

// decodeText 將 Windows-1252 位元組轉為字串，截斷於第一個零位元組
func decodeText(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	s, err := win1252Decoder.Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

// Encode 將封包序列化為線路位元組。
//
// 欄位一律以固定順序寫出：代碼、遮罩、Value0-4、Value10、資料長度、
// 資料、錯誤碼、名稱、會話；缺席欄位不佔任何位元組。對範圍內的資料
// 編碼是全函數，不會失敗。
func (p *Packet) Encode() []byte {
	var data []byte
	if p.Has(FieldData) {
		// 宣告長度含零終止符
		data = append(encodeText(p.Data), 0)
	}

	buf := make([]byte, 0, 8+SessionLength+NameLength+len(data)+7*4)
	buf = appendInt32(buf, int32(p.Code))
	buf = appendInt32(buf, int32(p.Fields))
	if p.Has(FieldValue0) {
		buf = appendInt32(buf, p.Value0)
	}
	if p.Has(FieldValue1) {
		buf = appendInt32(buf, p.Value1)
	}
	if p.Has(FieldValue2) {
		buf = appendInt32(buf, p.Value2)
	}
	if p.Has(FieldValue3) {
		buf = appendInt32(buf, p.Value3)
	}
	if p.Has(FieldValue4) {
		buf = appendInt32(buf, p.Value4)
	}
	if p.Has(FieldValue10) {
		buf = appendInt32(buf, p.Value10)
	}
	if p.Has(FieldDataLength) {
		buf = appendInt32(buf, int32(len(data)))
	}
	if p.Has(FieldData) {
		buf = append(buf, data...)
	}
	if p.Has(FieldError) {
		buf = appendInt32(buf, p.Error)
	}
	if p.Has(FieldName) {
		name := make([]byte, NameLength)
		copy(name, encodeText(p.Name))
		buf = append(buf, name...)
	}
	if p.Has(FieldSession) {
		session := make([]byte, SessionLength)
		p.Session.marshal(session)
		buf = append(buf, session...)
	}
	return buf
}

func appendInt32(buf []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(buf, uint32(v))
}
