package internal

import (
	"encoding/binary"
	"fmt"
)

// 系統設計問題：
//   TCP 是位元組流，沒有訊息邊界：一個封包可能分散在多次讀取中，
//   一次讀取也可能帶著多個封包。封包又沒有總長度前綴，必須逐欄位
//   解析到哪裡算哪裡。如何在資料不足時安全地暫停、之後無縫續解？
//
// 核心挑戰：
//   1. 可續性：任何欄位邊界都可能剛好缺位元組，下次進入要從同一欄位重試
//   2. 不重複消費：已提交的欄位不能重讀，未完成的欄位不能吃掉半截
//   3. 錯誤分類：未知代碼/遮罩/超長資料是致命協議錯誤，資料不足不是錯誤
//
// 設計方案：
//   ✅ 顯式步驟列舉 - 「最後完成的欄位」就是自動機狀態
//   ✅ 整欄位提交 - 位移只在欄位完整解出後前進
//   ✅ nil,nil 表示待輸入 - 與致命錯誤在型別上就分開

// parseStep 解析步驟，依線路上的固定欄位順序排列
type parseStep int

const (
	stepCode parseStep = iota
	stepFields
	stepValue0
	stepValue1
	stepValue2
	stepValue3
	stepValue4
	stepValue10
	stepDataLength
	stepData
	stepError
	stepName
	stepSession
	stepDone
)

// stepField 各步驟對應的遮罩位元；代碼與遮罩本身無條件執行
var stepField = map[parseStep]PacketField{
	stepValue0:     FieldValue0,
	stepValue1:     FieldValue1,
	stepValue2:     FieldValue2,
	stepValue3:     FieldValue3,
	stepValue4:     FieldValue4,
	stepValue10:    FieldValue10,
	stepDataLength: FieldDataLength,
	stepData:       FieldData,
	stepError:      FieldError,
	stepName:       FieldName,
	stepSession:    FieldSession,
}

// FrameParser 可續解析自動機：從任意切割的位元組流中逐一還原封包。
//
// 呼叫者以 Feed 餵入收到的位元組，再以 Next 嘗試取出一個封包。
// Next 回傳 (nil, nil) 表示目前緩衝的位元組不足以完成下一個欄位，
// 純粹需要更多輸入；回傳錯誤則表示流的分幀已不可信任，不可再用。
type FrameParser struct {
	buf  []byte    // 已餵入但尚未消費的位元組
	pos  int       // 已提交的位移，只在整個欄位解出後前進
	step parseStep // 下一個尚未完成的步驟

	packet  Packet
	dataLen int32
	err     error // 黏性錯誤：一旦設定，解析器不可再用
}

// NewFrameParser 建立解析器
func NewFrameParser() *FrameParser {
	return &FrameParser{}
}

// Feed 餵入一段剛從流上讀到的位元組，長度與切割方式不拘
func (p *FrameParser) Feed(b []byte) {
	p.buf = append(p.buf, b...)
}

// Buffered 回報尚未消費的位元組數（測試與診斷用）
func (p *FrameParser) Buffered() int {
	return len(p.buf) - p.pos
}

// Next 嘗試解出一個完整封包。
//
// 回傳值三態：(packet, nil) 解出一個封包並重置以接收下一個；
// (nil, nil) 資料不足，先 Feed 再試；(nil, err) 致命協議錯誤。
// 錯誤具黏性：一旦失敗，之後的呼叫都回傳同一類錯誤。
func (p *FrameParser) Next() (*Packet, error) {
	if p.err != nil {
		return nil, p.err
	}

	for p.step < stepDone {
		advanced, err := p.advance()
		if err != nil {
			p.err = err
			return nil, err
		}
		if !advanced {
			// 資料不足：位移停留在最後一個完整欄位之後
			return nil, nil
		}
	}

	// 封包完成：交出結果、丟棄已消費位元組、重置自動機
	packet := p.packet
	p.buf = append(p.buf[:0], p.buf[p.pos:]...)
	p.pos = 0
	p.step = stepCode
	p.packet = Packet{}
	p.dataLen = 0
	return &packet, nil
}

// advance 嘗試完成目前步驟。
// 回傳 false 表示位元組不足（不是錯誤）；成功時提交位移並前進一步。
func (p *FrameParser) advance() (bool, error) {
	// 步驟對應的欄位缺席時直接跳過，不消費任何位元組
	if field, conditional := stepField[p.step]; conditional && !p.packet.Has(field) {
		p.step++
		return true, nil
	}

	switch p.step {
	case stepCode:
		v, ok := p.takeInt32()
		if !ok {
			return false, nil
		}
		code := PacketCode(v)
		if !code.Valid() {
			return false, fmt.Errorf("%w: %d", ErrUnknownCode, v)
		}
		p.packet.Code = code

	case stepFields:
		v, ok := p.takeInt32()
		if !ok {
			return false, nil
		}
		fields := PacketField(v)
		if fields&^fieldAll != 0 {
			return false, fmt.Errorf("%w: %08X", ErrUnknownField, v)
		}
		if fields.has(FieldData) && !fields.has(FieldDataLength) {
			return false, fmt.Errorf("資料欄位缺少長度欄位: %w", ErrUnknownField)
		}
		p.packet.Fields = fields

	case stepValue0:
		return p.takeValue(&p.packet.Value0)
	case stepValue1:
		return p.takeValue(&p.packet.Value1)
	case stepValue2:
		return p.takeValue(&p.packet.Value2)
	case stepValue3:
		return p.takeValue(&p.packet.Value3)
	case stepValue4:
		return p.takeValue(&p.packet.Value4)
	case stepValue10:
		return p.takeValue(&p.packet.Value10)

	case stepDataLength:
		v, ok := p.takeInt32()
		if !ok {
			return false, nil
		}
		if v < 0 || v > MaxDataLength {
			return false, fmt.Errorf("%w: %d > %d", ErrDataTooLong, v, MaxDataLength)
		}
		p.dataLen = v

	case stepData:
		b, ok := p.takeBytes(int(p.dataLen))
		if !ok {
			return false, nil
		}
		p.packet.Data = decodeText(b)

	case stepError:
		return p.takeValue(&p.packet.Error)

	case stepName:
		b, ok := p.takeBytes(NameLength)
		if !ok {
			return false, nil
		}
		p.packet.Name = decodeText(b)

	case stepSession:
		b, ok := p.takeBytes(SessionLength)
		if !ok {
			return false, nil
		}
		p.packet.Session.unmarshal(b)
	}

	p.step++
	return true, nil
}

// takeValue 解出一個 int32 欄位並前進一步
func (p *FrameParser) takeValue(dst *int32) (bool, error) {
	v, ok := p.takeInt32()
	if !ok {
		return false, nil
	}
	*dst = v
	p.step++
	return true, nil
}

// takeInt32 嘗試消費 4 位元組的小端整數；不足時不動位移
func (p *FrameParser) takeInt32() (int32, bool) {
	if len(p.buf)-p.pos < 4 {
		return 0, false
	}
	v := int32(binary.LittleEndian.Uint32(p.buf[p.pos:]))
	p.pos += 4
	return v, true
}

// takeBytes 嘗試消費 n 個位元組；不足時不動位移
func (p *FrameParser) takeBytes(n int) ([]byte, bool) {
	if len(p.buf)-p.pos < n {
		return nil, false
	}
	b := p.buf[p.pos : p.pos+n]
	p.pos += n
	return b, true
}

func (f PacketField) has(field PacketField) bool {
	return f&field == field
}
