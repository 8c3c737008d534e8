// Package internal 實現一個回合制火砲遊戲的大廳/配對伺服器。
//
// 用戶端登入後瀏覽與建立聊天房間、在房間內廣告主持的遊戲場次，
// 並透過伺服器取得彼此的 IP 位址以建立點對點連線。伺服器從不
// 解讀遊戲內容，只轉發場次的中繼資料。
//
// 核心分為兩個緊密耦合的部分：
//
// 封包引擎
//
// 自訂的「長度隱含」二進位協議：封包沒有總長度前綴，欄位存在性
// 由遮罩決定。FrameParser 是可續的解析自動機，能在任意切割的
// 位元組流上逐欄位解析，資料不足時安全暫停、之後無縫續解。
//
// 大廳協調器
//
// 所有狀態變更經由單一任務佇列、由單一工作者依序執行（actor
// 信箱模式），使三個共享集合（使用者、房間、遊戲）完全免鎖。
// 每條連線的讀取迴圈只負責解碼與入列，扇出通知由工作者送出。
//
// 併發模型
//
//   - 每條已接受連線一個 goroutine 跑接收迴圈
//   - 恰好一個工作者 goroutine 排空任務佇列並執行全部處理邏輯
//   - 佇列為單一消費者 FIFO：同一連線的封包依抵達順序處理
//   - 處理器之間互不等待，不存在死鎖條件
//
// 所有大廳狀態皆為記憶體內、隨程序結束而消失；不做持久化、
// NAT 穿透，也不做名稱唯一性以外的認證。
package internal
