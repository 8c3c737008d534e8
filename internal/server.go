package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// 系統設計問題：
//   許多並發連線都要改動同一組大廳集合（使用者、房間、遊戲），
//   而每次改動又要對其他連線扇出通知。如何保證恰好一次的狀態轉換
//   與無競態的扇出？
//
// 核心挑戰：
//   1. 共享狀態：三個集合被所有連線的封包間接讀寫
//   2. 順序保證：同一來源的封包必須依抵達順序處理
//   3. 冪等清理：逾時、解碼錯誤、流關閉都匯入同一條斷線路徑，且只清一次
//
// 設計方案：
//   ✅ Actor 信箱 - 單一任務佇列 + 單一工作者，集合完全免鎖
//   ✅ 讀取迴圈只解碼與入列 - 絕不直接碰共享狀態
//   ✅ 合成斷線任務 - 讀取迴圈結束時入列，未登入連線自然為 no-op

// jobQueueSize 任務佇列容量。只有讀取迴圈會入列（工作者自己不會），
// 佇列滿時入列端阻塞形成背壓，不會死鎖。
const jobQueueSize = 4096

// handlerFunc 封包處理器：在工作者上獨佔執行，輸入為封包與其來源連線
type handlerFunc func(*PacketConnection, *Packet)

// Server 大廳協調器：管理使用者、房間與遊戲
type Server struct {
	config  *Config
	logger  *slog.Logger
	metrics *Metrics
	monitor *Monitor // 可為 nil（不啟動監控時）

	// 以下欄位只由工作者 goroutine 讀寫，免鎖。
	// lastID 為三種實體共用的序列：起點偏移 0x1000，
	// 避免低值 ID 與聊天語意衝突的舊端缺陷。
	lastID int32
	users  []*User
	rooms  []*Room
	games  []*Game

	jobs     chan func()
	handlers map[PacketCode]handlerFunc

	clients sync.WaitGroup
}

// NewServer 建立大廳伺服器
func NewServer(config *Config, logger *slog.Logger, metrics *Metrics, monitor *Monitor) *Server {
	s := &Server{
		config:  config,
		logger:  logger,
		metrics: metrics,
		monitor: monitor,
		lastID:  0x1000,
		jobs:    make(chan func(), jobQueueSize),
	}
	s.handlers = map[PacketCode]handlerFunc{
		CodeListRooms:   s.onListRooms,
		CodeListUsers:   s.onListUsers,
		CodeListGames:   s.onListGames,
		CodeLogin:       s.onLogin,
		CodeCreateRoom:  s.onCreateRoom,
		CodeJoin:        s.onJoin,
		CodeLeave:       s.onLeave,
		CodeClose:       s.onClose,
		CodeCreateGame:  s.onCreateGame,
		CodeChatRoom:    s.onChatRoom,
		CodeConnectGame: s.onConnectGame,
	}
	return s
}

// Run 在配置的位址上監聽並服務，直到 ctx 取消
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Server.Addr)
	if err != nil {
		return fmt.Errorf("監聽失敗: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve 在給定的 listener 上服務，直到 ctx 取消。
// 關閉順序：停止接受 → 取消所有接收 → 等讀取迴圈結束 → 排空任務佇列。
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.logger.Info("大廳伺服器開始監聽", "addr", listener.Addr().String())

	var worker sync.WaitGroup
	worker.Add(1)
	go func() {
		defer worker.Done()
		s.runWorker()
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("接受連線失敗", "error", err)
			continue
		}
		s.clients.Add(1)
		go func() {
			defer s.clients.Done()
			s.handleClient(ctx, conn)
		}()
	}

	// 所有讀取迴圈結束後才關佇列：合成斷線任務保證先入列
	s.clients.Wait()
	close(s.jobs)
	worker.Wait()
	s.logger.Info("大廳伺服器已停止")
	return nil
}

// runWorker 單一工作者：依序執行所有處理器，是三個集合唯一的讀寫者
func (s *Server) runWorker() {
	for job := range s.jobs {
		job()
	}
}

// handleClient 每條連線一個讀取迴圈：只解碼與入列，不碰共享狀態
func (s *Server) handleClient(ctx context.Context, netConn net.Conn) {
	conn := NewPacketConnection(netConn, s.config.Server.WriteTimeout)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	s.metrics.ConnectionsActive.Inc()
	defer s.metrics.ConnectionsActive.Dec()
	s.logger.Info("用戶端連線", "remote", remote)
	s.publish(LobbyEvent{Kind: "connect", Remote: remote})

	for {
		// 登入前逾時收短，成功登入後放寬
		timeout := s.config.Server.LoginTimeout
		if conn.LoggedIn() {
			timeout = s.config.Server.IdleTimeout
		}

		packet, err := conn.Receive(ctx, timeout)
		if err != nil {
			if isProtocolError(err) {
				s.metrics.ProtocolErrors.Inc()
			}
			s.logger.Info("用戶端斷線", "remote", remote, "reason", err)
			s.publish(LobbyEvent{Kind: "disconnect", Remote: remote, Detail: err.Error()})
			break
		}

		s.metrics.PacketsReceived.WithLabelValues(packet.Code.String()).Inc()
		s.logger.Debug("收到封包", "remote", remote, "packet", packet.String())
		s.publish(LobbyEvent{Kind: "recv", Remote: remote, Code: packet.Code.String()})

		handler, ok := s.handlers[packet.Code]
		if !ok {
			// 未知處理器只記錄並丟棄，不視為連線錯誤
			s.logger.Warn("未處理的封包代碼", "remote", remote, "code", packet.Code.String())
			continue
		}
		s.jobs <- func() { handler(conn, packet) }
	}

	// 合成斷線任務：連線從未完成登入時自然為 no-op
	s.jobs <- func() { s.onDisconnect(conn) }
}

// isProtocolError 回報錯誤是否屬於致命協議錯誤（相對於流結束/逾時/取消）
func isProtocolError(err error) bool {
	return errors.Is(err, ErrUnknownCode) ||
		errors.Is(err, ErrUnknownField) ||
		errors.Is(err, ErrDataTooLong)
}

// send 送出一個封包並記錄。送出失敗只記錄：
// 對端斷線由其自己的讀取迴圈察覺並走斷線路徑。
func (s *Server) send(conn *PacketConnection, packet *Packet) {
	s.metrics.PacketsSent.WithLabelValues(packet.Code.String()).Inc()
	s.logger.Debug("送出封包", "remote", conn.RemoteAddr().String(), "packet", packet.String())
	s.publish(LobbyEvent{Kind: "send", Remote: conn.RemoteAddr().String(), Code: packet.Code.String()})
	if err := conn.Send(packet); err != nil {
		s.logger.Warn("送出封包失敗", "remote", conn.RemoteAddr().String(), "error", err)
	}
}

// publish 發布監控事件（未啟動監控時為 no-op）
func (s *Server) publish(event LobbyEvent) {
	if s.monitor != nil {
		event.Time = time.Now()
		s.monitor.Publish(event)
	}
}

// nextID 取下一個實體 ID。三種實體共用同一序列，保持全域唯一。
func (s *Server) nextID() int32 {
	s.lastID++
	return s.lastID
}

// userFor 以連線找使用者；未登入的連線回傳 nil
func (s *Server) userFor(conn *PacketConnection) *User {
	for _, user := range s.users {
		if user.Connection == conn {
			return user
		}
	}
	return nil
}

// roomByID 以 ID 找房間
func (s *Server) roomByID(id int32) *Room {
	for _, room := range s.rooms {
		if room.ID == id {
			return room
		}
	}
	return nil
}

// updateGauges 同步實體數量指標
func (s *Server) updateGauges() {
	s.metrics.Users.Set(float64(len(s.users)))
	s.metrics.Rooms.Set(float64(len(s.rooms)))
	s.metrics.Games.Set(float64(len(s.games)))
}

// leaveRoom 處理一個引用（使用者或遊戲）離開房間，Leave 與斷線共用。
//
// 房間關閉規則：移除離開的引用後，若沒有任何剩餘使用者或遊戲引用
// 該房間，房間即關閉——以「移除後」的集合判定，且排除離開者自己的
// ID 以避免自我排除缺陷。
func (s *Server) leaveRoom(room *Room, leftID int32) {
	roomClosed := false
	if room != nil {
		roomClosed = true
		for _, user := range s.users {
			if user.ID != leftID && user.RoomID == room.ID {
				roomClosed = false
				break
			}
		}
		if roomClosed {
			for _, game := range s.games {
				if game.ID != leftID && game.RoomID == room.ID {
					roomClosed = false
					break
				}
			}
		}
		if roomClosed {
			s.removeRoom(room)
			s.logger.Info("房間已關閉", "id", room.ID, "name", room.Name)
		}
	}

	// 通知其他使用者
	for _, user := range s.users {
		if user.ID == leftID {
			continue
		}
		if room != nil {
			s.send(user.Connection, NewPacket(CodeLeave).
				WithValue2(room.ID).
				WithValue10(leftID))
		}
		if roomClosed {
			s.send(user.Connection, NewPacket(CodeClose).WithValue10(room.ID))
		}
	}
	s.updateGauges()
}

func (s *Server) removeRoom(room *Room) {
	for i, r := range s.rooms {
		if r == room {
			s.rooms = append(s.rooms[:i], s.rooms[i+1:]...)
			return
		}
	}
}

func (s *Server) removeUser(user *User) {
	for i, u := range s.users {
		if u == user {
			s.users = append(s.users[:i], s.users[i+1:]...)
			return
		}
	}
}

func (s *Server) removeGame(game *Game) {
	for i, g := range s.games {
		if g == game {
			s.games = append(s.games[:i], s.games[i+1:]...)
			return
		}
	}
}

// ---- 處理器 ----
//
// 共同約定：前置條件不滿足時靜默忽略（不回覆、不改狀態），
// 除非協議定義了明確的錯誤回覆。所有處理器都在工作者上獨佔執行。

// onListRooms 串流所有房間，結尾送 ListEnd
func (s *Server) onListRooms(conn *PacketConnection, packet *Packet) {
	fromUser := s.userFor(conn)
	if fromUser == nil || !packet.Has(FieldValue4) || packet.Value4 != 0 {
		return
	}

	for _, room := range s.rooms {
		s.send(conn, NewPacket(CodeListItem).
			WithValue1(room.ID).
			WithData(""). // 不回報建立者 IP
			WithName(room.Name).
			WithSession(room.Session))
	}
	s.send(conn, NewPacket(CodeListEnd))
}

// onListUsers 串流發送者所在房間的使用者（包含發送者自己）
func (s *Server) onListUsers(conn *PacketConnection, packet *Packet) {
	fromUser := s.userFor(conn)
	if fromUser == nil ||
		!packet.Has(FieldValue2) || packet.Value2 != fromUser.RoomID ||
		!packet.Has(FieldValue4) || packet.Value4 != 0 {
		return
	}

	for _, user := range s.users {
		if user.RoomID != fromUser.RoomID {
			continue
		}
		s.send(conn, NewPacket(CodeListItem).
			WithValue1(user.ID).
			WithName(user.Name).
			WithSession(user.Session))
	}
	s.send(conn, NewPacket(CodeListEnd))
}

// onListGames 串流發送者所在房間的遊戲
func (s *Server) onListGames(conn *PacketConnection, packet *Packet) {
	fromUser := s.userFor(conn)
	if fromUser == nil ||
		!packet.Has(FieldValue2) || packet.Value2 != fromUser.RoomID ||
		!packet.Has(FieldValue4) || packet.Value4 != 0 {
		return
	}

	for _, game := range s.games {
		if game.RoomID != fromUser.RoomID {
			continue
		}
		s.send(conn, NewPacket(CodeListItem).
			WithValue1(game.ID).
			WithData(game.IP.String()).
			WithName(game.Name).
			WithSession(game.Session))
	}
	s.send(conn, NewPacket(CodeListEnd))
}

// onLogin 建立使用者。名稱大小寫不敏感唯一，重名回覆 error 1。
func (s *Server) onLogin(conn *PacketConnection, packet *Packet) {
	if !packet.Has(FieldValue1) || !packet.Has(FieldValue4) ||
		!packet.Has(FieldName) || !packet.Has(FieldSession) {
		return
	}

	for _, user := range s.users {
		if strings.EqualFold(user.Name, packet.Name) {
			s.send(conn, NewPacket(CodeLoginReply).WithValue1(0).WithError(1))
			return
		}
	}

	newUser := NewUser(conn, s.nextID(), packet.Name, packet.Session.Nation)

	// 先通知既有使用者，再註冊並回覆新使用者
	for _, user := range s.users {
		s.send(user.Connection, NewPacket(CodeLogin).
			WithValue1(newUser.ID).
			WithValue4(0).
			WithName(newUser.Name).
			WithSession(newUser.Session))
	}

	s.users = append(s.users, newUser)
	conn.SetLoggedIn()
	s.updateGauges()
	s.logger.Info("使用者登入", "id", newUser.ID, "name", newUser.Name)
	s.send(conn, NewPacket(CodeLoginReply).WithValue1(newUser.ID).WithError(0))
}

// onCreateRoom 建立房間。名稱大小寫不敏感唯一，重名回覆 error 1。
func (s *Server) onCreateRoom(conn *PacketConnection, packet *Packet) {
	fromUser := s.userFor(conn)
	if fromUser == nil ||
		!packet.Has(FieldValue1) || packet.Value1 != 0 ||
		!packet.Has(FieldValue4) || packet.Value4 != 0 ||
		!packet.Has(FieldData) || !packet.Has(FieldName) || !packet.Has(FieldSession) {
		return
	}

	for _, room := range s.rooms {
		if strings.EqualFold(room.Name, packet.Name) {
			s.send(conn, NewPacket(CodeCreateRoomReply).WithValue1(0).WithError(1))
			return
		}
	}

	newRoom := NewRoom(s.nextID(), packet.Name, packet.Session.Nation, conn.RemoteIP())
	s.rooms = append(s.rooms, newRoom)
	s.updateGauges()
	s.logger.Info("房間已建立", "id", newRoom.ID, "name", newRoom.Name)

	for _, user := range s.users {
		if user == fromUser {
			continue
		}
		s.send(user.Connection, NewPacket(CodeCreateRoom).
			WithValue1(newRoom.ID).
			WithValue4(0).
			WithData(""). // 不回報建立者 IP
			WithName(newRoom.Name).
			WithSession(newRoom.Session))
	}

	s.send(conn, NewPacket(CodeCreateRoomReply).WithValue1(newRoom.ID).WithError(0))
}

// onJoin 加入房間，或加入發送者所在房間內的遊戲
func (s *Server) onJoin(conn *PacketConnection, packet *Packet) {
	fromUser := s.userFor(conn)
	if fromUser == nil || !packet.Has(FieldValue2) ||
		!packet.Has(FieldValue10) || packet.Value10 != fromUser.ID {
		return
	}

	if room := s.roomByID(packet.Value2); room != nil {
		fromUser.RoomID = packet.Value2
		s.broadcastJoin(fromUser)
		s.send(conn, NewPacket(CodeJoinReply).WithError(0))
		return
	}

	for _, game := range s.games {
		if game.ID == packet.Value2 && game.RoomID == fromUser.RoomID {
			// 加入遊戲不改變 RoomID：用戶端接著會直接連向主機
			s.broadcastJoin(fromUser)
			s.send(conn, NewPacket(CodeJoinReply).WithError(0))
			return
		}
	}

	s.send(conn, NewPacket(CodeJoinReply).WithError(1))
}

func (s *Server) broadcastJoin(fromUser *User) {
	for _, user := range s.users {
		if user == fromUser {
			continue
		}
		s.send(user.Connection, NewPacket(CodeJoin).
			WithValue2(fromUser.RoomID).
			WithValue10(fromUser.ID))
	}
}

// onLeave 離開發送者目前所在的房間。
// 遊戲不會送 Leave：離開遊戲的使用者直接斷線。
func (s *Server) onLeave(conn *PacketConnection, packet *Packet) {
	fromUser := s.userFor(conn)
	if fromUser == nil || !packet.Has(FieldValue2) ||
		!packet.Has(FieldValue10) || packet.Value10 != fromUser.ID {
		return
	}

	if packet.Value2 != fromUser.RoomID {
		s.send(conn, NewPacket(CodeLeaveReply).WithError(1))
		return
	}

	s.leaveRoom(s.roomByID(fromUser.RoomID), fromUser.ID)
	fromUser.RoomID = 0
	s.send(conn, NewPacket(CodeLeaveReply).WithError(0))
}

// onClose 無狀態變更：房間生命週期由伺服器管理，一律回覆成功
func (s *Server) onClose(conn *PacketConnection, packet *Packet) {
	fromUser := s.userFor(conn)
	if fromUser == nil || !packet.Has(FieldValue10) {
		return
	}
	s.send(conn, NewPacket(CodeCloseReply).WithError(0))
}

// onCreateGame 建立遊戲。使用者回報的 IP 必須等於連線的真實對端 IP，
// 否則回覆 error 2 並在房間聊天頻道發出警告（不建立遊戲）。
func (s *Server) onCreateGame(conn *PacketConnection, packet *Packet) {
	fromUser := s.userFor(conn)
	if fromUser == nil ||
		!packet.Has(FieldValue1) || packet.Value1 != 0 ||
		!packet.Has(FieldValue2) || packet.Value2 != fromUser.RoomID ||
		!packet.Has(FieldValue4) || packet.Value4 != 0x800 ||
		!packet.Has(FieldData) || !packet.Has(FieldName) || !packet.Has(FieldSession) {
		return
	}

	remoteIP := conn.RemoteIP()
	reportedIP := net.ParseIP(packet.Data)
	if reportedIP == nil || !reportedIP.Equal(remoteIP) {
		s.send(conn, NewPacket(CodeCreateGameReply).WithValue1(0).WithError(2))
		s.send(conn, NewPacket(CodeChatRoom).
			WithValue0(fromUser.ID).
			WithValue3(fromUser.RoomID).
			WithData(fmt.Sprintf("GRP:Cannot host your game. Please use the Worms 2 "+
				"Memory Changer to set your IP %s. For more information, visit "+
				"worms2d.info/Worms_2_Memory_Changer", remoteIP)))
		return
	}

	// 不使用使用者回報、可能錯誤的 NAT 位址，一律採連線真實 IP
	newGame := NewGame(s.nextID(), fromUser.Name, fromUser.Session.Nation,
		fromUser.RoomID, remoteIP, packet.Session.Access)
	s.games = append(s.games, newGame)
	s.updateGauges()
	s.logger.Info("遊戲已建立", "id", newGame.ID, "host", newGame.Name, "room", newGame.RoomID)

	// 通知所有其他使用者，包括其他房間的
	for _, user := range s.users {
		if user == fromUser {
			continue
		}
		s.send(user.Connection, NewPacket(CodeCreateGame).
			WithValue1(newGame.ID).
			WithValue2(newGame.RoomID).
			WithValue4(0x800).
			WithData(newGame.IP.String()).
			WithName(newGame.Name).
			WithSession(newGame.Session))
	}

	s.send(conn, NewPacket(CodeCreateGameReply).WithValue1(newGame.ID).WithError(0))
}

// onChatRoom 轉發聊天訊息。資料必須以含發送者名稱的房間（GRP:）
// 或私訊（PRV:)前綴開頭；兩者皆不符時靜默忽略。
func (s *Server) onChatRoom(conn *PacketConnection, packet *Packet) {
	fromUser := s.userFor(conn)
	if fromUser == nil ||
		!packet.Has(FieldValue0) || packet.Value0 != fromUser.ID ||
		!packet.Has(FieldValue3) || !packet.Has(FieldData) {
		return
	}

	targetID := packet.Value3

	if prefix := fmt.Sprintf("GRP:[ %s ]  ", fromUser.Name); strings.HasPrefix(packet.Data, prefix) {
		// 房間訊息：目標房間必須是發送者所在的房間
		if fromUser.RoomID != targetID {
			s.send(conn, NewPacket(CodeChatRoomReply).WithError(1))
			return
		}
		message := strings.TrimPrefix(packet.Data, prefix)
		for _, user := range s.users {
			if user.RoomID != fromUser.RoomID || user == fromUser {
				continue
			}
			s.send(user.Connection, NewPacket(CodeChatRoom).
				WithValue0(fromUser.ID).
				WithValue3(user.RoomID).
				WithData(prefix+message))
		}
		s.send(conn, NewPacket(CodeChatRoomReply).WithError(0))
		return
	}

	if prefix := fmt.Sprintf("PRV:[ %s ]  ", fromUser.Name); strings.HasPrefix(packet.Data, prefix) {
		// 私訊：目標使用者必須在同一個房間
		var target *User
		for _, user := range s.users {
			if user.RoomID == fromUser.RoomID && user.ID == targetID {
				target = user
				break
			}
		}
		if target == nil {
			s.send(conn, NewPacket(CodeChatRoomReply).WithError(1))
			return
		}
		message := strings.TrimPrefix(packet.Data, prefix)
		s.send(target.Connection, NewPacket(CodeChatRoom).
			WithValue0(fromUser.ID).
			WithValue3(target.ID).
			WithData(prefix+message))
		s.send(conn, NewPacket(CodeChatRoomReply).WithError(0))
	}
}

// onConnectGame 回覆遊戲主機的 IP，讓用戶端能直連建立點對點場次
func (s *Server) onConnectGame(conn *PacketConnection, packet *Packet) {
	fromUser := s.userFor(conn)
	if fromUser == nil || !packet.Has(FieldValue0) {
		return
	}

	for _, game := range s.games {
		if game.ID == packet.Value0 && game.RoomID == fromUser.RoomID {
			s.send(conn, NewPacket(CodeConnectGameReply).
				WithData(game.IP.String()).
				WithError(0))
			return
		}
	}
	s.send(conn, NewPacket(CodeConnectGameReply).WithData("").WithError(1))
}

// onDisconnect 合成斷線處理：恰好一次移除使用者、其主持的遊戲，
// 並傳播房間離開/關閉邏輯。連線從未完成登入時為 no-op。
func (s *Server) onDisconnect(conn *PacketConnection) {
	fromUser := s.userFor(conn)
	if fromUser == nil {
		return
	}

	roomID := fromUser.RoomID
	leftID := fromUser.ID
	s.removeUser(fromUser)

	// 關閉其主持的遊戲（名稱即主機名稱，一人只能開一場）
	for _, game := range s.games {
		if game.Name != fromUser.Name {
			continue
		}
		roomID = game.RoomID
		leftID = game.ID
		s.removeGame(game)
		for _, user := range s.users {
			s.send(user.Connection, NewPacket(CodeLeave).
				WithValue2(game.ID).
				WithValue10(fromUser.ID))
			s.send(user.Connection, NewPacket(CodeClose).WithValue10(game.ID))
		}
		break
	}

	// 傳播房間離開與關閉
	s.leaveRoom(s.roomByID(roomID), leftID)

	// 最後廣播使用者離線
	for _, user := range s.users {
		s.send(user.Connection, NewPacket(CodeDisconnectUser).WithValue10(fromUser.ID))
	}
	s.updateGauges()
	s.logger.Info("使用者離線", "id", fromUser.ID, "name", fromUser.Name)
}
