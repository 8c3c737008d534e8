package internal

import "net"

// 大廳實體：User、Room、Game 三種純記憶體記錄。
// 三者共用同一個 ID 序列（見 Server.nextID），且只被協調器
// 的單一工作者讀寫，因此本身不需要任何鎖。

// User 已登入的用戶端
type User struct {
	// Connection 使用者的封包連線（斷線清理以此比對）
	Connection *PacketConnection
	// ID 伺服器指派的唯一識別碼
	ID int32
	// Name 登入名稱，大小寫不敏感唯一，登入後不可變
	Name string
	// Session 對外展示的會話資訊（國旗等）
	Session SessionInfo
	// RoomID 所在房間，0 表示在大廳
	RoomID int32
}

// NewUser 建立使用者記錄
func NewUser(connection *PacketConnection, id int32, name string, nation Nation) *User {
	return &User{
		Connection: connection,
		ID:         id,
		Name:       name,
		Session:    NewSessionInfo(nation, SessionUser, AccessPublic),
	}
}

// Room 使用者聚集聊天、開設遊戲的頻道。
// 房間沒有獨立生命週期：最後一個引用它的使用者或遊戲消失時隨之關閉。
type Room struct {
	ID   int32
	Name string
	// Session 對外展示的會話資訊
	Session SessionInfo
	// IP 建立者回報的位址（列表時不外洩，一律以空字串代替）
	IP net.IP
}

// NewRoom 建立房間記錄
func NewRoom(id int32, name string, nation Nation, ip net.IP) *Room {
	return &Room{
		ID:      id,
		Name:    name,
		Session: NewSessionInfo(nation, SessionRoom, AccessPublic),
		IP:      ip,
	}
}

// Game 在房間內廣告的點對點遊戲場次
type Game struct {
	ID int32
	// Name 即主機使用者的名稱（一人只能開一場，斷線清理以此比對）
	Name string
	// RoomID 開設所在的房間
	RoomID int32
	// IP 主機的真實位址（取自連線，不信任使用者回報的 NAT 位址）
	IP net.IP
	// Session 對外展示的會話資訊
	Session SessionInfo
}

// NewGame 建立遊戲記錄
func NewGame(id int32, name string, nation Nation, roomID int32, ip net.IP, access SessionAccess) *Game {
	return &Game{
		ID:      id,
		Name:    name,
		RoomID:  roomID,
		IP:      ip,
		Session: NewSessionInfo(nation, SessionGame, access),
	}
}
