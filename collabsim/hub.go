package main

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// one fan-out room per document. frames from one participant are relayed
// verbatim to every other participant in the same room.
type Hub struct {
	mutex sync.Mutex

	rooms map[string]map[*RoomConn]bool
}

func NewHub() *Hub {
	return &Hub{
		rooms: map[string]map[*RoomConn]bool{},
	}
}

type RoomConn struct {
	writeMutex sync.Mutex

	ws       *websocket.Conn
	userId   string
	userName string
}

func NewRoomConn(ws *websocket.Conn, userId string, userName string) *RoomConn {
	return &RoomConn{
		ws:       ws,
		userId:   userId,
		userName: userName,
	}
}

func (self *RoomConn) Send(data []byte) error {
	self.writeMutex.Lock()
	defer self.writeMutex.Unlock()
	return self.ws.WriteMessage(websocket.TextMessage, data)
}

func (self *Hub) Join(documentId string, conn *RoomConn) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	room, ok := self.rooms[documentId]
	if !ok {
		room = map[*RoomConn]bool{}
		self.rooms[documentId] = room
	}
	room[conn] = true
}

func (self *Hub) Leave(documentId string, conn *RoomConn) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	room, ok := self.rooms[documentId]
	if !ok {
		return
	}
	delete(room, conn)
	if len(room) == 0 {
		delete(self.rooms, documentId)
	}
}

// Broadcast relays data to every participant in the room except `exclude`.
// Pass a nil exclude to reach the whole room.
func (self *Hub) Broadcast(documentId string, exclude *RoomConn, data []byte) {
	self.mutex.Lock()
	conns := []*RoomConn{}
	for conn := range self.rooms[documentId] {
		if conn != exclude {
			conns = append(conns, conn)
		}
	}
	self.mutex.Unlock()

	for _, conn := range conns {
		// a failed write will surface in the conn's own read loop
		conn.Send(data)
	}
}

func (self *Hub) BroadcastMessage(documentId string, exclude *RoomConn, message any) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}
	self.Broadcast(documentId, exclude, data)
}
