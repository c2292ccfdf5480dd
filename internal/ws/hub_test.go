package ws_test

import (
	"sort"
	"testing"

	"github.com/channelhub/internal/ws"
)

func TestEnterAndLeaveRoom(t *testing.T) {
	hub := ws.NewHub(10)
	room := ws.ChannelRoom("ch-1")

	hub.EnterRoom(room, "alice", "bob")
	hub.EnterRoom(room, "alice") // re-entering must not duplicate

	got := hub.RoomUserIDs(room)
	sort.Strings(got)
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("RoomUserIDs = %v, want [alice bob]", got)
	}

	hub.LeaveRoom(room, "alice")
	got = hub.RoomUserIDs(room)
	if len(got) != 1 || got[0] != "bob" {
		t.Fatalf("after leave: RoomUserIDs = %v, want [bob]", got)
	}

	hub.LeaveRoom(room, "bob")
	if got := hub.RoomUserIDs(room); len(got) != 0 {
		t.Fatalf("empty room must return no users, got %v", got)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	hub := ws.NewHub(10)
	hub.EnterRoom(ws.ChannelRoom("ch-1"), "alice")
	hub.EnterRoom(ws.ChannelRoom("ch-2"), "bob")

	if got := hub.RoomUserIDs(ws.ChannelRoom("ch-1")); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("ch-1 users = %v", got)
	}
	if got := hub.RoomUserIDs(ws.ChannelRoom("ch-2")); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("ch-2 users = %v", got)
	}
}

func TestIsOnlineWithoutConnections(t *testing.T) {
	hub := ws.NewHub(10)
	hub.EnterRoom(ws.ChannelRoom("ch-1"), "alice")
	// Room membership does not imply an open connection.
	if hub.IsOnline("alice") {
		t.Fatal("user without connections must not be online")
	}
}

func TestEmitToRoomWithoutClients(t *testing.T) {
	hub := ws.NewHub(10)
	hub.EnterRoom(ws.ChannelRoom("ch-1"), "alice")
	// Must not panic when room members have no connections.
	hub.EmitToRoom(ws.ChannelRoom("ch-1"), ws.EventChannel, map[string]any{"x": 1})
	hub.EmitToUsers([]string{"ghost"}, ws.EventChannel, nil)
}
