package room

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/wfunc/snakes/logger"
	"github.com/wfunc/snakes/timer"
)

// DefaultRoomID is the room used by clients that do not name one.
const DefaultRoomID = "default"

var ErrRoomExists = errors.New("room already exists")

// --- 房间管理器 ---

// Manager 管理所有房间
type Manager struct {
	options Options
	rooms   map[string]*Room
	timers  *timer.Manager
	sweepID int64
	mutex   sync.RWMutex
}

// NewRoomManager 创建一个新的房间管理器，新房间使用 opts
func NewRoomManager(opts Options) *Manager {
	return &Manager{
		options: opts,
		rooms:   make(map[string]*Room),
	}
}

// CreateRoom 创建一个新房间并添加到管理器
func (m *Manager) CreateRoom(id string) (*Room, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.rooms[id]; exists {
		return nil, ErrRoomExists
	}
	room := NewRoom(id, m.options)
	m.rooms[id] = room
	return room, nil
}

// GetOrCreateRoom returns the room registered under id, creating it first if
// needed.
func (m *Manager) GetOrCreateRoom(id string) *Room {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if room, exists := m.rooms[id]; exists {
		// 防止清扫在调用方订阅之前回收房间
		room.Touch()
		return room
	}
	room := NewRoom(id, m.options)
	m.rooms[id] = room
	return room
}

// RemoveRoom 从管理器中移除并关闭一个房间
func (m *Manager) RemoveRoom(id string) {
	m.mutex.Lock()
	room, exists := m.rooms[id]
	delete(m.rooms, id)
	m.mutex.Unlock()

	if exists {
		room.Close()
	}
}

// GetRoom 从管理器中获取一个房间
func (m *Manager) GetRoom(id string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	room, exists := m.rooms[id]
	return room, exists
}

// Rooms returns every room ordered by id.
func (m *Manager) Rooms() []*Room {
	m.mutex.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mutex.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms
}

// StartSweeper drops expired observers from every room once per interval,
// then removes and closes the rooms left idle. Calling it again replaces the
// previous sweep.
func (m *Manager) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.timers == nil {
		m.timers = timer.NewTimerManager(interval / 2)
	} else {
		m.timers.RemoveTimer(m.sweepID)
	}
	m.sweepID = m.timers.AddTimer(interval, interval, m.sweep)
}

func (m *Manager) sweep() {
	var removed int
	for _, room := range m.Rooms() {
		removed += room.ClearExpired()
	}
	if removed > 0 {
		logger.Log.Infof("sweep removed %d expired observers", removed)
	}

	idle := m.removeIdle(time.Now())
	for _, room := range idle {
		room.Close()
	}
	if len(idle) > 0 {
		logger.Log.Infof("sweep closed %d idle rooms", len(idle))
	}
}

// removeIdle unregisters the idle rooms. The check runs under the manager
// lock so GetOrCreateRoom cannot hand out a room that is being removed.
func (m *Manager) removeIdle(now time.Time) []*Room {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var idle []*Room
	for id, room := range m.rooms {
		if room.Idle(now) {
			delete(m.rooms, id)
			idle = append(idle, room)
		}
	}
	return idle
}

// Close stops the sweeper and closes every room.
func (m *Manager) Close() {
	m.mutex.Lock()
	timers := m.timers
	m.timers = nil
	rooms := m.rooms
	m.rooms = make(map[string]*Room)
	m.mutex.Unlock()

	if timers != nil {
		timers.Stop()
	}
	for _, room := range rooms {
		room.Close()
	}
}
