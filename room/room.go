// room/room.go
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wfunc/snakes/broadcast"
	"github.com/wfunc/snakes/geometry"
	"github.com/wfunc/snakes/logger"
	"github.com/wfunc/snakes/models"
	"github.com/wfunc/snakes/session"
	"github.com/wfunc/snakes/state"
	"github.com/wfunc/snakes/timer"
)

var (
	// ErrNoHumanPlayer is returned by Start when nobody steers a snake.
	ErrNoHumanPlayer = errors.New("no human player when starting")
	// ErrNotInProgress is returned by PlayRound outside of a match.
	ErrNotInProgress = errors.New("game is not in progress")
	// ErrRoomClosed is returned by operations on a closed room.
	ErrRoomClosed = errors.New("room closed")
)

const (
	DefaultExpectedPlayers = 5
	DefaultTickInterval    = 200 * time.Millisecond
	DefaultStartDelay      = 2 * time.Second
	DefaultSubscriberTTL   = time.Minute
	DefaultNotifyTimeout   = time.Second
	DefaultAITurnOneIn     = 10

	// aiPlayerPrefix names the players synthesized to fill a match.
	aiPlayerPrefix = "AI-ControlledPlayer-"

	// berryAttempts bounds the search for a free cell on crowded boards.
	berryAttempts = 64

	recordTimeout = 5 * time.Second
)

// Options 房间参数，零值字段使用默认值
type Options struct {
	TickInterval time.Duration
	// StartDelay is the grace period before the first round. Negative
	// means no delay.
	StartDelay    time.Duration
	SubscriberTTL time.Duration
	// NotifyTimeout bounds one observer call. Negative means no bound.
	NotifyTimeout time.Duration
	JoinBorder    int
	// AITurnOneIn is the 1-in-n chance per round that an AI player turns left,
	// and the same again for right. Negative disables AI turns.
	AITurnOneIn int
	Rand        geometry.Rand
	Metrics     Metrics
	Recorder    MatchRecorder
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.StartDelay < 0 {
		o.StartDelay = 0
	} else if o.StartDelay == 0 {
		o.StartDelay = DefaultStartDelay
	}
	if o.SubscriberTTL <= 0 {
		o.SubscriberTTL = DefaultSubscriberTTL
	}
	if o.NotifyTimeout < 0 {
		o.NotifyTimeout = 0
	} else if o.NotifyTimeout == 0 {
		o.NotifyTimeout = DefaultNotifyTimeout
	}
	if o.JoinBorder <= 0 {
		o.JoinBorder = session.DefaultBorder
	}
	if o.AITurnOneIn == 0 {
		o.AITurnOneIn = DefaultAITurnOneIn
	}
	if o.Rand == nil {
		o.Rand = geometry.NewRand(0)
	}
	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}
	return o
}

// Room 是一局贪吃蛇游戏：大厅、玩家名单、浆果和回合调度
type Room struct {
	ID        string
	CreatedAt time.Time

	options   Options
	log       *zap.SugaredLogger
	machine   *state.Machine
	observers *broadcast.Registry[string, Observer]
	events    *dispatcher

	boardSize       geometry.BoardSize
	expectedPlayers int
	players         []*session.Session // roster in join order
	participants    []*session.Session // everyone who joined since the lobby opened
	berries         []geometry.Position
	round           int
	scheduler       *timer.Scheduler
	startedAt       time.Time
	lastActive      time.Time
	closed          bool
	mutex           sync.RWMutex
}

// NewRoom creates a room in NoGame.
func NewRoom(id string, opts Options) *Room {
	opts = opts.withDefaults()
	log := logger.Named("room").With("room", id)

	now := time.Now()
	r := &Room{
		ID:         id,
		CreatedAt:  now,
		options:    opts,
		log:        log,
		machine:    state.NewGameMachine(),
		lastActive: now,
	}
	r.observers = broadcast.NewRegistry[string, Observer](opts.SubscriberTTL,
		broadcast.WithNotifyTimeout(opts.NotifyTimeout),
		broadcast.WithLogger(log),
		broadcast.WithRemovalHook(func(reason broadcast.Reason) {
			opts.Metrics.IncSubscribersRemoved(string(reason))
		}),
	)
	r.events = newDispatcher(func(ev event) {
		r.observers.Notify(ev, nil)
	})

	// 状态机钩子在房间锁内执行
	for _, s := range []state.GameState{state.NoGame, state.Lobby, state.InProgress} {
		r.machine.OnEnter(s, func(from, to state.GameState) {
			r.log.Infof("state %s -> %s", from, to)
			r.raise(stateChanged(to))
		})
	}
	r.machine.OnEnter(state.InProgress, func(_, _ state.GameState) {
		opts.Metrics.IncActiveRooms()
	})
	r.machine.OnEnter(state.NoGame, func(_, _ state.GameState) {
		r.lastActive = time.Now()
	})
	r.machine.OnExit(state.InProgress, func(_, _ state.GameState) {
		r.stopSchedulerLocked()
		r.recordMatchLocked()
		opts.Metrics.DecActiveRooms()
	})

	return r
}

func (r *Room) GetID() string {
	return r.ID
}

// --- lifecycle ---

// InitializeNewGame opens a lobby for a new match. It is only legal in NoGame.
func (r *Room) InitializeNewGame(size geometry.BoardSize, expectedPlayers int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	if !r.machine.CanTransition(state.Lobby) {
		return &state.TransitionError{From: r.machine.Current(), To: state.Lobby}
	}

	r.berries = nil
	r.players = nil
	r.participants = nil
	r.round = 0
	r.lastActive = time.Now()

	r.expectedPlayers = expectedPlayers
	r.raise(expectedPlayerCountChanged(expectedPlayers))
	r.boardSize = size
	r.raise(boardSizeChanged(size))

	return r.machine.Transition(state.Lobby)
}

// AddPlayer puts player on the roster. A player already on it keeps its
// place. Joining after the match started is tolerated.
func (r *Room) AddPlayer(player *session.Session) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	if r.machine.Current() == state.InProgress {
		r.log.Warnf("player %s joined a match in progress", player.ID)
	}
	r.addPlayerLocked(player)
	return nil
}

func (r *Room) addPlayerLocked(player *session.Session) {
	if !containsPlayer(r.players, player) {
		r.players = append(r.players, player)
	}
	if !containsPlayer(r.participants, player) {
		r.participants = append(r.participants, player)
	}
	r.options.Metrics.IncPlayersJoined()
	r.log.Debugw("player joined", "player", player.ID, "human", player.HumanControlled(), "count", len(r.players))
	r.raise(playerJoined(len(r.players)))
}

// Start fills the roster with AI players, seeds the berries and begins the
// rounds after the start delay. At least one human player is required.
func (r *Room) Start() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	if !r.machine.CanTransition(state.InProgress) {
		return &state.TransitionError{From: r.machine.Current(), To: state.InProgress}
	}
	if !r.hasHumanLocked() {
		return ErrNoHumanPlayer
	}

	for i := len(r.players); i < r.expectedPlayers; i++ {
		ai := session.NewSession(fmt.Sprintf("%s%d", aiPlayerPrefix, i),
			session.WithRand(r.options.Rand),
			session.WithBorder(r.options.JoinBorder),
		)
		ai.SetHumanControlled(false)
		ai.Reset(r.boardSize)
		r.addPlayerLocked(ai)
	}

	occupied := r.occupiedLocked()
	for range r.players {
		berry := r.freeCellLocked(occupied)
		occupied[berry] = true
		r.berries = append(r.berries, berry)
	}

	sched := timer.NewScheduler(r.options.StartDelay, r.options.TickInterval)
	r.scheduler = sched
	r.startedAt = time.Now()

	if err := r.machine.Transition(state.InProgress); err != nil {
		r.scheduler = nil
		return err
	}
	sched.Start(func(ctx context.Context) {
		r.tick(ctx)
	})
	return nil
}

// PlayRound runs one round immediately, outside of the scheduler.
func (r *Room) PlayRound() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.machine.Current() != state.InProgress {
		return ErrNotInProgress
	}
	r.playRoundLocked()
	return nil
}

// tick is the scheduler callback. A stopped scheduler or a match that ended
// while the tick waited for the lock leaves the room untouched.
func (r *Room) tick(ctx context.Context) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if ctx.Err() != nil || r.machine.Current() != state.InProgress {
		return
	}
	r.playRoundLocked()
}

func (r *Room) playRoundLocked() {
	began := time.Now()
	defer func() {
		r.options.Metrics.ObserveRound(time.Since(began))
	}()

	// 1. AI 随机转向
	if odds := r.options.AITurnOneIn; odds > 0 {
		for _, p := range r.players {
			if p.HumanControlled() {
				continue
			}
			switch r.options.Rand.Intn(odds) {
			case 0:
				p.TurnLeft()
			case 1:
				p.TurnRight()
			}
		}
	}

	// 2. 前进，出界的玩家出局
	var (
		doomed   []*session.Session
		isDoomed = make(map[*session.Session]bool)
	)
	mark := func(p *session.Session) {
		if !isDoomed[p] {
			isDoomed[p] = true
			doomed = append(doomed, p)
		}
	}
	for _, p := range r.players {
		if !p.Advance() {
			mark(p)
		}
	}

	// 3. 浆果与碰撞
	bodies := make([][]geometry.Position, len(r.players))
	for i, p := range r.players {
		bodies[i] = p.Body()
	}
	eaten := make(map[int]bool)
	for i, p := range r.players {
		head := bodies[i][0]
		for j, berry := range r.berries {
			if head == berry {
				p.FoundBerry()
				bodies[i] = p.Body()
				r.raise(scoreChanged(p.ID, p.Score()))
				eaten[j] = true
			}
		}

		for j, body := range bodies {
			if j != i && head == body[0] {
				mark(p)
			}
			for _, segment := range body[1:] {
				if head == segment {
					mark(p)
				}
			}
		}
	}

	// 4. 移除出局玩家
	if len(doomed) > 0 {
		alive := make([]*session.Session, 0, len(r.players))
		for _, p := range r.players {
			if !isDoomed[p] {
				alive = append(alive, p)
			}
		}
		r.players = alive

		for _, p := range doomed {
			p.Die()
			r.options.Metrics.IncPlayersDied()
			r.log.Debugw("player died", "player", p.ID, "round", r.round)
			r.raise(died(p.ID))
		}
	}

	// 5. 补充浆果
	if len(eaten) > 0 {
		left := make([]geometry.Position, 0, len(r.berries))
		for j, berry := range r.berries {
			if !eaten[j] {
				left = append(left, berry)
			}
		}
		r.berries = left
	}
	if missing := len(r.players) - len(r.berries); missing > 0 {
		occupied := r.occupiedLocked()
		for i := 0; i < missing; i++ {
			berry := r.freeCellLocked(occupied)
			occupied[berry] = true
			r.berries = append(r.berries, berry)
		}
	}

	// 6. 通知新回合
	r.raise(newRound())
	r.round++

	// 7. 结束条件
	if !r.stillPlayingLocked() {
		r.log.Infof("match over after %d rounds", r.round)
		if err := r.machine.Transition(state.NoGame); err != nil {
			r.log.Errorf("failed to end match: %v", err)
		}
	}
}

// stillPlayingLocked reports whether more than one player is alive and one
// of them is human.
func (r *Room) stillPlayingLocked() bool {
	var alive []*session.Session
	for _, p := range r.players {
		if p.Alive() {
			alive = append(alive, p)
		}
	}
	if len(alive) <= 1 {
		return false
	}
	for _, p := range alive {
		if p.HumanControlled() {
			return true
		}
	}
	return false
}

func (r *Room) hasHumanLocked() bool {
	for _, p := range r.players {
		if p.HumanControlled() {
			return true
		}
	}
	return false
}

func (r *Room) occupiedLocked() map[geometry.Position]bool {
	occupied := make(map[geometry.Position]bool)
	for _, p := range r.players {
		for _, segment := range p.Body() {
			occupied[segment] = true
		}
	}
	for _, berry := range r.berries {
		occupied[berry] = true
	}
	return occupied
}

// freeCellLocked picks a random cell not in occupied. On a crowded board it
// gives up after a bounded number of tries and returns the last pick.
func (r *Room) freeCellLocked(occupied map[geometry.Position]bool) geometry.Position {
	var cell geometry.Position
	for i := 0; i < berryAttempts; i++ {
		cell = geometry.OnScreen(r.options.Rand, 0, r.boardSize)
		if !occupied[cell] {
			return cell
		}
	}
	return cell
}

func (r *Room) stopSchedulerLocked() {
	if r.scheduler != nil {
		r.scheduler.Stop()
	}
}

func (r *Room) recordMatchLocked() {
	recorder := r.options.Recorder
	if recorder == nil || len(r.participants) == 0 {
		return
	}

	record := models.MatchRecord{
		ID:        uuid.NewString(),
		RoomID:    r.ID,
		BoardSize: r.boardSize,
		Rounds:    r.round,
		StartedAt: r.startedAt,
		EndedAt:   time.Now(),
	}
	for _, p := range r.participants {
		snap := p.Snapshot()
		record.Players = append(record.Players, models.PlayerResult{
			PlayerID:        snap.ID,
			Name:            snap.Name,
			HumanControlled: snap.HumanControlled,
			Score:           snap.Score,
			Survived:        snap.Alive,
		})
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := recorder.RecordMatch(ctx, record); err != nil {
			r.log.Errorf("failed to record match %s: %v", record.ID, err)
		}
	}()
}

// raise queues an event for the subscribed observers.
func (r *Room) raise(ev event) {
	r.events.push(ev)
}

// Close ends any match, stops the rounds and the event delivery, and drops
// every observer. Queued events are still delivered.
func (r *Room) Close() {
	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		return
	}
	r.closed = true
	if r.machine.Current() != state.NoGame {
		if err := r.machine.Transition(state.NoGame); err != nil {
			r.log.Errorf("failed to reset room on close: %v", err)
		}
	}
	sched := r.scheduler
	r.mutex.Unlock()

	if sched != nil {
		sched.Wait()
	}
	r.events.stop()
	r.observers.Clear()
}

// --- queries ---

func (r *Room) State() state.GameState {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.machine.Current()
}

func (r *Room) BoardSize() geometry.BoardSize {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.boardSize
}

func (r *Room) ExpectedPlayers() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.expectedPlayers
}

// Players returns the roster in join order.
func (r *Room) Players() []*session.Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return append([]*session.Session(nil), r.players...)
}

// PlayerStates returns a snapshot of every player on the roster.
func (r *Room) PlayerStates() []models.PlayerState {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	states := make([]models.PlayerState, 0, len(r.players))
	for _, p := range r.players {
		states = append(states, p.Snapshot())
	}
	return states
}

func (r *Room) Berries() []geometry.Position {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return append([]geometry.Position(nil), r.berries...)
}

// Round is the number of rounds played in the current match.
func (r *Room) Round() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.round
}

func (r *Room) LobbyState() models.LobbyState {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return models.LobbyState{
		CurrentPlayers:  len(r.players),
		ExpectedPlayers: r.expectedPlayers,
		BoardSize:       r.boardSize,
	}
}

// --- observers ---

// Subscribe adds or refreshes the observer registered under addr.
func (r *Room) Subscribe(addr string, observer Observer) {
	r.Touch()
	r.observers.Subscribe(addr, observer)
}

func (r *Room) Unsubscribe(addr string) {
	r.observers.Unsubscribe(addr)
}

func (r *Room) SubscriberCount() int {
	return r.observers.Count()
}

// ClearExpired drops observers that have not re-subscribed within the TTL.
func (r *Room) ClearExpired() int {
	return r.observers.ClearExpired()
}

// Touch marks the room as in use, which keeps Idle false for one TTL.
func (r *Room) Touch() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.lastActive = time.Now()
}

// Idle reports whether the room sits in NoGame with nobody subscribed and
// nothing happened for longer than the subscriber TTL.
func (r *Room) Idle(now time.Time) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if r.machine.Current() != state.NoGame || r.observers.Count() > 0 {
		return false
	}
	return now.Sub(r.lastActive) > r.options.SubscriberTTL
}

func containsPlayer(players []*session.Session, player *session.Session) bool {
	for _, p := range players {
		if p == player {
			return true
		}
	}
	return false
}
