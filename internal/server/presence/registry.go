// Package presence отслеживает, какие пользователи онлайн и через какие
// соединения до них можно достучаться.
package presence

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/iudanet/gophchat/internal/apperr"
)

var (
	// ErrUnauthenticated - соединение без идентичности не регистрируется
	ErrUnauthenticated = apperr.New(apperr.Unauthenticated, "connection has no authenticated identity")
	// ErrDuplicateConn - соединение с таким id уже зарегистрировано
	ErrDuplicateConn = errors.New("connection already registered")
)

// Conn - адресуемое живое соединение пользователя
type Conn interface {
	// ID уникален в пределах процесса
	ID() string
	// UserID - аутентифицированная идентичность владельца
	UserID() string
	// Send ставит событие в очередь на отправку и не блокируется
	Send(eventType string, payload any) error
}

// Transition - переход пользователя между онлайн и оффлайн
type Transition struct {
	UserID string
	Online bool
}

// Observer получает переходы в том порядке, в котором они произошли.
// Observer может читать реестр, но не должен регистрировать или
// снимать соединения синхронно.
type Observer func(Transition)

// Registry - реестр присутствия: identity -> множество соединений.
// Безопасен для конкурентного использования.
type Registry struct {
	logger    *slog.Logger
	conns     map[string]map[string]Conn // userID -> connID -> Conn
	owners    map[string]string          // connID -> userID
	turn      *sync.Cond
	observers []Observer
	nextTurn  uint64 // следующий номер в очереди уведомлений, под mu
	serving   uint64 // номер, который сейчас уведомляет, под turnMu
	mu        sync.RWMutex
	turnMu    sync.Mutex
}

// NewRegistry создает пустой реестр
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		logger: logger,
		conns:  make(map[string]map[string]Conn),
		owners: make(map[string]string),
	}
	r.turn = sync.NewCond(&r.turnMu)
	return r
}

// Subscribe добавляет наблюдателя переходов
func (r *Registry) Subscribe(obs Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, obs)
}

// Connect регистрирует соединение. Первое соединение пользователя
// переводит его в онлайн и уведомляет наблюдателей.
func (r *Registry) Connect(conn Conn) error {
	return r.ConnectWithSnapshot(conn, nil)
}

// ConnectWithSnapshot регистрирует соединение и передает onSnapshot список
// онлайн пользователей в общей очереди уведомлений: все переходы до снимка
// уже в нем учтены, все переходы после придут наблюдателям позже.
func (r *Registry) ConnectWithSnapshot(conn Conn, onSnapshot func(online []string)) error {
	userID := conn.UserID()
	if userID == "" {
		return ErrUnauthenticated
	}

	r.mu.Lock()
	if _, exists := r.owners[conn.ID()]; exists {
		r.mu.Unlock()
		return ErrDuplicateConn
	}

	set, existed := r.conns[userID]
	if !existed {
		set = make(map[string]Conn)
		r.conns[userID] = set
	}
	set[conn.ID()] = conn
	r.owners[conn.ID()] = userID

	var (
		transitionTicket uint64
		observers        []Observer
	)
	if !existed {
		transitionTicket, observers = r.enqueue()
	}
	var snapshotTicket uint64
	if onSnapshot != nil {
		snapshotTicket, _ = r.enqueue()
	}
	r.mu.Unlock()

	if !existed {
		r.notify(transitionTicket, observers, Transition{UserID: userID, Online: true})
	}
	if onSnapshot != nil {
		r.inTurn(snapshotTicket, func() {
			onSnapshot(r.Snapshot())
		})
	}
	return nil
}

// Disconnect снимает соединение. Возвращает владельца и признак того,
// что это было последнее соединение. Неизвестный id игнорируется.
func (r *Registry) Disconnect(connID string) (string, bool) {
	r.mu.Lock()
	userID, ok := r.owners[connID]
	if !ok {
		r.mu.Unlock()
		return "", false
	}

	delete(r.owners, connID)
	set := r.conns[userID]
	delete(set, connID)

	if len(set) > 0 {
		r.mu.Unlock()
		return userID, false
	}

	delete(r.conns, userID)
	ticket, observers := r.enqueue()
	r.mu.Unlock()

	r.notify(ticket, observers, Transition{UserID: userID, Online: false})
	return userID, true
}

// IsOnline сообщает, есть ли у пользователя хотя бы одно соединение
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// Connections возвращает снимок соединений пользователя
func (r *Registry) Connections(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.conns[userID]
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// All возвращает снимок всех соединений
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.owners))
	for _, set := range r.conns {
		for _, c := range set {
			out = append(out, c)
		}
	}
	return out
}

// Snapshot возвращает отсортированный список онлайн пользователей
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// Count возвращает число онлайн пользователей и живых соединений
func (r *Registry) Count() (users, conns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns), len(r.owners)
}

// enqueue выдает номер в очереди уведомлений, вызывается под mu
func (r *Registry) enqueue() (uint64, []Observer) {
	ticket := r.nextTurn
	r.nextTurn++
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	return ticket, observers
}

// notify ждет своей очереди и уведомляет наблюдателей без удержания mu,
// поэтому порядок уведомлений совпадает с порядком изменений
func (r *Registry) notify(ticket uint64, observers []Observer, t Transition) {
	r.inTurn(ticket, func() {
		for _, obs := range observers {
			r.safeCall(obs, t)
		}
	})
}

// inTurn выполняет fn, когда подходит очередь ticket
func (r *Registry) inTurn(ticket uint64, fn func()) {
	r.turnMu.Lock()
	for r.serving != ticket {
		r.turn.Wait()
	}
	r.turnMu.Unlock()

	defer func() {
		r.turnMu.Lock()
		r.serving++
		r.turn.Broadcast()
		r.turnMu.Unlock()
	}()

	fn()
}

func (r *Registry) safeCall(obs Observer, t Transition) {
	defer func() {
		if rec := recover(); rec != nil && r.logger != nil {
			r.logger.Error("presence observer panicked", slog.Any("panic", rec), slog.String("user_id", t.UserID))
		}
	}()
	obs(t)
}
