// Package chat - клиентская модель переписки с оптимистичными отправками.
//
// Запись переписки - либо Optimistic (создана локально, ключ - correlation id),
// либо Confirmed (сохранена сервером, ключ - id сообщения). Оптимистичная
// запись заменяется подтвержденной только по correlation id, без сравнения
// текста или времени.
package chat

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/gophchat/internal/models"
)

// Kind - вариант записи переписки
type Kind int

const (
	// Optimistic - сообщение отправлено, ответ сервера еще не получен
	Optimistic Kind = iota + 1
	// Confirmed - сообщение сохранено сервером
	Confirmed
)

func (k Kind) String() string {
	switch k {
	case Optimistic:
		return "optimistic"
	case Confirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

var (
	// ErrEmptyMessage - нет ни текста, ни картинки
	ErrEmptyMessage = errors.New("message must have text or image")
	// ErrForeignMessage - сообщение из другой переписки
	ErrForeignMessage = errors.New("message does not belong to this conversation")
)

// Entry - запись переписки
type Entry struct {
	Message  models.Message
	ClientID string // correlation id, пустой для чужих сообщений
	Status   models.MessageStatus
	Kind     Kind
}

// ID - ключ записи: id сервера для Confirmed, correlation id для Optimistic
func (e Entry) ID() string {
	if e.Kind == Confirmed {
		return e.Message.ID
	}
	return e.ClientID
}

// Conversation - переписка текущего пользователя с одним собеседником
type Conversation struct {
	now      func() time.Time
	newID    func() string
	byServer map[string]*Entry
	byClient map[string]*Entry
	selfID   string
	peerID   string
	entries  []*Entry
	mu       sync.RWMutex
}

// NewConversation создает пустую переписку selfID с peerID
func NewConversation(selfID, peerID string) *Conversation {
	return &Conversation{
		selfID:   selfID,
		peerID:   peerID,
		now:      time.Now,
		newID:    uuid.NewString,
		byServer: make(map[string]*Entry),
		byClient: make(map[string]*Entry),
	}
}

// PeerID возвращает собеседника
func (c *Conversation) PeerID() string {
	return c.peerID
}

// AddOptimistic добавляет исходящее сообщение в статусе sending
// и возвращает запись с новым correlation id
func (c *Conversation) AddOptimistic(text, image string) (Entry, error) {
	if text == "" && image == "" {
		return Entry{}, ErrEmptyMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	clientID := c.newID()
	e := &Entry{
		Kind:     Optimistic,
		ClientID: clientID,
		Status:   models.StatusSending,
		Message: models.Message{
			SenderID:   c.selfID,
			ReceiverID: c.peerID,
			Text:       text,
			Image:      image,
			ClientID:   clientID,
			CreatedAt:  c.now(),
		},
	}
	c.entries = append(c.entries, e)
	c.byClient[clientID] = e
	return *e, nil
}

// Confirm заменяет оптимистичную запись сохраненным сообщением.
// Если сообщение уже пришло через real-time канал, оптимистичная
// запись просто удаляется.
func (c *Conversation) Confirm(clientID string, msg *models.Message, status models.MessageStatus) error {
	if !c.belongs(msg) {
		return ErrForeignMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.byServer[msg.ID]; ok {
		if opt, ok := c.byClient[clientID]; ok && opt != existing {
			c.removeLocked(opt)
		}
		existing.Message = *msg
		advance(existing, status)
		if clientID != "" {
			existing.ClientID = clientID
			c.byClient[clientID] = existing
		}
		return nil
	}

	e, ok := c.byClient[clientID]
	if !ok {
		// оптимистичной записи нет (например, отправка с другого устройства)
		e = &Entry{Status: models.StatusSending}
		c.entries = append(c.entries, e)
	}
	e.Kind = Confirmed
	e.ClientID = clientID
	e.Message = *msg
	advance(e, status)

	c.byServer[msg.ID] = e
	if clientID != "" {
		c.byClient[clientID] = e
	}
	return nil
}

// Rollback удаляет оптимистичную запись после неудачной отправки
func (c *Conversation) Rollback(clientID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byClient[clientID]
	if !ok || e.Kind != Optimistic {
		return false
	}
	c.removeLocked(e)
	return true
}

// Apply встраивает сообщение, пришедшее от сервера (new-message или
// эхо собственной отправки). Возвращает true, если добавлена новая запись.
func (c *Conversation) Apply(msg *models.Message) bool {
	if !c.belongs(msg) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.byServer[msg.ID]; ok {
		e.Message = *msg
		return false
	}

	if msg.ClientID != "" && msg.SenderID == c.selfID {
		if e, ok := c.byClient[msg.ClientID]; ok {
			e.Kind = Confirmed
			e.Message = *msg
			advance(e, models.StatusSent)
			c.byServer[msg.ID] = e
			return false
		}
	}

	e := &Entry{
		Kind:     Confirmed,
		ClientID: msg.ClientID,
		Message:  *msg,
		Status:   models.StatusSent,
	}
	c.entries = append(c.entries, e)
	c.byServer[msg.ID] = e
	if e.ClientID != "" {
		c.byClient[e.ClientID] = e
	}
	return true
}

// SetStatus продвигает статус записи по id сервера или correlation id.
// Статус только растет: sending -> sent -> delivered -> seen.
func (c *Conversation) SetStatus(id string, status models.MessageStatus) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byServer[id]
	if !ok {
		e, ok = c.byClient[id]
	}
	if !ok {
		return false
	}
	return advance(e, status)
}

// Remove удаляет сообщение (message-deleted)
func (c *Conversation) Remove(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byServer[messageID]
	if !ok {
		return false
	}
	c.removeLocked(e)
	return true
}

// Load добавляет в начало страницу истории (в порядке сохранения).
// Уже известные сообщения пропускаются.
func (c *Conversation) Load(page []*models.Message) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	older := make([]*Entry, 0, len(page))
	for _, msg := range page {
		if msg == nil || !c.belongs(msg) {
			continue
		}
		if _, ok := c.byServer[msg.ID]; ok {
			continue
		}
		e := &Entry{
			Kind:     Confirmed,
			ClientID: msg.ClientID,
			Message:  *msg,
			Status:   models.StatusSent,
		}
		c.byServer[msg.ID] = e
		if e.ClientID != "" {
			c.byClient[e.ClientID] = e
		}
		older = append(older, e)
	}
	c.entries = append(older, c.entries...)
	return len(older)
}

// Oldest возвращает id самого старого подтвержденного сообщения,
// курсор для следующей страницы истории
func (c *Conversation) Oldest() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, e := range c.entries {
		if e.Kind == Confirmed {
			return e.Message.ID
		}
	}
	return ""
}

// Entries возвращает копию записей в порядке отображения
func (c *Conversation) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	return out
}

// Len возвращает число записей
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Conversation) belongs(msg *models.Message) bool {
	if msg == nil || msg.ID == "" {
		return false
	}
	return (msg.SenderID == c.selfID && msg.ReceiverID == c.peerID) ||
		(msg.SenderID == c.peerID && msg.ReceiverID == c.selfID)
}

func (c *Conversation) removeLocked(target *Entry) {
	for i, e := range c.entries {
		if e == target {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			break
		}
	}
	if target.ClientID != "" && c.byClient[target.ClientID] == target {
		delete(c.byClient, target.ClientID)
	}
	if target.Kind == Confirmed && c.byServer[target.Message.ID] == target {
		delete(c.byServer, target.Message.ID)
	}
}

// advance поднимает статус, если новый старше текущего
func advance(e *Entry, status models.MessageStatus) bool {
	if !status.Valid() || status.Rank() <= e.Status.Rank() {
		return false
	}
	e.Status = status
	return true
}
