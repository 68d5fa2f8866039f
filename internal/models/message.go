package models

import "time"

// MessageStatus описывает статус доставки сообщения
type MessageStatus string

const (
	// StatusSending - сообщение создано на клиенте и еще не подтверждено сервером
	StatusSending MessageStatus = "sending"
	// StatusSent - сообщение сохранено, получатель оффлайн
	StatusSent MessageStatus = "sent"
	// StatusDelivered - сообщение отправлено хотя бы в одно соединение получателя
	StatusDelivered MessageStatus = "delivered"
	// StatusSeen зарезервирован под read receipts, сервер его пока не выставляет
	StatusSeen MessageStatus = "seen"
)

var statusRank = map[MessageStatus]int{
	StatusSending:   1,
	StatusSent:      2,
	StatusDelivered: 3,
	StatusSeen:      4,
}

// Rank возвращает порядковый номер статуса, 0 для неизвестного
func (s MessageStatus) Rank() int {
	return statusRank[s]
}

// Valid сообщает, является ли статус известным
func (s MessageStatus) Valid() bool {
	return s.Rank() > 0
}

// Message представляет сохраненное сообщение между двумя пользователями
type Message struct {
	CreatedAt  time.Time  `json:"createdAt"`
	ID         string     `json:"id"`
	SenderID   string     `json:"senderId"`
	ReceiverID string     `json:"receiverId"`
	Text       string     `json:"text,omitempty"`
	Image      string     `json:"image,omitempty"`    // URL во внешнем хранилище
	ClientID   string     `json:"clientId,omitempty"` // correlation id, выданный клиентом
	Reactions  []Reaction `json:"reactions"`
	Seq        int64      `json:"-"` // порядок сохранения
}

// Reaction - эмодзи-реакция пользователя на сообщение
type Reaction struct {
	CreatedAt time.Time `json:"createdAt"`
	UserID    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
}

// IsParticipant сообщает, является ли пользователь отправителем или получателем
func (m *Message) IsParticipant(userID string) bool {
	return userID != "" && (m.SenderID == userID || m.ReceiverID == userID)
}

// Peer возвращает собеседника userID в переписке
func (m *Message) Peer(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}
