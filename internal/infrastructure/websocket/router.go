package websocket

// Router fans conversation events out to the subscribers of the matching
// channels. Delivery is fire-and-forget.
type Router struct {
	manager *Manager
}

func NewRouter(manager *Manager) *Router {
	return &Router{manager: manager}
}

func (r *Router) PublishToConversation(conversationID, eventType string, data interface{}) {
	r.manager.Publish(ConversationChannel(conversationID), eventType, data)
}

// PublishTyping reaches every subscriber except the typing user's own connections.
func (r *Router) PublishTyping(conversationID, userID string, isTyping bool) {
	r.manager.PublishExcept(ConversationChannel(conversationID), userID, EventUserTyping, TypingPayload{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
	})
}

func (r *Router) NotifyUser(userID, eventType string, data interface{}) {
	r.manager.SendToUser(userID, eventType, data)
}

func (r *Router) IsOnline(userID string) bool {
	return r.manager.IsOnline(userID)
}
