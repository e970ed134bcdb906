package fabric

// Predicate selects messages from a mailbox. A nil Predicate matches
// everything.
type Predicate func(Message) bool

// MatchConversation matches messages of the given conversation.
func MatchConversation(conversationID string) Predicate {
	return func(m Message) bool {
		return m.ConversationID == conversationID
	}
}

// MatchSender matches messages from the given sender.
func MatchSender(sender string) Predicate {
	return func(m Message) bool {
		return m.Sender == sender
	}
}
