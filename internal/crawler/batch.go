package crawler

// Batch holds one channel's entities for a single sink write. Messages and
// reactions are arenas indexed by their natural keys, so a key can hold only
// one entity and insertion order is kept for append sinks.
type Batch struct {
	Channel Channel

	messages      []Message
	messageIndex  map[MessageKey]int
	reactions     []Reaction
	reactionIndex map[ReactionKey]int
}

// NewBatch starts an empty batch for ch.
func NewBatch(ch Channel) *Batch {
	return &Batch{
		Channel:       ch,
		messageIndex:  make(map[MessageKey]int),
		reactionIndex: make(map[ReactionKey]int),
	}
}

// AddMessage stores m unless its key is already present.
func (b *Batch) AddMessage(m Message) bool {
	key := m.Key()
	if _, ok := b.messageIndex[key]; ok {
		return false
	}
	b.messageIndex[key] = len(b.messages)
	b.messages = append(b.messages, m)
	return true
}

// AddReaction stores r unless its key is already present.
func (b *Batch) AddReaction(r Reaction) bool {
	key := r.Key()
	if _, ok := b.reactionIndex[key]; ok {
		return false
	}
	b.reactionIndex[key] = len(b.reactions)
	b.reactions = append(b.reactions, r)
	return true
}

// Message looks a message up by key.
func (b *Batch) Message(key MessageKey) (Message, bool) {
	i, ok := b.messageIndex[key]
	if !ok {
		return Message{}, false
	}
	return b.messages[i], true
}

// Messages returns the messages in insertion order.
func (b *Batch) Messages() []Message { return b.messages }

// Reactions returns the reactions in insertion order.
func (b *Batch) Reactions() []Reaction { return b.reactions }

// Empty reports whether the batch carries no messages.
func (b *Batch) Empty() bool { return len(b.messages) == 0 }
