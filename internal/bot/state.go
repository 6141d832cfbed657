package bot

import "sync"

// slot tells the dispatcher how to interpret the user's next free-text
// message (or contact share).
type slot int

const (
	slotNone slot = iota
	slotAwaitingPromo
	slotAwaitingSupportMessage
	slotAwaitingPriceAmount
	slotAwaitingPromoData
	slotAwaitingFlashDuration
	slotAwaitingBroadcast
	slotAwaitingBroadcastUsers
	slotAwaitingSearchUser
	slotAwaitingPollQuestion
	slotAwaitingPollOptions
	slotAwaitingRebindContact
)

// session is the per-chat dispatcher state. Everything here is
// in-memory only and resets on restart.
type session struct {
	slot slot

	editPriceKey string // price row under edit
	rebindUID    string // client UUID pending a contact share
	pollQuestion string // question waiting for options

	flashBroadcast  bool    // pending broadcast is a flash one
	flashLifetime   int64   // seconds before the reaper deletes it
	broadcastIDs    []int64 // nil = all users
	pendingPlanID   string  // price key of the open invoice
}

type sessions struct {
	mu sync.Mutex
	m  map[int64]*session
}

func newSessions() *sessions {
	return &sessions{m: make(map[int64]*session)}
}

func (s *sessions) get(chatID int64) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[chatID]
	if !ok {
		sess = &session{}
		s.m[chatID] = sess
	}
	return sess
}

func (s *sessions) reset(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.m[chatID]; ok {
		*sess = session{pendingPlanID: sess.pendingPlanID}
	}
}
