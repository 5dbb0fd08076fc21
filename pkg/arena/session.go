package arena

import (
	"sync"
	"time"

	"github.com/bancalabs/banca/pkg/ledger"
)

// session is the engine-owned record of one in-flight game. All fields are
// guarded by mutex; the state field is the terminal-claim flag: the first
// transition that moves it out of a non-terminal state wins, every later
// trigger observes a terminal (or settling) state and backs off.
type session struct {
	mutex sync.Mutex

	id       string
	kind     Kind
	stake    ledger.AmountCents
	proposer ledger.UserID
	opponent ledger.UserID
	capacity int

	participants []ledger.UserID
	state        State
	guessed      bool
	secretCup    int

	createdUnixUTC int64
	expiresUnixUTC int64
	timer          *time.Timer
}

func (sess *session) hasParticipant(userID ledger.UserID) bool {
	for _, participant := range sess.participants {
		if participant == userID {
			return true
		}
	}
	return false
}

func (sess *session) participantsCopy() []ledger.UserID {
	return append([]ledger.UserID(nil), sess.participants...)
}

func (sess *session) ack() Ack {
	return Ack{
		SessionID:    sess.id,
		Kind:         sess.kind,
		State:        sess.state,
		Participants: len(sess.participants),
		ExpiresAtUTC: sess.expiresUnixUTC,
	}
}

// stopTimer releases the expiry timer after a terminal claim. Stopping a
// timer that already fired is harmless; the fired trigger will observe the
// terminal state and no-op.
func (sess *session) stopTimer() {
	if sess.timer != nil {
		sess.timer.Stop()
	}
}
