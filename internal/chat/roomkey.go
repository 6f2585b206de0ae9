package chat

// roomKeySep joins the two sorted participant ids into a room key. The
// separator is part of the persisted key format and must never change.
const roomKeySep = "-"

// RoomKey derives the deterministic key of the conversation between two
// canonical ids. The ids are sorted into a total order first, so the key is
// commutative: RoomKey(a, b) == RoomKey(b, a) for all a, b. Every caller
// recomputes the key through this function; keys are never minted ad hoc.
func RoomKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + roomKeySep + b
}
