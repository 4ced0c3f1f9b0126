package bandgame

// Player is one participant in a band battle. ID is the lowercased hex form
// of the player's ledger address; payments are matched against it.
type Player struct {
	ID    string
	Name  string
	Paid  bool
	Score int64
}
