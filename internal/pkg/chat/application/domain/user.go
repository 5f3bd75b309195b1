package chat

// User is the directory's view of an account: just enough identity to
// authenticate a connection and label typing indicators.
type User struct {
	ID   string `db:"id"`
	Name string `db:"name"`
}
