package history

// NotFoundError is returned when a chat doesn't exist in the store.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return "chat not found"
	}

	return "chat not found: " + e.ID
}
