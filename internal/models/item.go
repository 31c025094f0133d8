package models

// Item represents an entry of a list. Index is the item's dense ordinal
// within its list; 0 is the top.
type Item struct {
	ID     string `firestore:"id" json:"id"`
	UserID string `firestore:"userId" json:"user_id"`
	ListID string `firestore:"listId" json:"list_id"`
	Done   bool   `firestore:"done" json:"done"`
	Text   string `firestore:"text" json:"text"`
	Index  int    `firestore:"index" json:"index"`
}

// ItemUpdate is a partial update of an item. Nil fields are left untouched.
type ItemUpdate struct {
	Text *string `json:"text,omitempty"`
	Done *bool   `json:"done,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u ItemUpdate) Empty() bool {
	return u.Text == nil && u.Done == nil
}
