package domain

// Note is the content shared by the cards generated from it.
type Note struct {
	ID       int64
	Question string
	Answer   string
	Context  string
	Tags     []string
}
