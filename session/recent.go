package session

// MaxRecent is how many distinct prompts the recency list keeps.
const MaxRecent = 10

// Recents is the most-recent-first list of distinct submitted prompts.
type Recents struct {
	items []string
}

// Add moves prompt to the front, dropping an earlier duplicate.
func (r *Recents) Add(prompt string) {
	if prompt == "" {
		return
	}
	out := make([]string, 0, MaxRecent)
	out = append(out, prompt)
	for _, p := range r.items {
		if p != prompt && len(out) < MaxRecent {
			out = append(out, p)
		}
	}
	r.items = out
}

// List returns a copy of the entries.
func (r *Recents) List() []string {
	return append([]string(nil), r.items...)
}

// Reset empties the list.
func (r *Recents) Reset() {
	r.items = nil
}
