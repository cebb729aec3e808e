package server

// recentIdCap bounds how many delivered message ids a client remembers
// per room.
const recentIdCap = 200

// recentIds remembers the most recently delivered message ids so a
// message redelivered through another transport path can be dropped
// before it reaches the client. Not safe for concurrent use; callers
// hold the client's seen lock.
type recentIds struct {
	limit int
	order []string
	set   map[string]struct{}
}

func newRecentIds(limit int) *recentIds {
	return &recentIds{
		limit: limit,
		set:   make(map[string]struct{}, limit),
	}
}

// remember records id and reports whether it was new.
func (r *recentIds) remember(id string) bool {
	if _, ok := r.set[id]; ok {
		return false
	}

	if len(r.order) >= r.limit {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.set, oldest)
	}

	r.order = append(r.order, id)
	r.set[id] = struct{}{}
	return true
}
