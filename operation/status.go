package operation

// Status is the lifecycle state of an Operation.
type Status int

const (
	NotStarted Status = iota
	Waiting
	Running
	Paused
	Cancelled
	Completed
	Failed
)

var statusNames = [...]string{
	NotStarted: "NotStarted",
	Waiting:    "Waiting",
	Running:    "Running",
	Paused:     "Paused",
	Cancelled:  "Cancelled",
	Completed:  "Completed",
	Failed:     "Failed",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "Status(?)"
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == Cancelled || s == Completed || s == Failed
}

// Active reports whether s blocks a clean exit.
func (s Status) Active() bool {
	return s == Waiting || s == Running || s == Paused
}

var transitions = map[Status][]Status{
	NotStarted: {Waiting},
	Waiting:    {Running, Cancelled},
	Running:    {Paused, Completed, Cancelled, Failed},
	Paused:     {Running, Cancelled},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
