package watcher

// Observer receives lifecycle notifications from a watcher. Implementations
// must be safe for concurrent use and must not block.
type Observer interface {
	StateChanged(from, to State)
	UpdateAccepted(slot Slot)
	UpdateDiscarded(slot Slot)
	Failure(kind Kind)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State, State) {}
func (nopObserver) UpdateAccepted(Slot)       {}
func (nopObserver) UpdateDiscarded(Slot)      {}
func (nopObserver) Failure(Kind)              {}

type multiObserver []Observer

// Observers fans notifications out to every non-nil observer.
func Observers(observers ...Observer) Observer {
	var out multiObserver
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	switch len(out) {
	case 0:
		return nopObserver{}
	case 1:
		return out[0]
	}
	return out
}

func (m multiObserver) StateChanged(from, to State) {
	for _, o := range m {
		o.StateChanged(from, to)
	}
}

func (m multiObserver) UpdateAccepted(slot Slot) {
	for _, o := range m {
		o.UpdateAccepted(slot)
	}
}

func (m multiObserver) UpdateDiscarded(slot Slot) {
	for _, o := range m {
		o.UpdateDiscarded(slot)
	}
}

func (m multiObserver) Failure(kind Kind) {
	for _, o := range m {
		o.Failure(kind)
	}
}
