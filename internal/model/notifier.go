package model

// Notifier receives every drop event emitted by a filter.
type Notifier interface {
	Notify(ev *DropEvent)
}

// Notifiers fans a drop event out to several notifiers in order.
type Notifiers []Notifier

// Notify implements Notifier.
func (ns Notifiers) Notify(ev *DropEvent) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ev)
		}
	}
}
