package client

import "fmt"

// State of a Session
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateAuthenticated   State = "authenticated"
	StateRefreshing      State = "refreshing"
	StateError           State = "error"
)

var transitions = map[State][]State{
	StateUnauthenticated: {StateAuthenticating, StateAuthenticated},
	StateAuthenticating:  {StateAuthenticated, StateError},
	StateAuthenticated:   {StateRefreshing, StateUnauthenticated},
	StateRefreshing:      {StateAuthenticated, StateError},
	StateError:           {StateUnauthenticated},
}

// Transition describes a state change
type Transition struct {
	From State
	To   State
	Err  error
}

// TransitionListener observes state changes. Listeners run after the
// session lock is released and may call back into the session.
type TransitionListener func(Transition)

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s State) String() string {
	return string(s)
}

func invalidTransition(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
