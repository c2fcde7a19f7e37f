package motus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Role determines which side of the replication contract a machine plays.
// Exactly one peer holds authority over a machine; everyone else mirrors it.
type Role int

const (
	// RoleAuthority resolves transitions locally and publishes its fires
	RoleAuthority Role = iota
	// RoleReplica applies the authority's replicated fires and never
	// resolves on its own
	RoleReplica
)

func (r Role) String() string {
	switch r {
	case RoleAuthority:
		return "authority"
	case RoleReplica:
		return "replica"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// FireNotification describes one fired transition for remote application.
// The transport carrying it must deliver reliably, in order, at most once.
type FireNotification struct {
	Machine      uuid.UUID `json:"machine" yaml:"machine"`
	Sequence     uint64    `json:"sequence" yaml:"sequence"`
	TransitionID int       `json:"transition" yaml:"transition"`
}

// Replicator is the outbound channel an authority publishes its fires on
type Replicator interface {
	Publish(n FireNotification) error
}

// ReplicatorFunc adapts a function to the Replicator interface
type ReplicatorFunc func(n FireNotification) error

// Publish implements Replicator
func (f ReplicatorFunc) Publish(n FireNotification) error {
	return f(n)
}

// Relay is an in-process Replicator that applies published fires to attached
// replicas in attach order, routed by machine identity. It stands in for a
// network transport in tests and single-process setups.
type Relay struct {
	mu       sync.Mutex
	replicas []*StateMachine
}

// NewRelay creates an empty relay
func NewRelay() *Relay {
	return &Relay{}
}

// Attach subscribes a replica to published notifications. Only replicas can
// attach: applying a fire back onto an authority would loop.
func (r *Relay) Attach(replica *StateMachine) error {
	if replica == nil || replica.Role() != RoleReplica {
		return NewMachineError(ErrCodeInvalidEntity, "attach", "machine is not a replica")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replicas = append(r.replicas, replica)
	return nil
}

// Detach unsubscribes a previously attached replica
func (r *Relay) Detach(replica *StateMachine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rep := range r.replicas {
		if rep == replica {
			r.replicas = append(r.replicas[:i], r.replicas[i+1:]...)
			break
		}
	}
}

// Publish applies the notification to every attached replica sharing its
// machine identity. Per-replica application errors are joined rather than
// short-circuiting the fan-out.
func (r *Relay) Publish(n FireNotification) error {
	r.mu.Lock()
	replicas := make([]*StateMachine, len(r.replicas))
	copy(replicas, r.replicas)
	r.mu.Unlock()

	var errs []error
	for _, replica := range replicas {
		if replica.ID() != n.Machine {
			continue
		}
		if err := replica.ApplyNotification(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
