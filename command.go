package kiln

import (
	"fmt"
	"log"

	"github.com/TheBitDrifter/bark"
)

// ErrorPolicy governs what happens when a queued Command's Apply returns
// an error (spec §4.6). The teacher's queue has a single implicit policy
// (re-enqueue until unlocked, no error reporting at all); this
// generalizes it to a choice made per command at enqueue time.
type ErrorPolicy uint8

const (
	// PolicyPanic re-raises the error, wrapped with a stack trace via
	// bark.AddTrace, matching the teacher's own RemoveLock behavior.
	PolicyPanic ErrorPolicy = iota
	// PolicyLogWarn logs the error and continues draining the queue.
	PolicyLogWarn
	// PolicySilent discards the error and continues draining the queue.
	PolicySilent
)

// Command is one deferred mutation. Apply receives the Storage it should
// act against; canonical commands below resolve to a *World at runtime.
// Renamed from the teacher's EntityOperation to match the spec's Command
// Queue vocabulary; the Apply(Storage) error shape is unchanged.
type Command interface {
	Apply(Storage) error
}

type queuedCommand struct {
	cmd    Command
	policy ErrorPolicy
}

// CommandQueue is the generalized form of the teacher's
// entityOperationsQueue: FIFO per batch, drained only while its owning
// World is unlocked, and re-drained until empty so a command enqueueing
// another command (e.g. an event handler calling CommandWriter.Enqueue)
// is itself applied in the same ProcessAll call rather than left for the
// next flush point.
type CommandQueue struct {
	target  Storage
	pending []queuedCommand
}

func newCommandQueue(target Storage) *CommandQueue {
	return &CommandQueue{target: target}
}

// Enqueue appends cmd under the configured default error policy
// (Config.defaultErrorPolicy, PolicyPanic unless changed).
func (q *CommandQueue) Enqueue(cmd Command) {
	q.EnqueueWithPolicy(cmd, Config.defaultErrorPolicy)
}

// EnqueueWithPolicy appends cmd with an explicit error policy.
func (q *CommandQueue) EnqueueWithPolicy(cmd Command, policy ErrorPolicy) {
	q.pending = append(q.pending, queuedCommand{cmd: cmd, policy: policy})
}

// Len reports how many commands are currently queued.
func (q *CommandQueue) Len() int { return len(q.pending) }

// ProcessAll applies every queued command to the target storage, draining
// the queue, and continues draining any commands enqueued by those
// applications until none remain. A no-op (queue left intact) while the
// target is locked.
func (q *CommandQueue) ProcessAll() error {
	if q.target.Locked() {
		return nil
	}
	for len(q.pending) > 0 {
		batch := q.pending
		q.pending = nil
		for _, qc := range batch {
			err := qc.cmd.Apply(q.target)
			if err == nil {
				continue
			}
			switch qc.policy {
			case PolicyPanic:
				panic(bark.AddTrace(CommandError{Err: err}))
			case PolicyLogWarn:
				log.Printf("kiln: command error (continuing): %v", bark.AddTrace(err))
			case PolicySilent:
			}
		}
	}
	return nil
}

// NewEntityOperation creates n entities sharing the same component set.
// Kept from the teacher's operation_queue.go under its original name.
type NewEntityOperation struct {
	count      int
	components []Component
}

func (op NewEntityOperation) Apply(sto Storage) error {
	_, err := sto.NewEntities(op.count, op.components...)
	return err
}

// DestroyEntityOperation removes an entity, if it is still the same
// generation it was enqueued against. Kept from operation_queue.go.
type DestroyEntityOperation struct {
	entity   Entity
	recycled int
}

func (op DestroyEntityOperation) Apply(sto Storage) error {
	if !op.entity.Valid() || op.entity.Recycled() != op.recycled {
		return nil
	}
	return sto.DestroyEntities(op.entity)
}

// TransferEntityOperation moves an entity to a different Storage. Kept
// from operation_queue.go.
type TransferEntityOperation struct {
	target   Storage
	entity   Entity
	recycled int
}

func (op TransferEntityOperation) Apply(sto Storage) error {
	if !op.entity.Valid() || op.entity.Recycled() != op.recycled {
		return nil
	}
	return sto.TransferEntities(op.target, op.entity)
}

// AddComponentOperation adds a component (with an optional value) to an
// entity. Kept from operation_queue.go.
type AddComponentOperation struct {
	entity    Entity
	recycled  int
	component Component
	value     any
	storage   Storage
}

func (op AddComponentOperation) Apply(sto Storage) error {
	if !op.entity.Valid() || op.entity.Recycled() != op.recycled {
		return nil
	}
	if op.storage != op.entity.Storage() {
		return nil
	}
	if op.value != nil {
		return op.entity.AddComponentWithValue(op.component, op.value)
	}
	return op.entity.AddComponent(op.component)
}

// RemoveComponentOperation removes a component from an entity. Kept from
// operation_queue.go.
type RemoveComponentOperation struct {
	entity    Entity
	recycled  int
	component Component
	storage   Storage
}

func (op RemoveComponentOperation) Apply(sto Storage) error {
	if !op.entity.Valid() || op.entity.Recycled() != op.recycled {
		return nil
	}
	if op.storage != sto {
		return nil
	}
	return op.entity.RemoveComponent(op.component)
}

// insertResourceOperation installs a resource via a closure, since the
// resource's type parameter can't cross the non-generic Command interface
// directly.
type insertResourceOperation struct {
	apply func(Storage) error
}

func (op insertResourceOperation) Apply(sto Storage) error { return op.apply(sto) }

// InsertResourceCommand builds a Command that installs res as the
// World's singleton of type T.
func InsertResourceCommand[T any](res *T) Command {
	return insertResourceOperation{apply: func(sto Storage) error {
		InsertResource(sto.Resources(), res)
		return nil
	}}
}

// RemoveResourceCommand builds a Command that removes the World's
// singleton of type T, if present.
func RemoveResourceCommand[T any]() Command {
	return insertResourceOperation{apply: func(sto Storage) error {
		RemoveResource[T](sto.Resources())
		return nil
	}}
}

// triggerOperation publishes an event via a closure, for the same reason
// insertResourceOperation needs one.
type triggerOperation struct {
	publish func(*Bus)
}

func (op triggerOperation) Apply(sto Storage) error {
	op.publish(sto.Bus())
	return nil
}

// TriggerCommand builds a Command that publishes event on the World's
// Bus when applied.
func TriggerCommand[T any](event T) Command {
	return triggerOperation{publish: func(bus *Bus) { Publish(bus, event) }}
}

// RunScheduleCommand builds a Command running an arbitrary closure
// against the World. This is the escape hatch for command-queue-driven
// logic this repo does not otherwise model as a typed command (no
// scheduler is in scope here), analogous to Bevy's Commands::add.
func RunScheduleCommand(fn func(*World) error) Command {
	return runScheduleOperation{fn: fn}
}

type runScheduleOperation struct {
	fn func(*World) error
}

func (op runScheduleOperation) Apply(sto Storage) error {
	w, ok := sto.(*World)
	if !ok {
		return fmt.Errorf("kiln: RunScheduleCommand requires a *World, got %T", sto)
	}
	return op.fn(w)
}
