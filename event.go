package kiln

import "reflect"

// Structural events published on a World's Bus: ArchetypeCreated when an
// archetype is created, EntityInserted/EntityRemoved when an entity is
// created or destroyed, ComponentAdded/ComponentRemoved by AddComponent and
// RemoveComponent. ChunkCreated is declared but not published anywhere in
// this package.
type ArchetypeCreated struct{ Archetype ArchetypeID }
type ChunkCreated struct{ Archetype ArchetypeID }
type EntityInserted struct {
	Entity    EntityID
	Archetype ArchetypeID
}
type EntityRemoved struct {
	Entity    EntityID
	Archetype ArchetypeID
}
type ComponentAdded struct {
	Entity    EntityID
	Component ComponentId
}
type ComponentRemoved struct {
	Entity    EntityID
	Component ComponentId
}

// StaleQueryWarning is emitted when Transmute/Join is evaluated against a
// QueryState whose matched archetypes predate the world's current
// archetype generation (spec §9 Open Question: this repo surfaces the
// mismatch as a diagnostic event rather than a silent stderr warning, so
// it is observable and testable).
type StaleQueryWarning struct {
	SeenGeneration, CurrentGeneration int
}

// CommandWriter is the only way an observer handler may affect the world.
// Handlers run synchronously at the point of emission and must not mutate
// the world directly (spec §4.7); they may only enqueue further commands.
type CommandWriter struct {
	queue *CommandQueue
}

// Enqueue appends cmd to the owning World's command queue.
func (w *CommandWriter) Enqueue(cmd Command) { w.queue.Enqueue(cmd) }

type handlerEntry struct {
	predicate func(any) bool
	call      func(*CommandWriter, any)
}

// Bus is the Event/Observer Bus (C7). Subscribers register a predicate
// over an event's payload plus a handler; matching events are delivered
// synchronously at emission time, in subscription order. Grounded on
// edwinsyarief-lazyecs's eventbus.go (generic reflect.TypeFor-keyed
// handler table, zero-box publish path).
type Bus struct {
	writer   *CommandWriter
	handlers map[reflect.Type][]handlerEntry
}

func newBus(queue *CommandQueue) *Bus {
	return &Bus{
		writer:   &CommandWriter{queue: queue},
		handlers: make(map[reflect.Type][]handlerEntry),
	}
}

// Subscribe registers handler for events of type T whose payload satisfies
// predicate (a nil predicate matches every event of that type).
func Subscribe[T any](bus *Bus, predicate func(T) bool, handler func(*CommandWriter, T)) {
	t := reflect.TypeFor[T]()
	bus.handlers[t] = append(bus.handlers[t], handlerEntry{
		predicate: func(v any) bool {
			if predicate == nil {
				return true
			}
			return predicate(v.(T))
		},
		call: func(w *CommandWriter, v any) { handler(w, v.(T)) },
	})
}

// Publish delivers event to every subscriber of type T whose predicate
// matches, synchronously, in subscription order.
func Publish[T any](bus *Bus, event T) {
	t := reflect.TypeFor[T]()
	for _, h := range bus.handlers[t] {
		if h.predicate(event) {
			h.call(bus.writer, event)
		}
	}
}

// SubscriberCount returns how many handlers are registered for events of
// type T, primarily for tests.
func SubscriberCount[T any](bus *Bus) int {
	return len(bus.handlers[reflect.TypeFor[T]()])
}
