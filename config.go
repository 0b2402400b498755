package kiln

import "github.com/TheBitDrifter/table"

// Config holds process-wide configuration applied to every archetype's
// backing table and to command-queue error handling.
var Config config = config{defaultErrorPolicy: PolicyPanic}

type config struct {
	tableEvents        table.TableEvents
	defaultErrorPolicy ErrorPolicy
}

// SetTableEvents configures the table event callbacks every new archetype
// is built with.
func (c *config) SetTableEvents(te table.TableEvents) {
	c.tableEvents = te
}

// SetDefaultErrorPolicy changes the ErrorPolicy CommandQueue.Enqueue uses
// when none is given explicitly (default PolicyPanic, matching the
// teacher's own unrecoverable-queue-error behavior in RemoveLock).
func (c *config) SetDefaultErrorPolicy(p ErrorPolicy) {
	c.defaultErrorPolicy = p
}
