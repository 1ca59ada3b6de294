package logging

// EventKey is the field every import event carries.
const EventKey = "event"

// Run lifecycle.
const (
	EventRunStart    = "run.start"
	EventRunComplete = "run.complete"
	EventRunFailed   = "run.failed"
	EventRowProcess  = "row.process"
	EventRowSkipped  = "row.skipped"
	EventRowFailed   = "row.failed"
)

// Schema validation.
const (
	EventValidationStart = "validation.start"
	EventValidationIssue = "validation.issue"
	EventValidationPass  = "validation.pass"
)

// Items.
const (
	EventContainerFound       = "container.found"
	EventContainerCreated     = "container.created"
	EventContainerWouldCreate = "container.would_create"
	EventItemCreated          = "item.created"
	EventItemWouldCreate      = "item.would_create"
	EventStatusChanged        = "status.changed"
	EventStatusWouldChange    = "status.would_change"
	EventFieldsUpdated        = "fields.updated"
	EventFieldsWouldUpdate    = "fields.would_update"
	EventFieldFailed          = "field.failed"
)

// Sub-records.
const (
	EventSubRecordCreated    = "subrecord.created"
	EventSubRecordUpdated    = "subrecord.updated"
	EventSubRecordUnchanged  = "subrecord.unchanged"
	EventSubRecordsSynced    = "subrecords.synced"
	EventSubRecordsWouldSync = "subrecords.would_sync"
	EventSubRecordSyncFailed = "subrecord.sync_failed"
)

// Clear command.
const (
	EventClearStart     = "clear.start"
	EventClearItem      = "clear.item"
	EventClearWouldItem = "clear.would_item"
	EventClearComplete  = "clear.complete"
)
