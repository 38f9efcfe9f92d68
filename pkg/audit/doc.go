// Package audit records security-relevant events: logins, lockouts,
// credential issuance and membership changes.
//
// Three Logger implementations ship with the package. DBLogger appends to the
// audit_events table, SlogLogger writes structured log lines, and NoopLogger
// discards. MultiLogger fans out to several of them.
//
//	event := audit.NewEvent(now, audit.EventTypeAdminGrant, audit.EventStatusSuccess)
//	event.ActorID = audit.Int64(ownerID)
//	event.SubjectID = audit.Int64(userID)
//	event.WorkspaceID = audit.Int64(workspaceID)
//	_ = logger.Log(ctx, event)
package audit
