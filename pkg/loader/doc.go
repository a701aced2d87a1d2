// Package loader drives a load run: every enabled record is built in order
// inside one isolated build context, and a failure is contained to the record
// that caused it.
//
// Failures are classified onto the record:
//
//   - a *buildctx.LinkError sets Error and invalidates the record's source cache
//   - a *buildctx.PolicyError, or a policy refusal, sets Blocked
//   - errors wrapping several causes are logged cause by cause, then set Error
//   - anything else, panics included, sets Error
//
// Safe mode skips everything. Diagnostic mode attempts every record, never
// prompts, and writes a YAML report to <cache dir>/reports/<run id>.yaml.
package loader
