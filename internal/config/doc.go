// Package config loads the process configuration.
//
// Sources, in order: an optional JSON or YAML file decoded strictly
// (unknown fields are errors), the WECHAT_* and NEWSPUSH_* environment
// variables, then defaults. The result is validated as a whole and every
// problem is reported as a failure.KindConfig error.
//
// In scheduled mode Manager watches the file and publishes valid edits.
package config
