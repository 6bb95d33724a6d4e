// Package storage persists per-user notification configs.
//
// Backends: memory, a directory of JSON files, SQLite (modernc, no cgo)
// and DynamoDB. All of them return model.DefaultUserConfig for users
// without a stored record.
package storage
