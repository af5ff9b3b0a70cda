// Package storage holds the configuration shared by the storage backends.
//
// The PostgreSQL implementation of every store interface lives in
// storage/postgres. Redis is optional and only backs sessions and the
// login throttle.
package storage
