// Package config holds the single Config struct every subsystem reads
// its tunables from, following the teacher's toxcore.Options pattern: a
// plain struct plus a DefaultConfig constructor, no external
// configuration-file library.
package config
