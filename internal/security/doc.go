// Package security confines vault file access to the selected directory.
package security
